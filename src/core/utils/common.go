package utils

import (
	"strings"
)

// SanitizeEmailLocalPart 从邮箱地址生成文件系统安全的名字
// 去掉@及其后的域名部分，非字母数字字符全部替换为下划线
func SanitizeEmailLocalPart(email string) string {
	local := email
	if idx := strings.Index(email, "@"); idx >= 0 {
		local = email[:idx]
	}

	var b strings.Builder
	b.Grow(len(local))
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
