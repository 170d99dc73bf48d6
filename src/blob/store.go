package blob

import (
	"fmt"
	"os"
	"path/filepath"

	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/image"
	"plantdoc-server-go/src/core/utils"
)

// Store 头像文件存储
// 文件名由邮箱local-part确定性生成，同一用户重复上传直接覆盖
// 头像不属于诊断流程，只服务于资料页
type Store struct {
	dir    string
	logger *utils.Logger
}

// NewStore 创建文件存储
func NewStore(config *configs.Config, logger *utils.Logger) (*Store, error) {
	dir := config.Blob.ProfileDir
	if dir == "" {
		dir = filepath.Join("uploads", "profile_images")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建头像目录失败: %v", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// SaveProfileImage 保存头像，返回落盘路径
func (s *Store) SaveProfileImage(email string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("头像数据为空")
	}

	name := utils.SanitizeEmailLocalPart(email)
	if name == "" {
		return "", fmt.Errorf("无法从邮箱生成文件名: %q", email)
	}

	// 同名不同格式的旧头像先清掉，避免读取时命中陈旧文件
	for _, old := range s.candidates(name) {
		if old != "" {
			os.Remove(old)
		}
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s", name, image.DetectFormat(data)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("保存头像文件失败: %v", err)
	}

	s.logger.Info(fmt.Sprintf("头像已保存: %s", path))
	return path, nil
}

// ProfileImagePath 查找该邮箱对应的头像文件
func (s *Store) ProfileImagePath(email string) (string, bool) {
	name := utils.SanitizeEmailLocalPart(email)
	if name == "" {
		return "", false
	}
	for _, path := range s.candidates(name) {
		if path != "" {
			return path, true
		}
	}
	return "", false
}

// candidates 按支持的格式枚举可能存在的头像文件
func (s *Store) candidates(name string) []string {
	paths := make([]string, 0, 5)
	for _, ext := range []string{"jpeg", "png", "gif", "bmp", "webp"} {
		path := filepath.Join(s.dir, fmt.Sprintf("%s.%s", name, ext))
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}
