package image

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Error        error  // 错误信息
	SecurityRisk string // 安全风险描述
}

// Metrics 图片验证统计信息
type Metrics struct {
	TotalValidated    int64 // 总验证数量
	FailedValidations int64 // 验证失败次数
	SecurityIncidents int64 // 安全事件次数
}
