package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP     string `yaml:"ip"`
		Port   int    `yaml:"port"`
		Secret string `yaml:"secret"` // JWT签名密钥
		Auth   struct {
			Enabled bool `yaml:"enabled"` // 是否要求classify接口携带token
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	// Classify 远程分类接口配置（提交客户端使用）
	Classify struct {
		Endpoint string `yaml:"endpoint"` // 例如 http://127.0.0.1:8080/api/classify
		Token    string `yaml:"token"`    // 可选，非空时提交请求携带Bearer认证
	} `yaml:"classify"`

	// Capture 图片采集配置
	Capture struct {
		CameraCommand string `yaml:"camera_command"` // 拍照命令，{output}会被替换为目标文件路径
		SpoolDir      string `yaml:"spool_dir"`      // 拍照输出目录
		LibraryDir    string `yaml:"library_dir"`    // 相册目录
	} `yaml:"capture"`

	// Blob 头像文件存储配置
	Blob struct {
		ProfileDir string `yaml:"profile_dir"` // 头像存储目录
	} `yaml:"blob"`

	// SelectedModule 当前默认启用的模块，例如 {"CLASSIFIER": "gpt-3.5-turbo"}
	SelectedModule map[string]string `yaml:"selected_module"`

	// Classifier 分类服务的模型配置，key为对外暴露的model_name
	Classifier map[string]ClassifierConfig `yaml:"CLASSIFIER"`

	// Languages 分类结果允许的输出语言
	Languages []string `yaml:"languages"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size"`      // 最大文件大小（字节）
	MaxPixels         int64    `yaml:"max_pixels"`         // 最大像素数量
	MaxWidth          int      `yaml:"max_width"`          // 最大宽度
	MaxHeight         int      `yaml:"max_height"`         // 最大高度
	AllowedFormats    []string `yaml:"allowed_formats"`    // 允许的图片格式
	EnableDeepScan    bool     `yaml:"enable_deep_scan"`   // 启用深度安全扫描
	ValidationTimeout string   `yaml:"validation_timeout"` // 验证超时时间
}

// ClassifierConfig 分类模型配置结构（视觉语言模型）
type ClassifierConfig struct {
	Type        string                 `yaml:"type"`        // API类型：openai / ollama
	ModelName   string                 `yaml:"model_name"`  // 实际调用的模型名称
	BaseURL     string                 `yaml:"url"`         // API地址
	APIKey      string                 `yaml:"api_key"`     // API密钥
	Temperature float64                `yaml:"temperature"` // 温度参数
	MaxTokens   int                    `yaml:"max_tokens"`  // 最大令牌数
	TopP        float64                `yaml:"top_p"`       // TopP参数
	Security    SecurityConfig         `yaml:"security"`    // 图片安全配置
	Extra       map[string]interface{} `yaml:",inline"`     // 额外配置
}

// LoadConfig 从文件加载配置,默认使用.config.yaml
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	return config, path, nil
}
