package provider

import (
	"context"
	"fmt"
	"sync"

	"plantdoc-server-go/src/core/utils"
)

// Config 视觉模型配置
type Config struct {
	Type        string  // API类型：openai / ollama
	ModelName   string  // 实际调用的模型名称
	BaseURL     string  // API地址
	APIKey      string  // API密钥
	Temperature float64 // 温度参数
	MaxTokens   int     // 最大令牌数
	TopP        float64 // TopP参数
}

// Provider 视觉诊断模型提供者
type Provider interface {
	Initialize() error
	// ResponseWithImage 带图提问，流式返回文本片段
	ResponseWithImage(ctx context.Context, imageBase64 string, format string, prompt string) (<-chan string, error)
	Cleanup() error
}

// Factory 提供者工厂函数
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register 注册提供者类型
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Create 按类型创建提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factoriesMu.RLock()
	factory, exists := factories[name]
	factoriesMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("不支持的模型提供者类型: %s", name)
	}
	return factory(config, logger)
}
