package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"plantdoc-server-go/src/classifier/provider"
	"plantdoc-server-go/src/core/utils"
)

// Provider Ollama类型的视觉诊断提供者，通过HTTP API调用本地模型
type Provider struct {
	config     *provider.Config
	logger     *utils.Logger
	httpClient *http.Client
}

// chatRequest Ollama API请求结构
type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// chatMessage Ollama消息结构
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64编码的图片
}

// chatResponse Ollama API响应结构
type chatResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// init 注册ollama提供者
func init() {
	provider.Register("ollama", NewProvider)
}

// NewProvider 创建Ollama提供者
func NewProvider(config *provider.Config, logger *utils.Logger) (provider.Provider, error) {
	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Initialize 初始化，Ollama不需要API key
func (p *Provider) Initialize() error {
	if p.config.BaseURL == "" {
		p.config.BaseURL = "http://localhost:11434" // 默认Ollama地址
	}

	p.logger.Debug("Ollama 提供者初始化成功 %v", map[string]interface{}{
		"base_url": p.config.BaseURL,
		"model":    p.config.ModelName,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// ResponseWithImage 调用Ollama多模态chat接口
func (p *Provider) ResponseWithImage(ctx context.Context, imageBase64 string, format string, prompt string) (<-chan string, error) {
	responseChan := make(chan string, 10)

	go func() {
		defer close(responseChan)

		request := chatRequest{
			Model: p.config.ModelName,
			Messages: []chatMessage{
				{
					Role:    "user",
					Content: prompt,
					Images:  []string{imageBase64},
				},
			},
			Stream: false,
			Options: map[string]interface{}{
				"temperature": p.config.Temperature,
				"top_p":       p.config.TopP,
			},
		}

		payload, err := json.Marshal(request)
		if err != nil {
			p.logger.Error(fmt.Sprintf("构造Ollama请求失败: %v", err))
			return
		}

		url := p.config.BaseURL + "/api/chat"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			p.logger.Error(fmt.Sprintf("创建Ollama请求失败: %v", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			p.logger.Error(fmt.Sprintf("Ollama API调用失败: %v", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			p.logger.Error(fmt.Sprintf("Ollama API返回错误状态: %d %s", resp.StatusCode, string(body)))
			return
		}

		var response chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			p.logger.Error(fmt.Sprintf("解析Ollama响应失败: %v", err))
			return
		}

		if response.Message.Content != "" {
			responseChan <- response.Message.Content
		}
	}()

	return responseChan, nil
}
