package openai

import (
	"context"
	"fmt"

	"plantdoc-server-go/src/classifier/provider"
	"plantdoc-server-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

// Provider OpenAI类型的视觉诊断提供者
type Provider struct {
	config *provider.Config
	logger *utils.Logger
	client *openai.Client
}

// init 注册openai提供者
func init() {
	provider.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI提供者
func NewProvider(config *provider.Config, logger *utils.Logger) (provider.Provider, error) {
	return &Provider{
		config: config,
		logger: logger,
	}, nil
}

// Initialize 初始化客户端
func (p *Provider) Initialize() error {
	if p.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(p.config.APIKey)
	if p.config.BaseURL != "" {
		clientConfig.BaseURL = p.config.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)

	p.logger.Debug("OpenAI 提供者初始化成功 %v", map[string]interface{}{
		"model_name": p.config.ModelName,
		"base_url":   p.config.BaseURL,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// ResponseWithImage 调用OpenAI Vision API
func (p *Provider) ResponseWithImage(ctx context.Context, imageBase64 string, format string, prompt string) (<-chan string, error) {
	responseChan := make(chan string, 10)

	go func() {
		defer close(responseChan)

		// 构建包含图片的多模态消息
		visionMessage := openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: prompt,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:image/%s;base64,%s", format, imageBase64),
					},
				},
			},
		}

		stream, err := p.client.CreateChatCompletionStream(
			ctx,
			openai.ChatCompletionRequest{
				Model:       p.config.ModelName,
				Messages:    []openai.ChatCompletionMessage{visionMessage},
				Stream:      true,
				MaxTokens:   p.config.MaxTokens,
				Temperature: float32(p.config.Temperature),
				TopP:        float32(p.config.TopP),
			},
		)
		if err != nil {
			p.logger.Error(fmt.Sprintf("OpenAI Vision API调用失败: %v", err))
			return
		}
		defer stream.Close()

		p.logger.Info("OpenAI Vision API调用成功，开始接收流式回复")

		for {
			response, err := stream.Recv()
			if err != nil {
				break
			}
			if len(response.Choices) > 0 {
				content := response.Choices[0].Delta.Content
				if content != "" {
					responseChan <- content
				}
			}
		}
	}()

	return responseChan, nil
}
