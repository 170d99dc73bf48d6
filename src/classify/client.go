package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"

	"plantdoc-server-go/src/capture"
	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/utils"
)

var (
	// ErrInvalidRequest 选择器缺失或停留在默认值，提交前直接拒绝
	ErrInvalidRequest = errors.New("请求参数不完整")
	// ErrImageRead 本地图片读取失败
	ErrImageRead = errors.New("读取图片失败")
	// ErrNetworkUnavailable 网络不可达或传输中断
	ErrNetworkUnavailable = errors.New("无法连接分类服务")
)

// unselected 下拉框未选择时的占位值
const unselected = "select"

// ClassificationError 分类服务返回了非2xx状态码
type ClassificationError struct {
	StatusCode int
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("分类失败: 服务返回状态码 %d", e.StatusCode)
}

// Request 一次诊断请求，仅在客户端存在
// 由调用方在确认图片后创建，提交一次后即丢弃，不自动重试
type Request struct {
	Handle   *capture.Handle // 本地图片句柄
	Model    string          // 模型选择器
	Language string          // 语言选择器
}

// Client 提交客户端：打包图片和选择器发给远程分类接口
// 不做内部去重，调用方负责在请求未返回前禁止重复提交
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *utils.Logger
}

// NewClient 创建提交客户端
// 不额外配置超时，沿用传输层默认行为
func NewClient(config *configs.Config, logger *utils.Logger) *Client {
	return &Client{
		endpoint:   config.Classify.Endpoint,
		token:      config.Classify.Token,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Submit 提交一次诊断请求
// 参数校验失败时不产生任何网络活动
func (c *Client) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	imageData, err := os.ReadFile(req.Handle.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	if len(imageData) == 0 {
		return nil, fmt.Errorf("%w: 图片内容为空", ErrImageRead)
	}

	body, contentType, err := buildMultipartBody(imageData, req.Model, req.Language)
	if err != nil {
		return nil, fmt.Errorf("构造请求体失败: %v", err)
	}

	// 选择器同时出现在查询串和表单中，保持与既有接口的兼容
	requestURL := fmt.Sprintf("%s?%s", c.endpoint, url.Values{
		"model_name": {req.Model},
		"language":   {req.Language},
	}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("分类请求传输失败: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn(fmt.Sprintf("分类服务返回错误状态: %d", resp.StatusCode))
		return nil, &ClassificationError{StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应失败: %v", ErrNetworkUnavailable, err)
	}

	result := ParseResult(respBody)
	if result.IsRaw() {
		c.logger.Info("分类服务返回了非JSON响应，按原始文本处理")
	}
	return result, nil
}

// validate 两个选择器都必须是用户显式选过的值
func validate(req Request) error {
	if req.Handle == nil || req.Handle.Path == "" {
		return fmt.Errorf("%w: 缺少图片", ErrInvalidRequest)
	}
	if req.Model == "" || req.Model == unselected {
		return fmt.Errorf("%w: 未选择模型", ErrInvalidRequest)
	}
	if req.Language == "" || req.Language == unselected {
		return fmt.Errorf("%w: 未选择语言", ErrInvalidRequest)
	}
	return nil
}

// buildMultipartBody 构造multipart请求体：JPEG文件部分加两个文本字段
func buildMultipartBody(imageData []byte, model, language string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", err
	}

	if err := writer.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("language", language); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}
