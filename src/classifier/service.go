package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plantdoc-server-go/src/classifier/provider"
	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/auth"
	"plantdoc-server-go/src/core/image"
	"plantdoc-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

const (
	// 最大文件大小为5MB
	MAX_FILE_SIZE = 5 * 1024 * 1024
)

// Service 植物病害分类HTTP服务
// 接收multipart图片，按model_name选择视觉模型，返回扁平JSON诊断结果
type Service struct {
	logger     *utils.Logger
	config     *configs.Config
	providers  map[string]provider.Provider        // key为对外暴露的model_name
	validators map[string]*image.SecurityValidator // 每个模型独立的图片安全配置
	authToken  *auth.AuthToken
}

// NewService 构造函数
func NewService(config *configs.Config, logger *utils.Logger) (*Service, error) {
	service := &Service{
		logger:     logger,
		config:     config,
		providers:  make(map[string]provider.Provider),
		validators: make(map[string]*image.SecurityValidator),
	}

	if config.Server.Auth.Enabled {
		service.authToken = auth.NewAuthToken(config.Server.Secret)
	}

	if err := service.initProviders(); err != nil {
		return nil, fmt.Errorf("初始化分类模型providers失败: %v", err)
	}

	return service, nil
}

// initProviders 按配置初始化所有模型提供者
func (s *Service) initProviders() error {
	if len(s.config.Classifier) == 0 {
		return fmt.Errorf("请配置至少一个CLASSIFIER模型")
	}

	for name, cfg := range s.config.Classifier {
		providerConfig := &provider.Config{
			Type:        cfg.Type,
			ModelName:   cfg.ModelName,
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			TopP:        cfg.TopP,
		}

		p, err := provider.Create(cfg.Type, providerConfig, s.logger)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("创建模型provider失败 %s: %v", name, err))
			continue
		}
		if err := p.Initialize(); err != nil {
			s.logger.Warn(fmt.Sprintf("初始化模型provider失败 %s: %v", name, err))
			continue
		}

		security := cfg.Security
		if security.MaxFileSize == 0 {
			security.MaxFileSize = MAX_FILE_SIZE
		}
		if security.MaxWidth == 0 {
			security.MaxWidth = 8192
		}
		if security.MaxHeight == 0 {
			security.MaxHeight = 8192
		}
		if security.MaxPixels == 0 {
			security.MaxPixels = 64 * 1024 * 1024
		}

		s.providers[name] = p
		s.validators[name] = image.NewSecurityValidator(&security, s.logger)
		s.logger.Info(fmt.Sprintf("分类模型 %s 初始化成功 (type=%s)", name, cfg.Type))
	}

	if len(s.providers) == 0 {
		return fmt.Errorf("没有可用的分类模型，请检查配置")
	}
	return nil
}

// Start 注册所有分类相关路由
func (s *Service) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	// 分类主接口（GET用于状态检查，POST用于图片诊断）
	apiGroup.GET("/classify", s.handleGet)
	apiGroup.POST("/classify", s.handlePost)
	apiGroup.OPTIONS("/classify", s.handleOptions)

	s.logger.Info("分类HTTP服务路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *Service) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *Service) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)
	c.String(http.StatusOK, fmt.Sprintf("分类接口运行正常，共有 %d 个可用的诊断模型", len(s.providers)))
}

// handlePost 处理POST请求（图片诊断）
func (s *Service) handlePost(c *gin.Context) {
	s.addCORSHeaders(c)

	// 可选认证：启用时要求携带本服务签发的Bearer令牌
	if s.authToken != nil {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证token"})
			return
		}
		if _, _, err := s.authToken.VerifyToken(authHeader[7:]); err != nil {
			s.logger.Warn(fmt.Sprintf("分类接口认证失败: %v", err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的认证token或token已过期"})
			return
		}
	}

	modelName := selectorParam(c, "model_name", "model")
	language := selectorParam(c, "language", "language")
	if language == "" {
		language = "english"
	}

	p, exists := s.providers[modelName]
	if !exists {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid model_name. Choose one of: %s", strings.Join(s.modelNames(), ", ")),
		})
		return
	}

	if !s.isLanguageAllowed(language) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid language: %s", language)})
		return
	}

	imageData, err := s.readImageFile(c)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("分类请求解析失败: %v", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := image.DetectFormat(imageData)
	validation := s.validators[modelName].ValidateBytes(imageData, format)
	if !validation.IsValid {
		s.logger.Warn(fmt.Sprintf("图片验证失败: %v", validation.Error))
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("图片验证失败: %v", validation.Error)})
		return
	}

	// 上传的图片落盘留档
	if path, err := s.saveImageToFile(imageData, format, c.GetHeader("Client-Id")); err != nil {
		s.logger.Warn(fmt.Sprintf("保存上传图片失败: %v", err))
	} else {
		s.logger.Debug(fmt.Sprintf("上传图片已保存: %s", path))
	}

	result, err := s.diagnose(c.Request.Context(), p, imageData, validation.Format, language)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("诊断请求处理失败: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info(fmt.Sprintf("诊断完成: model=%s language=%s disease=%s", modelName, language, result.DiseaseName))
	c.JSON(http.StatusOK, result)
}

// selectorParam 选择器同时可能出现在查询串和表单里，查询串优先
func selectorParam(c *gin.Context, queryKey, formKey string) string {
	if v := c.Query(queryKey); v != "" {
		return v
	}
	return c.PostForm(formKey)
}

// readImageFile 从multipart表单读取图片文件
func (s *Service) readImageFile(c *gin.Context) ([]byte, error) {
	if err := c.Request.ParseMultipartForm(MAX_FILE_SIZE); err != nil {
		return nil, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("缺少图片文件: %v", err)
	}
	defer file.Close()

	if header.Size > MAX_FILE_SIZE {
		return nil, fmt.Errorf("图片大小超过限制，最大允许%dMB", MAX_FILE_SIZE/1024/1024)
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取图片数据失败: %v", err)
	}
	if len(imageData) == 0 {
		return nil, fmt.Errorf("图片数据为空")
	}

	return imageData, nil
}

// saveImageToFile 把上传图片保存到uploads目录
func (s *Service) saveImageToFile(imageData []byte, format string, clientID string) (string, error) {
	name := utils.SanitizeEmailLocalPart(clientID)
	if name == "" {
		name = "anonymous"
	}
	filename := fmt.Sprintf("%s_%d.%s", name, time.Now().Unix(), format)
	path := filepath.Join("uploads", filename)

	if err := os.MkdirAll("uploads", os.ModePerm); err != nil {
		return "", fmt.Errorf("创建uploads目录失败: %v", err)
	}
	if err := os.WriteFile(path, imageData, 0644); err != nil {
		return "", fmt.Errorf("保存图片文件失败: %v", err)
	}
	return path, nil
}

// diagnose 调用视觉模型并把回复整理成结构化结果
func (s *Service) diagnose(ctx context.Context, p provider.Provider, imageData []byte, format, language string) (*DiagnosisResponse, error) {
	imageBase64 := base64.StdEncoding.EncodeToString(imageData)

	responseChan, err := p.ResponseWithImage(ctx, imageBase64, format, buildPrompt(language))
	if err != nil {
		return nil, fmt.Errorf("调用视觉模型失败: %v", err)
	}

	// 收集所有响应内容
	var text strings.Builder
	for content := range responseChan {
		text.WriteString(content)
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("视觉模型没有返回内容")
	}

	result := ExtractSections(text.String(), language)
	return result, nil
}

// modelNames 所有可用的对外模型名
func (s *Service) modelNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// isLanguageAllowed 语言必须在配置的允许列表内，未配置时默认english/urdu
func (s *Service) isLanguageAllowed(language string) bool {
	allowed := s.config.Languages
	if len(allowed) == 0 {
		allowed = []string{"english", "urdu"}
	}
	for _, l := range allowed {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// addCORSHeaders 添加CORS头
func (s *Service) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "client-id, content-type, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// Cleanup 清理资源
func (s *Service) Cleanup() error {
	for name, p := range s.providers {
		if err := p.Cleanup(); err != nil {
			s.logger.Warn(fmt.Sprintf("清理模型provider %s 失败: %v", name, err))
		}
	}
	s.logger.Info("分类服务清理完成")
	return nil
}
