package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"plantdoc-server-go/src/blob"
	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/auth"
	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/history"
	"plantdoc-server-go/src/models"
	"plantdoc-server-go/src/pipeline"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const identityKey = "identity"

// HTTPService 应用HTTP服务：认证、历史、反馈和头像接口
type HTTPService struct {
	config   *configs.Config
	logger   *utils.Logger
	identity *auth.IdentityService
	store    *history.Store
	blobs    *blob.Store
	pipeline *pipeline.Pipeline
	db       *gorm.DB
}

// NewHTTPService 构造函数
func NewHTTPService(config *configs.Config, logger *utils.Logger, identity *auth.IdentityService,
	store *history.Store, blobs *blob.Store, p *pipeline.Pipeline, db *gorm.DB) *HTTPService {
	return &HTTPService{
		config:   config,
		logger:   logger,
		identity: identity,
		store:    store,
		blobs:    blobs,
		pipeline: p,
		db:       db,
	}
}

// Start 注册所有应用路由
func (s *HTTPService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/logout", s.requireAuth, s.handleLogout)
	authGroup.POST("/reset", s.handleResetRequest)
	authGroup.POST("/reset/confirm", s.handleResetConfirm)
	authGroup.POST("/password", s.requireAuth, s.handleChangePassword)

	apiGroup.POST("/diagnose", s.requireAuth, s.handleDiagnose)

	apiGroup.GET("/history", s.requireAuth, s.handleHistoryList)
	apiGroup.GET("/history/live", s.handleHistoryLive)

	apiGroup.POST("/feedback", s.requireAuth, s.handleFeedback)

	apiGroup.POST("/profile/image", s.requireAuth, s.handleProfileImageUpload)
	apiGroup.GET("/profile/image", s.requireAuth, s.handleProfileImageGet)

	s.logger.Info("应用HTTP服务路由注册完成")
	return nil
}

// requireAuth Bearer令牌中间件，把身份放进请求上下文
func (s *HTTPService) requireAuth(c *gin.Context) {
	identity, err := s.authenticate(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的认证token或token已过期"})
		return
	}
	c.Set(identityKey, identity)
	c.Next()
}

// authenticate 从Authorization头解出身份
func (s *HTTPService) authenticate(authHeader string) (auth.Identity, error) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return auth.Identity{}, errors.New("缺少Bearer令牌")
	}
	return s.identity.Authenticate(authHeader[7:])
}

// currentIdentity 取中间件放入的身份
func currentIdentity(c *gin.Context) auth.Identity {
	value, _ := c.Get(identityKey)
	identity, _ := value.(auth.Identity)
	return identity
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleRegister 注册
func (s *HTTPService) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少email或password"})
		return
	}

	identity, err := s.identity.Register(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"uid": identity.UserID, "email": identity.Email})
}

// handleLogin 登录，成功返回令牌
func (s *HTTPService) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少email或password"})
		return
	}

	identity, token, err := s.identity.SignIn(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"uid": identity.UserID, "email": identity.Email, "token": token})
}

// handleLogout 登出，广播身份事件
func (s *HTTPService) handleLogout(c *gin.Context) {
	s.identity.SignOut(currentIdentity(c))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleResetRequest 发起密码重置
// 重置令牌只写日志，邮件投递不在服务范围内
func (s *HTTPService) handleResetRequest(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少email"})
		return
	}

	token, err := s.identity.RequestPasswordReset(req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			// 不向调用方暴露账号是否存在
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info(fmt.Sprintf("密码重置令牌(待投递): %s -> %s", req.Email, token))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleResetConfirm 用重置令牌设置新密码
func (s *HTTPService) handleResetConfirm(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少token或new_password"})
		return
	}

	if err := s.identity.CompletePasswordReset(req.Token, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrResetTokenInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleChangePassword 修改密码，旧密码重新认证
func (s *HTTPService) handleChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少old_password或new_password"})
		return
	}

	if err := s.identity.ChangePassword(currentIdentity(c), req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleHistoryList 当前身份的历史记录快照
func (s *HTTPService) handleHistoryList(c *gin.Context) {
	identity := currentIdentity(c)

	records, err := s.store.List(c.Request.Context(), identity.Key())
	if err != nil {
		s.logger.Error(fmt.Sprintf("查询历史记录失败: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询历史记录失败"})
		return
	}

	items := make([]gin.H, 0, len(records))
	summary := history.Summary(records)
	for i, record := range records {
		items = append(items, gin.H{
			"index":      summary[i].Index,
			"title":      summary[i].Title,
			"detail":     history.Detail(record),
			"model":      record.Model,
			"language":   record.Language,
			"created_at": record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": items})
}

// handleFeedback 提交反馈，评论和1-5星缺一不可
func (s *HTTPService) handleFeedback(c *gin.Context) {
	var req struct {
		Comment string `json:"comment"`
		Rating  int    `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "解析失败: " + err.Error()})
		return
	}
	if req.Comment == "" || req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请提供评论和1-5的评分"})
		return
	}

	identity := currentIdentity(c)
	feedback := models.Feedback{
		OwnerIdentity: identity.Key(),
		Comment:       req.Comment,
		Rating:        req.Rating,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&feedback).Error; err != nil {
		s.logger.Error(fmt.Sprintf("保存反馈失败: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存反馈失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleProfileImageUpload 上传头像
func (s *HTTPService) handleProfileImageUpload(c *gin.Context) {
	identity := currentIdentity(c)

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少图片文件"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取图片数据失败"})
		return
	}

	path, err := s.blobs.SaveProfileImage(identity.Email, data)
	if err != nil {
		s.logger.Error(fmt.Sprintf("保存头像失败: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", identity.UserID).
		Update("profile_image", path).Error; err != nil {
		s.logger.Warn(fmt.Sprintf("更新用户头像路径失败: %v", err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

// handleProfileImageGet 获取头像文件
func (s *HTTPService) handleProfileImageGet(c *gin.Context) {
	identity := currentIdentity(c)

	path, ok := s.blobs.ProfileImagePath(identity.Email)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有上传过头像"})
		return
	}
	c.File(path)
}
