package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials 账号或密码不正确
	ErrInvalidCredentials = errors.New("账号或密码不正确")
	// ErrEmailTaken 邮箱已被注册
	ErrEmailTaken = errors.New("邮箱已被注册")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("用户不存在")
	// ErrResetTokenInvalid 重置令牌无效或已过期
	ErrResetTokenInvalid = errors.New("重置令牌无效或已过期")
)

// EventType 身份变化事件类型
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event 身份变化事件，用于在认证/未认证界面之间切换
type Event struct {
	Type     EventType
	Identity Identity
}

// Identity 已认证身份
// UserID是稳定的不可变主键，Email仅作登录和展示属性
type Identity struct {
	UserID uint
	Email  string
}

// Key 返回用于范围查询和写入的身份键，零值身份返回空串
func (id Identity) Key() string {
	if id.UserID == 0 {
		return ""
	}
	return fmt.Sprintf("u%d", id.UserID)
}

// resetEntry 密码重置令牌
type resetEntry struct {
	userID    uint
	expiresAt time.Time
}

// IdentityService 身份服务：注册、登录、密码重置和身份事件流
type IdentityService struct {
	db     *gorm.DB
	tokens *AuthToken
	logger *utils.Logger

	mu          sync.Mutex
	resetTokens map[string]resetEntry
	watchers    []chan Event
}

// NewIdentityService 创建身份服务
func NewIdentityService(db *gorm.DB, tokens *AuthToken, logger *utils.Logger) *IdentityService {
	return &IdentityService{
		db:          db,
		tokens:      tokens,
		logger:      logger,
		resetTokens: make(map[string]resetEntry),
	}
}

// Register 注册新用户
func (s *IdentityService) Register(email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Identity{}, fmt.Errorf("无效的邮箱地址: %q", email)
	}
	if len(password) < 6 {
		return Identity{}, fmt.Errorf("密码长度不能少于6位")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("密码加密失败: %v", err)
	}

	user := models.User{Email: email, PasswordHash: string(hash)}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") {
			return Identity{}, ErrEmailTaken
		}
		return Identity{}, fmt.Errorf("创建用户失败: %v", err)
	}

	s.logger.Info(fmt.Sprintf("新用户注册成功: %s (uid=%d)", email, user.ID))
	return Identity{UserID: user.ID, Email: user.Email}, nil
}

// SignIn 登录，成功时返回身份和JWT令牌并广播登录事件
func (s *IdentityService) SignIn(email, password string) (Identity, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, "", ErrInvalidCredentials
		}
		return Identity{}, "", fmt.Errorf("查询用户失败: %v", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	identity := Identity{UserID: user.ID, Email: user.Email}
	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return Identity{}, "", fmt.Errorf("签发令牌失败: %v", err)
	}

	s.notify(Event{Type: EventSignedIn, Identity: identity})
	s.logger.Info(fmt.Sprintf("用户登录成功: %s", email))
	return identity, token, nil
}

// SignOut 登出仅广播事件，令牌本身到期失效
func (s *IdentityService) SignOut(identity Identity) {
	s.notify(Event{Type: EventSignedOut, Identity: identity})
	s.logger.Info(fmt.Sprintf("用户登出: %s", identity.Email))
}

// Authenticate 校验Bearer令牌并还原身份
func (s *IdentityService) Authenticate(tokenString string) (Identity, error) {
	userID, email, err := s.tokens.VerifyToken(tokenString)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Email: email}, nil
}

// RequestPasswordReset 生成密码重置令牌
// 邮件发送不在本服务范围内，令牌交给调用方投递
func (s *IdentityService) RequestPasswordReset(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("查询用户失败: %v", err)
	}

	token := uuid.New().String()
	s.mu.Lock()
	s.resetTokens[token] = resetEntry{userID: user.ID, expiresAt: time.Now().Add(30 * time.Minute)}
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("已生成密码重置令牌: %s", email))
	return token, nil
}

// CompletePasswordReset 用重置令牌设置新密码
func (s *IdentityService) CompletePasswordReset(token, newPassword string) error {
	s.mu.Lock()
	entry, ok := s.resetTokens[token]
	if ok {
		delete(s.resetTokens, token)
	}
	s.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return ErrResetTokenInvalid
	}

	return s.setPassword(entry.userID, newPassword)
}

// ChangePassword 修改密码，需要旧密码重新认证
func (s *IdentityService) ChangePassword(identity Identity, oldPassword, newPassword string) error {
	var user models.User
	if err := s.db.First(&user, identity.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("查询用户失败: %v", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	return s.setPassword(identity.UserID, newPassword)
}

// setPassword 更新密码哈希
func (s *IdentityService) setPassword(userID uint, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("密码长度不能少于6位")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("密码加密失败: %v", err)
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("password_hash", string(hash)).Error; err != nil {
		return fmt.Errorf("更新密码失败: %v", err)
	}

	s.logger.Info(fmt.Sprintf("用户密码已更新: uid=%d", userID))
	return nil
}

// Watch 订阅身份变化事件
func (s *IdentityService) Watch() <-chan Event {
	ch := make(chan Event, 8)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// notify 广播身份事件，接收方缓冲满时丢弃避免阻塞登录路径
func (s *IdentityService) notify(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}
