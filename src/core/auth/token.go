package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthToken JWT令牌工具
type AuthToken struct {
	secretKey []byte
}

func NewAuthToken(secretKey string) *AuthToken {
	// 添加验证，确保密钥不为空
	if secretKey == "" {
		fmt.Println("Error! secret key cannot be empty")
	}
	return &AuthToken{
		secretKey: []byte(secretKey),
	}
}

// GenerateToken 为用户签发令牌，uid是稳定身份标识，email仅作展示
func (at *AuthToken) GenerateToken(userID uint, email string) (string, error) {
	// 设置过期时间为24小时后
	expireTime := time.Now().Add(24 * time.Hour)

	// 创建claims
	claims := jwt.MapClaims{
		"uid":   userID,
		"email": email,
		"exp":   expireTime.Unix(),
		"iat":   time.Now().Unix(), // 添加签发时间
	}

	// 创建token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// 使用密钥签名
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken 校验令牌并返回用户ID和邮箱
func (at *AuthToken) VerifyToken(tokenString string) (uint, string, error) {
	if at == nil {
		return 0, "", errors.New("AuthToken instance is nil")
	}

	if at.secretKey == nil {
		return 0, "", errors.New("secret key is not initialized")
	}

	// 解析token
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	})

	if err != nil {
		return 0, "", fmt.Errorf("failed to parse token: %w", err)
	}

	// 验证token是否有效
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	// 获取claims
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("invalid claims")
	}

	// JSON数字解析为float64
	uidValue, ok := claims["uid"].(float64)
	if !ok {
		return 0, "", errors.New("invalid uid in claims")
	}

	email, ok := claims["email"].(string)
	if !ok {
		return 0, "", errors.New("invalid email in claims")
	}

	return uint(uidValue), email, nil
}
