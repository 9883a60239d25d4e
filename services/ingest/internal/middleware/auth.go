package middleware

import (
	"errors"
	"strings"

	"meetinggenius/packages/response"
	"meetinggenius/services/ingest/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("未提供认证令牌")
	ErrTokenFormat  = errors.New("认证格式错误")
	ErrInvalidToken = errors.New("无效的认证令牌")
	ErrExpiredToken = errors.New("认证令牌已过期")
)

// Claims JWT 载荷，与认证服务签发的 access token 一致
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// tokenFromRequest 优先读取 access_token cookie，其次 Authorization: Bearer
func tokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrNoToken
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", ErrTokenFormat
	}
	return token, nil
}

// ParseToken 校验 HMAC 签名与有效期
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// JWTAuth JWT 认证中间件。secret 为空时不做认证
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token, err := tokenFromRequest(c)
		if err == nil {
			var claims *Claims
			if claims, err = ParseToken(token, secret); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("username", claims.Username)
				c.Set("user_role", claims.Role)
				c.Next()
				return
			}
		}

		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.Unauthorized),
			response.WithErrorMessage(err.Error()),
		))
		c.Abort()
	}
}
