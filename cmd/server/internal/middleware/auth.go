package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserKey 认证中间件注入调用者 id 使用的 context key
const ContextUserKey = "user_id"

// Claims docs 服务只关心 sub（调用者 id），令牌由认证服务签发
type Claims struct {
	jwt.RegisteredClaims
}

// ParseToken 校验 HS256 令牌并返回 claims
func ParseToken(tokenStr string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub claim")
	}
	return claims, nil
}

// Auth 在请求进入核心前校验 bearer 令牌并注入调用者 id
// WebSocket 握手无法自定义 Header，允许用 token 查询参数替代
func Auth(secret []byte, authLogger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		// 跳过不需要认证的路由：健康检查、指标、OPTIONS 请求
		if path == "/health" || path == "/metrics" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = auth[7:]
		} else if q := c.Query("token"); q != "" {
			token = q
		}
		if token == "" {
			authLogger.Warn("missing bearer token",
				"method", c.Request.Method,
				"path", path,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			authLogger.Warn("invalid token",
				"method", c.Request.Method,
				"path", path,
				"error", err,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ContextUserKey, claims.Subject)
		c.Next()
	}
}
