// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/model"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/token"
)

const (
	// ContextUserKey 是 gin 上下文中保存 *model.User 的键。
	ContextUserKey = "user"
	// ContextClaimsKey 是 gin 上下文中保存 *token.CustomClaims 的键。
	ContextClaimsKey = "claims"

	// TokenCookie 是浏览器端保存 access token 的 cookie 名称。
	TokenCookie = "access_token"
)

// RevocationChecker 查询 token 是否已被注销。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, claims *token.CustomClaims) (bool, error)
}

// ProfileLoader 根据用户 ID 加载用户。
type ProfileLoader interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头（或 access_token cookie）中提取 token，验证其有效性与注销状态，
// 并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, revocations RevocationChecker, users ProfileLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "请求未包含有效的授权信息")
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "无效或已过期的 token")
			return
		}

		revoked, err := revocations.IsRevoked(c.Request.Context(), claims)
		if err != nil {
			log.Errorf("[AuthMiddleware] 查询 token 黑名单失败: %v", err)
			abortJSON(c, http.StatusServiceUnavailable, "认证服务暂时不可用")
			return
		}
		if revoked {
			abortJSON(c, http.StatusUnauthorized, "token 已注销")
			return
		}

		// 使用 claims 中的用户 ID 从数据库获取完整的用户信息
		user, err := users.GetProfile(c.Request.Context(), claims.UserID)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "用户不存在")
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		return t, t != ""
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// CurrentUser 返回 AuthMiddleware 存入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// CurrentClaims 返回 AuthMiddleware 存入的 claims。
func CurrentClaims(c *gin.Context) (*token.CustomClaims, bool) {
	v, ok := c.Get(ContextClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}
