// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/pkg/log"
	"guptaai/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	ContextUser   = "user"
	ContextClaims = "claims"
)

// BearerToken 从 Authorization 请求头中提取 token，不存在时返回空字符串。
func BearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

// VerifyAccessToken 校验 token 签名、类型以及是否已登出。
func VerifyAccessToken(c *gin.Context, jwtManager *token.JWTManager, blacklist repository.TokenBlacklistRepository, tokenString string) (*token.CustomClaims, bool) {
	claims, err := jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, false
	}
	revoked, err := blacklist.Contains(c.Request.Context(), tokenString)
	if err != nil {
		// Redis 不可用时不阻断请求，签名校验已经通过
		log.Warnw("检查 token 黑名单失败", "error", err)
		return claims, true
	}
	return claims, !revoked
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, blacklist repository.TokenBlacklistRepository, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := BearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权头"})
			return
		}

		claims, ok := VerifyAccessToken(c, jwtManager, blacklist, tokenString)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		// 使用 claims 中的邮箱从数据库获取完整的用户信息
		user, err := userService.GetProfile(claims.Email)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在"})
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// OptionalAuth 在带有合法 token 时写入 claims，没有 token 时按访客继续。
// 携带了无效 token 的请求会被拒绝，避免前端误以为自己已登录。
func OptionalAuth(jwtManager *token.JWTManager, blacklist repository.TokenBlacklistRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := BearerToken(c)
		if tokenString == "" {
			c.Next()
			return
		}
		claims, ok := VerifyAccessToken(c, jwtManager, blacklist, tokenString)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// ClaimsFrom 取出认证中间件写入的 claims。
func ClaimsFrom(c *gin.Context) (*token.CustomClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}
