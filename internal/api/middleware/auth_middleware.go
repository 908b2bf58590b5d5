package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campushire/internal/auth"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
}

// AuthMiddleware 校验访问令牌并将 userID 与 role 注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		rawToken := parts[1]
		if strings.TrimSpace(rawToken) == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != "access" {
			abortUnauthorized(c)
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole 限制接口只允许指定角色访问。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := RoleFromContext(c)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
	}
}

// RoleFromContext 返回上下文中的角色，未设置时为空串。
func RoleFromContext(c *gin.Context) string {
	if value, ok := c.Get("role"); ok {
		if role, ok := value.(string); ok {
			return role
		}
	}
	return ""
}
