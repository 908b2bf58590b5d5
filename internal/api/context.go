package api

import (
	"github.com/gin-gonic/gin"

	"campushire/internal/api/middleware"
	"campushire/internal/placement"
)

// userIDFromContext 取出鉴权中间件写入的用户 ID。
func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

// actorFromContext 把鉴权上下文转换为流水线操作者身份。
func actorFromContext(c *gin.Context) (placement.Actor, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return placement.Actor{}, false
	}
	return placement.Actor{
		ID:   userID,
		Role: middleware.RoleFromContext(c),
	}, true
}
