package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 所有业务响应统一携带 success 与 message 字段，
// 额外数据通过 extra 合并进顶层。

func Success(c *gin.Context, message string, extra gin.H) {
	payload := gin.H{"success": true, "message": message}
	for k, v := range extra {
		payload[k] = v
	}
	c.JSON(http.StatusOK, payload)
}

func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Fail(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Fail(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Fail(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Fail(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Fail(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Fail(c, http.StatusInternalServerError, msg) }
