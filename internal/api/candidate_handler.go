package api

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"campushire/internal/api/middleware"
	"campushire/internal/placement"
)

// CandidateHandler 处理候选人自助查询。
type CandidateHandler struct {
	svc    *placement.Service
	logger *slog.Logger
}

// NewCandidateHandler 构造候选人处理器。
func NewCandidateHandler(svc *placement.Service, logger *slog.Logger) *CandidateHandler {
	return &CandidateHandler{svc: svc, logger: logger}
}

// Me 返回当前候选人的账号信息与 credit 余额。
func (h *CandidateHandler) Me(c *gin.Context) {
	candidateID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	candidate, err := h.svc.CandidateByID(c.Request.Context(), candidateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "candidate not found")
			return
		}
		middleware.LoggerFromContext(c).Error("load candidate failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	Success(c, "candidate profile", gin.H{
		"candidate": gin.H{
			"id":          candidate.ID,
			"name":        candidate.Name,
			"email":       candidate.Email,
			"collegeName": candidate.CollegeName,
			"course":      candidate.Course,
			"credits":     candidate.Credits,
		},
	})
}
