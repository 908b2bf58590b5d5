package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"campushire/internal/api/middleware"
	"campushire/internal/database"
	"campushire/internal/placement"
)

// AdminHandler 处理管理员的就业办审批与文件审核操作。
type AdminHandler struct {
	db     *gorm.DB
	svc    *placement.Service
	logger *slog.Logger
}

// NewAdminHandler 构造管理员处理器。
func NewAdminHandler(db *gorm.DB, svc *placement.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, svc: svc, logger: logger}
}

// ListOfficers 列出全部就业办账号，可按状态过滤。
func (h *AdminHandler) ListOfficers(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var officers []database.PlacementOfficer
	if err := query.Find(&officers).Error; err != nil {
		middleware.LoggerFromContext(c).Error("list officers failed", slog.Any("error", err))
		Internal(c, "failed to list officers")
		return
	}

	items := make([]gin.H, 0, len(officers))
	for _, officer := range officers {
		items = append(items, gin.H{
			"id":          officer.ID,
			"name":        officer.Name,
			"email":       officer.Email,
			"collegeName": officer.CollegeName,
			"status":      officer.Status,
			"createdAt":   officer.CreatedAt,
		})
	}
	Success(c, "officers listed", gin.H{"officers": items})
}

// ApproveOfficer 审批通过就业办账号。
func (h *AdminHandler) ApproveOfficer(c *gin.Context) {
	h.reviewOfficer(c, database.StatusApproved, "officer approved")
}

// RejectOfficer 驳回就业办账号。
func (h *AdminHandler) RejectOfficer(c *gin.Context) {
	h.reviewOfficer(c, database.StatusRejected, "officer rejected")
}

func (h *AdminHandler) reviewOfficer(c *gin.Context, status, message string) {
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var officer database.PlacementOfficer
	if err := h.db.WithContext(ctx).First(&officer, officerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "officer not found")
			return
		}
		middleware.LoggerFromContext(c).Error("officer lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if officer.Status != database.StatusPending {
		Conflict(c, "officer already reviewed")
		return
	}

	res := h.db.WithContext(ctx).Model(&database.PlacementOfficer{}).
		Where("id = ? AND status = ?", officer.ID, database.StatusPending).
		Update("status", status)
	if res.Error != nil {
		middleware.LoggerFromContext(c).Error("review officer failed", slog.Any("error", res.Error))
		Internal(c, "internal error")
		return
	}
	if res.RowsAffected == 0 {
		Conflict(c, "officer already reviewed")
		return
	}
	Success(c, message, nil)
}

// ListOfficerFiles 列出指定就业办名下的文件。
func (h *AdminHandler) ListOfficerFiles(c *gin.Context) {
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	files, err := h.svc.FilesForOfficer(c.Request.Context(), officerID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list officer files failed", slog.Any("error", err))
		Internal(c, "failed to list files")
		return
	}

	items := make([]gin.H, 0, len(files))
	for i := range files {
		items = append(items, fileView(&files[i]))
	}
	Success(c, "files listed", gin.H{"files": items})
}

// ViewFileRows 返回指定文件的规范化行。
func (h *AdminHandler) ViewFileRows(c *gin.Context) {
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	fileID, ok := parseIDParam(c, "fileId")
	if !ok {
		return
	}

	rows, err := h.svc.FileRows(c.Request.Context(), officerID, fileID)
	if err != nil {
		switch {
		case errors.Is(err, placement.ErrFileNotFound):
			NotFound(c, "file not found")
		case errors.Is(err, placement.ErrNoRoster):
			NotFound(c, "no roster data available")
		default:
			middleware.LoggerFromContext(c).Error("load rows failed", slog.Any("error", err))
			Internal(c, "failed to load rows")
		}
		return
	}
	Success(c, "rows listed", gin.H{"rows": rows})
}

// ApproveFile 审批通过 pending 文件。
func (h *AdminHandler) ApproveFile(c *gin.Context) {
	h.transitionFile(c, h.svc.Approve, "file approved")
}

// RejectFile 驳回 pending/approved 文件（终态）。
func (h *AdminHandler) RejectFile(c *gin.Context) {
	h.transitionFile(c, h.svc.Reject, "file rejected")
}

func (h *AdminHandler) transitionFile(c *gin.Context, op func(ctx context.Context, actor placement.Actor, officerID, fileID uint) error, message string) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	fileID, ok := parseIDParam(c, "fileId")
	if !ok {
		return
	}

	if err := op(c.Request.Context(), actor, officerID, fileID); err != nil {
		switch {
		case errors.Is(err, placement.ErrFileNotFound):
			NotFound(c, "file not found")
		case errors.Is(err, placement.ErrPermissionDenied):
			Forbidden(c, "permission denied")
		case errors.Is(err, placement.ErrInvalidTransition):
			Conflict(c, "invalid status transition")
		default:
			middleware.LoggerFromContext(c).Error("file transition failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}
	Success(c, message, nil)
}

// ProcessFile 管理员触发任意文件的候选人开通。
func (h *AdminHandler) ProcessFile(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	fileID, ok := parseIDParam(c, "fileId")
	if !ok {
		return
	}

	replyProcess(c, h.svc, actor, officerID, fileID)
}

// UpdateFileCredits 管理员整体改写指定文件的 credits。
func (h *AdminHandler) UpdateFileCredits(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	fileID, ok := parseIDParam(c, "fileId")
	if !ok {
		return
	}

	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "credits is required")
		return
	}

	affected, err := h.svc.UpdateFileCredits(c.Request.Context(), actor, officerID, fileID, *req.Credits)
	if err != nil {
		replyCreditsError(c, err)
		return
	}
	Success(c, "credits updated", gin.H{"candidatesUpdated": affected})
}

// BulkUpdateCredits 管理员对就业办名下全部文件整体改写 credits。
func (h *AdminHandler) BulkUpdateCredits(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	officerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "credits is required")
		return
	}

	affected, err := h.svc.BulkUpdateCredits(c.Request.Context(), actor, officerID, *req.Credits)
	if err != nil {
		replyCreditsError(c, err)
		return
	}
	Success(c, "credits updated", gin.H{"candidatesUpdated": affected})
}
