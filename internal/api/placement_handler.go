package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campushire/internal/api/middleware"
	"campushire/internal/database"
	"campushire/internal/errcode"
	"campushire/internal/ingest"
	"campushire/internal/placement"
	"campushire/internal/storage"
)

// rosterArchive 抽象对象存储操作，便于测试替换。*storage.Client 满足该接口。
type rosterArchive interface {
	ArchiveRoster(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// PlacementHandler 处理就业办的名册上传、查看与处理操作。
type PlacementHandler struct {
	svc       *placement.Service
	storage   rosterArchive
	logger    *slog.Logger
	maxBytes  int64
	clamdAddr string
}

// NewPlacementHandler 构造就业办处理器。clamdAddr 为空时跳过病毒扫描。
func NewPlacementHandler(svc *placement.Service, storageClient rosterArchive, logger *slog.Logger, maxBytes int64, clamdAddr string) *PlacementHandler {
	if maxBytes <= 0 {
		maxBytes = ingest.MaxFileBytes
	}
	return &PlacementHandler{
		svc:       svc,
		storage:   storageClient,
		logger:    logger,
		maxBytes:  maxBytes,
		clamdAddr: clamdAddr,
	}
}

// Upload 接收一份学生名册：校验大小与格式、可选病毒扫描、
// 归档原始文件到对象存储，然后写入 pending 生命周期记录。
// 任何一步失败都不会留下部分状态。
func (h *PlacementHandler) Upload(c *gin.Context) {
	officerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("officer_id", uint64(officerID)))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	customName := c.PostForm("customFileName")
	if len([]rune(customName)) > placement.MaxCustomNameLen {
		BadRequest(c, fmt.Sprintf("custom file name exceeds %d characters", placement.MaxCustomNameLen))
		return
	}
	if fileHeader.Size > h.maxBytes {
		Fail(c, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	reader, err := fileHeader.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(reader, h.maxBytes+1))
	reader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(raw)) > h.maxBytes {
		Fail(c, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	if h.clamdAddr != "" {
		if ok := h.scanClean(c, logger, raw); !ok {
			return
		}
	}

	contentType := fileHeader.Header.Get("Content-Type")

	// 解析失败视为格式非法，拒绝整个上传。
	sheet, err := ingest.Parse(bytes.NewReader(raw), fileHeader.Filename, contentType, h.maxBytes)
	if err != nil {
		if errors.Is(err, ingest.ErrTooLarge) {
			Fail(c, http.StatusRequestEntityTooLarge, "file exceeds size limit")
			return
		}
		BadRequest(c, "unsupported or unreadable roster format")
		return
	}

	objectKey := fmt.Sprintf("placement-rosters/%d/%s%s", officerID, uuid.NewString(), filepath.Ext(fileHeader.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.storage.ArchiveRoster(c.Request.Context(), objectKey, bytes.NewReader(raw), int64(len(raw)), contentType); err != nil {
		logger.Error("archive roster failed", slog.Any("error", err))
		Internal(c, "failed to archive file")
		return
	}

	file, err := h.svc.RegisterUpload(c.Request.Context(), officerID, fileHeader.Filename, customName, objectKey)
	if err != nil {
		// 归档成功但记录失败：回收对象，避免悬挂归档。
		if delErr := h.storage.DeleteObject(c.Request.Context(), objectKey); delErr != nil {
			logger.Warn("cleanup archived roster failed", slog.Any("error", delErr))
		}
		switch {
		case errors.Is(err, placement.ErrOfficerNotApproved):
			Forbidden(c, "account not approved")
		case errors.Is(err, placement.ErrOfficerNotFound):
			Unauthorized(c)
		case errors.Is(err, placement.ErrCustomNameTooLong):
			BadRequest(c, err.Error())
		default:
			logger.Error("register upload failed", slog.Any("error", err))
			Internal(c, "failed to register upload")
		}
		return
	}

	logger.Info("roster uploaded",
		slog.Uint64("file_id", uint64(file.ID)),
		slog.Int("rows", len(sheet.Rows)),
	)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "file uploaded, awaiting review",
		"file":    fileView(file),
		"rows":    len(sheet.Rows),
	})
}

// scanClean 通过 clamd 扫描文件内容，发现病毒或扫描失败时写响应并返回 false。
func (h *PlacementHandler) scanClean(c *gin.Context, logger *slog.Logger, raw []byte) bool {
	clamdClient := clamd.NewClamd(h.clamdAddr)

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(bytes.NewReader(raw), abortChan)
	if err != nil {
		logger.Error("scan file failed", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return false
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			logger.Warn("malicious roster rejected", slog.String("status", result.Status))
			BadRequest(c, "malicious file detected")
			return false
		}
	}
	return true
}

// ListFiles 返回就业办名下全部文件，按上传时间倒序。
func (h *PlacementHandler) ListFiles(c *gin.Context) {
	officerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	files, err := h.svc.FilesForOfficer(c.Request.Context(), officerID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list files failed", slog.Any("error", err))
		Internal(c, "failed to list files")
		return
	}

	items := make([]gin.H, 0, len(files))
	for i := range files {
		items = append(items, fileView(&files[i]))
	}
	Success(c, "files listed", gin.H{"files": items})
}

// ViewRows 返回文件的规范化行，与处理状态无关。
func (h *PlacementHandler) ViewRows(c *gin.Context) {
	officerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	rows, err := h.svc.FileRows(c.Request.Context(), officerID, fileID)
	if err != nil {
		h.replyRowsError(c, err)
		return
	}
	Success(c, "rows listed", gin.H{"rows": rows})
}

// StoreStructuredData 显式持久化当前解析结果到文件记录。
func (h *PlacementHandler) StoreStructuredData(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	count, err := h.svc.StoreStructuredData(c.Request.Context(), actor, actor.ID, fileID)
	if err != nil {
		h.replyRowsError(c, err)
		return
	}
	Success(c, "structured data stored", gin.H{"rows": count})
}

type setCustomNameRequest struct {
	CustomFileName string `json:"customFileName" binding:"required"`
}

// SetCustomName 更新文件显示别名。
func (h *PlacementHandler) SetCustomName(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req setCustomNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.svc.SetCustomName(c.Request.Context(), actor, actor.ID, fileID, req.CustomFileName); err != nil {
		switch {
		case errors.Is(err, placement.ErrCustomNameTooLong):
			BadRequest(c, err.Error())
		case errors.Is(err, placement.ErrFileNotFound):
			NotFound(c, "file not found")
		case errors.Is(err, placement.ErrPermissionDenied):
			Forbidden(c, "permission denied")
		default:
			middleware.LoggerFromContext(c).Error("set custom name failed", slog.Any("error", err))
			Internal(c, "failed to rename file")
		}
		return
	}
	Success(c, "file renamed", nil)
}

// Process 触发候选人开通。就业办只能处理自己名下的文件。
func (h *PlacementHandler) Process(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	replyProcess(c, h.svc, actor, actor.ID, fileID)
}

type creditsRequest struct {
	Credits *int `json:"credits" binding:"required"`
}

// UpdateFileCredits 整体改写单个文件的 credits 并覆盖其候选人余额。
func (h *PlacementHandler) UpdateFileCredits(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "credits is required")
		return
	}

	affected, err := h.svc.UpdateFileCredits(c.Request.Context(), actor, actor.ID, fileID, *req.Credits)
	if err != nil {
		replyCreditsError(c, err)
		return
	}
	Success(c, "credits updated", gin.H{"candidatesUpdated": affected})
}

// BulkUpdateCredits 对名下每个文件执行整体改写。
func (h *PlacementHandler) BulkUpdateCredits(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "credits is required")
		return
	}

	affected, err := h.svc.BulkUpdateCredits(c.Request.Context(), actor, actor.ID, *req.Credits)
	if err != nil {
		replyCreditsError(c, err)
		return
	}
	Success(c, "credits updated", gin.H{"candidatesUpdated": affected})
}

// DownloadOriginal 返回归档原始文件的限时下载链接。
func (h *PlacementHandler) DownloadOriginal(c *gin.Context) {
	officerID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	files, err := h.svc.FilesForOfficer(c.Request.Context(), officerID)
	if err != nil {
		Internal(c, "failed to look up file")
		return
	}
	var objectKey string
	for i := range files {
		if files[i].ID == fileID {
			objectKey = files[i].ObjectKey
			break
		}
	}
	if objectKey == "" {
		NotFound(c, "file not found")
		return
	}

	url, err := h.storage.GeneratePresignedURL(c.Request.Context(), objectKey, 10*time.Minute)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "original file no longer archived")
			return
		}
		middleware.LoggerFromContext(c).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}
	Success(c, "download link generated", gin.H{"url": url})
}

func (h *PlacementHandler) replyRowsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, placement.ErrFileNotFound):
		NotFound(c, "file not found")
	case errors.Is(err, placement.ErrPermissionDenied):
		Forbidden(c, "permission denied")
	case errors.Is(err, placement.ErrNoRoster):
		NotFound(c, "no roster data available")
	default:
		middleware.LoggerFromContext(c).Error("load rows failed", slog.Any("error", err))
		Internal(c, "failed to load rows")
	}
}

// replyProcess 执行开通并把结果/错误翻译成统一响应，供就业办与管理员路由共用。
func replyProcess(c *gin.Context, svc *placement.Service, actor placement.Actor, officerID, fileID uint) {
	result, err := svc.Process(c.Request.Context(), actor, officerID, fileID)
	if err != nil {
		switch {
		case errors.Is(err, placement.ErrFileNotFound):
			NotFound(c, "file not found")
		case errors.Is(err, placement.ErrPermissionDenied):
			Forbidden(c, "permission denied")
		case errors.Is(err, placement.ErrInvalidTransition):
			Conflict(c, "file cannot be processed from its current status")
		case errors.Is(err, placement.ErrNoRoster):
			NotFound(c, "no roster data available")
		case errors.Is(err, placement.ErrProvisioningFailed):
			middleware.LoggerFromContext(c).Error("provisioning failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "provisioning failed, no accounts were created; retry later",
				"code":    errcode.SystemError,
			})
		default:
			middleware.LoggerFromContext(c).Error("process file failed", slog.Any("error", err))
			Internal(c, "failed to process file")
		}
		return
	}

	message := "file processed"
	if result.AlreadyProcessed {
		message = "file already processed, no new accounts created"
	}
	code := errcode.OK
	if len(result.Errors) > 0 {
		code = errcode.PartialImport
	}
	Success(c, message, gin.H{
		"code": code,
		"stats": gin.H{
			"created": result.Created,
			"skipped": result.Skipped,
			"errors":  result.Errors,
		},
		"createdCandidates": result.CreatedCandidates,
	})
}

func replyCreditsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, placement.ErrCreditsOutOfRange):
		BadRequest(c, err.Error())
	case errors.Is(err, placement.ErrFileNotFound):
		NotFound(c, "file not found")
	case errors.Is(err, placement.ErrPermissionDenied):
		Forbidden(c, "permission denied")
	default:
		middleware.LoggerFromContext(c).Error("update credits failed", slog.Any("error", err))
		Internal(c, "failed to update credits")
	}
}

// fileView 构造文件的对外展示结构。
func fileView(file *database.UploadedFile) gin.H {
	return gin.H{
		"id":                file.ID,
		"originalName":      file.OriginalName,
		"customName":        file.CustomName,
		"status":            file.Status,
		"uploadedAt":        file.UploadedAt,
		"approvedAt":        file.ApprovedAt,
		"rejectedAt":        file.RejectedAt,
		"processedAt":       file.ProcessedAt,
		"credits":           file.Credits,
		"candidatesCreated": file.CandidatesCreated,
	}
}

// parseIDParam 解析路径中的数字 ID，非法时直接响应 400。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
