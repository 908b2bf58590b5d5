package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"campushire/internal/api/middleware"
	"campushire/internal/auth"
	"campushire/internal/database"
)

const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// AuthHandler 处理就业办注册与三种角色的登录、刷新、退出。
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, loginRateLimitPerHour int) *AuthHandler {
	if loginRateLimitPerHour <= 0 {
		loginRateLimitPerHour = 10
	}
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
	}
}

type registerOfficerRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	Email       string `json:"email" binding:"required,email,max=255"`
	CollegeName string `json:"collegeName" binding:"required,max=255"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
}

// RegisterOfficer 创建就业办账号，初始状态 pending，需管理员审批后方可登录。
func (h *AuthHandler) RegisterOfficer(c *gin.Context) {
	var req registerOfficerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	var existing database.PlacementOfficer
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		logger.Info("officer register conflict: email already taken")
		Conflict(c, "email already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("officer register lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	hashed, err := h.authService.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	officer := database.PlacementOfficer{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		CollegeName:  strings.TrimSpace(req.CollegeName),
		PasswordHash: hashed,
		Status:       database.StatusPending,
	}
	if err := h.db.WithContext(ctx).Create(&officer).Error; err != nil {
		logger.Error("create officer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("placement officer registered", slog.Uint64("officer_id", uint64(officer.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "registration submitted, awaiting admin approval",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	TokenType          string `json:"tokenType"`
	ExpiresIn          int    `json:"expiresIn"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"mustChangePassword,omitempty"`
}

type issueOption func(*tokenResponse)

func withMustChangePassword(v bool) issueOption {
	return func(r *tokenResponse) { r.MustChangePassword = v }
}

// LoginAdmin 管理员按用户名登录。
func (h *AuthHandler) LoginAdmin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		BadRequest(c, "username and password are required")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("username", req.Username))
	if !h.allowLoginAttempt(ctx, c, req.Username) {
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("admin login failed: user not found")
			Unauthorized(c)
			return
		}
		logger.Error("admin login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("admin login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		Unauthorized(c)
		return
	}

	h.issueTokens(c, logger, user.ID, auth.RoleAdmin, withMustChangePassword(user.MustChangePassword))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required,min=8,max=72"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=72"`
}

// ChangePassword 校验管理员当前密码并更新为新密码，清除首次登录改密标记。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		BadRequest(c, "new password must be different from current password")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password: current password mismatch")
		Unauthorized(c)
		return
	}

	hashed, err := h.authService.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.issueTokens(c, logger, user.ID, auth.RoleAdmin)
}

// LoginOfficer 就业办按邮箱登录，仅限已审批账号。
func (h *AuthHandler) LoginOfficer(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		BadRequest(c, "email and password are required")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))
	if !h.allowLoginAttempt(ctx, c, email) {
		return
	}

	var officer database.PlacementOfficer
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&officer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("officer login failed: not found")
			Unauthorized(c)
			return
		}
		logger.Error("officer login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, officer.PasswordHash) {
		logger.Info("officer login failed: password mismatch", slog.Uint64("officer_id", uint64(officer.ID)))
		Unauthorized(c)
		return
	}

	switch officer.Status {
	case database.StatusApproved:
		// 放行。
	case database.StatusPending:
		Forbidden(c, "account pending admin approval")
		return
	default:
		Forbidden(c, "account not approved")
		return
	}

	h.issueTokens(c, logger, officer.ID, auth.RolePlacement)
}

// LoginCandidate 候选人按邮箱登录。
func (h *AuthHandler) LoginCandidate(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		BadRequest(c, "email and password are required")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))
	if !h.allowLoginAttempt(ctx, c, email) {
		return
	}

	var candidate database.Candidate
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&candidate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("candidate login failed: not found")
			Unauthorized(c)
			return
		}
		logger.Error("candidate login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, candidate.PasswordHash) {
		logger.Info("candidate login failed: password mismatch", slog.Uint64("candidate_id", uint64(candidate.ID)))
		Unauthorized(c)
		return
	}

	h.issueTokens(c, logger, candidate.ID, auth.RoleCandidate)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Refresh 校验刷新令牌，旋转旧令牌并颁发新的 TokenPair。
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "refresh token is required")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, err := h.authService.ValidateToken(req.RefreshToken)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != "refresh" || claims.ID == "" {
		logger.Info("refresh token wrong type or missing jti", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 主体仍须存在，否则拒绝续期。
	if !h.subjectExists(ctx, claims.UserID, claims.Role) {
		logger.Info("refresh subject not found",
			slog.Uint64("user_id", uint64(claims.UserID)),
			slog.String("role", claims.Role),
		)
		Unauthorized(c)
		return
	}

	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.issueTokens(c, logger, claims.UserID, claims.Role)
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "refresh token is required")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, err := h.authService.ValidateToken(req.RefreshToken)
	if err != nil {
		logger.Info("logout token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != "refresh" || claims.ID == "" {
		logger.Info("logout wrong token type or missing jti", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	Success(c, "logged out", nil)
}

// allowLoginAttempt 执行每 IP+账号 每小时的登录限速，超限时直接响应 429。
func (h *AuthHandler) allowLoginAttempt(ctx context.Context, c *gin.Context, identity string) bool {
	rateKey := "rate:login:" + c.ClientIP() + ":" + strings.ToLower(identity) + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		// Redis 不可用时放行，登录仍受密码校验保护。
		return true
	}
	if count > int64(h.loginRateLimitPerHour) {
		Fail(c, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func (h *AuthHandler) issueTokens(c *gin.Context, logger *slog.Logger, userID uint, role string, opts ...issueOption) {
	tokenPair, err := h.authService.GenerateTokenPair(userID, role)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	resp := tokenResponse{
		Success:      true,
		Message:      "login successful",
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.authService.AccessTokenTTL().Seconds()),
		Role:         role,
	}
	for _, opt := range opts {
		opt(&resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) subjectExists(ctx context.Context, userID uint, role string) bool {
	var err error
	switch role {
	case auth.RoleAdmin:
		err = h.db.WithContext(ctx).First(&database.User{}, userID).Error
	case auth.RolePlacement:
		var officer database.PlacementOfficer
		if err = h.db.WithContext(ctx).First(&officer, userID).Error; err == nil {
			return officer.Status == database.StatusApproved
		}
	case auth.RoleCandidate:
		err = h.db.WithContext(ctx).First(&database.Candidate{}, userID).Error
	default:
		return false
	}
	return err == nil
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
