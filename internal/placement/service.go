package placement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/notify"
)

// Actor 是已完成鉴权的操作者身份，由上层（HTTP 中间件）解析后显式传入。
// 流水线自身不感知令牌。
type Actor struct {
	ID   uint
	Role string
}

// IsAdmin 判断操作者是否为管理员。
func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

// RosterSource 提供归档原始名册的读取能力（生产环境为 MinIO）。
type RosterSource interface {
	FetchOriginal(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// Service 实现名册文件生命周期、候选人开通与 credit 总账。
type Service struct {
	db          *gorm.DB
	broadcaster notify.Broadcaster
	rosters     RosterSource
	logger      *slog.Logger

	// 同一文件的生命周期操作必须按文件串行，跨进程则由
	// 带状态条件的 UPDATE 兜底。
	mu        sync.Mutex
	fileLocks map[uint]*sync.Mutex
}

// NewService 构造 Service。rosters 允许为 nil（仅依赖已保存的解析结果）。
func NewService(db *gorm.DB, broadcaster notify.Broadcaster, rosters RosterSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		broadcaster: broadcaster,
		rosters:     rosters,
		logger:      logger,
		fileLocks:   make(map[uint]*sync.Mutex),
	}
}

func (s *Service) lockFile(fileID uint) func() {
	s.mu.Lock()
	lock, ok := s.fileLocks[fileID]
	if !ok {
		lock = &sync.Mutex{}
		s.fileLocks[fileID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// fileForOfficer 取出属于指定就业办的文件。
func (s *Service) fileForOfficer(ctx context.Context, officerID, fileID uint) (*database.UploadedFile, error) {
	var file database.UploadedFile
	err := s.db.WithContext(ctx).
		Where("id = ? AND placement_officer_id = ?", fileID, officerID).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}

// publish 投递一条实时事件。广播是尽力而为的：失败只记日志，
// 绝不影响业务写路径的结果。
func (s *Service) publish(ctx context.Context, channel string, message any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, channel, message); err != nil {
		s.logger.Warn("publish realtime event failed",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}
