package placement

import (
	"context"
	"fmt"
	"time"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/metrics"
	"campushire/internal/notify"
)

// Approve 将 pending 文件标记为 approved。仅管理员可操作。
// rejected / processed 为终态，重复审批返回 ErrInvalidTransition。
func (s *Service) Approve(ctx context.Context, actor Actor, officerID, fileID uint) error {
	if !actor.IsAdmin() {
		return ErrPermissionDenied
	}

	unlock := s.lockFile(fileID)
	defer unlock()

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return err
	}
	if file.Status != database.StatusPending {
		return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, file.Status)
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&database.UploadedFile{}).
		Where("id = ? AND status = ?", file.ID, database.StatusPending).
		Updates(map[string]any{
			"status":      database.StatusApproved,
			"approved_at": now,
			"reviewed_by": actor.ID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 状态在读写之间被并发改掉，按非法迁移处理。
		return fmt.Errorf("%w: approve lost race", ErrInvalidTransition)
	}

	metrics.FileTransitions.WithLabelValues(database.StatusApproved).Inc()
	s.publish(ctx, notify.AdminChannel, notify.NewFileLifecycle(officerID, fileID, database.StatusApproved))
	return nil
}

// Reject 将 pending/approved 文件标记为 rejected（终态）。仅管理员可操作。
// 已处理文件不可驳回。确认弹窗等交互语义属于调用方 UI，不在此处。
func (s *Service) Reject(ctx context.Context, actor Actor, officerID, fileID uint) error {
	if !actor.IsAdmin() {
		return ErrPermissionDenied
	}

	unlock := s.lockFile(fileID)
	defer unlock()

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return err
	}
	if file.Status != database.StatusPending && file.Status != database.StatusApproved {
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, file.Status)
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&database.UploadedFile{}).
		Where("id = ? AND status IN ?", file.ID, []string{database.StatusPending, database.StatusApproved}).
		Updates(map[string]any{
			"status":      database.StatusRejected,
			"rejected_at": now,
			"reviewed_by": actor.ID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: reject lost race", ErrInvalidTransition)
	}

	metrics.FileTransitions.WithLabelValues(database.StatusRejected).Inc()
	s.publish(ctx, notify.AdminChannel, notify.NewFileLifecycle(officerID, fileID, database.StatusRejected))
	return nil
}

// Process 把已批准（或 pending，隐式批准）的文件交给开通引擎，并标记 processed。
// 管理员可处理任意文件；就业办只能处理自己名下的文件。
// 对已处理文件重复调用是幂等的：引擎会再次运行但不会新建任何账号，
// 状态与 processedAt 不变，结果带 AlreadyProcessed 标记。
func (s *Service) Process(ctx context.Context, actor Actor, officerID, fileID uint) (*ProvisionResult, error) {
	if !actor.IsAdmin() && !(actor.Role == auth.RolePlacement && actor.ID == officerID) {
		return nil, ErrPermissionDenied
	}

	unlock := s.lockFile(fileID)
	defer unlock()

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return nil, err
	}
	if file.Status == database.StatusRejected {
		return nil, fmt.Errorf("%w: process from %s", ErrInvalidTransition, file.Status)
	}

	rows, err := s.rowsForFile(ctx, file)
	if err != nil {
		return nil, err
	}

	alreadyProcessed := file.Status == database.StatusProcessed
	result, err := s.provision(ctx, actor, file, rows, alreadyProcessed)
	if err != nil {
		return nil, err
	}
	result.AlreadyProcessed = alreadyProcessed

	metrics.CandidatesProvisioned.Add(float64(result.Created))
	metrics.CandidatesSkipped.Add(float64(result.Skipped))

	if !alreadyProcessed {
		metrics.FileTransitions.WithLabelValues(database.StatusProcessed).Inc()
		s.publish(ctx, notify.AdminChannel, notify.NewFileLifecycle(officerID, fileID, database.StatusProcessed))
	}
	return result, nil
}
