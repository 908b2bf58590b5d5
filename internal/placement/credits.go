package placement

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/metrics"
	"campushire/internal/notify"
)

// MaxCredits 是单次 credit 设置允许的上限。
const MaxCredits = 10000

// ErrCreditsOutOfRange 表示 credit 取值不在 0..10000 之内。
var ErrCreditsOutOfRange = fmt.Errorf("credits must be between 0 and %d", MaxCredits)

// UpdateFileCredits 把文件的 credits 整体改写为 newCredits，并覆盖该文件
// 开通的所有候选人余额（权威覆盖，非增量）。文件更新与余额改写在同一
// 事务内完成，读者不会看到半更新状态；事件在提交后逐人推送。
func (s *Service) UpdateFileCredits(ctx context.Context, actor Actor, officerID, fileID uint, newCredits int) (int, error) {
	if newCredits < 0 || newCredits > MaxCredits {
		return 0, ErrCreditsOutOfRange
	}
	if !actor.IsAdmin() && !(actor.Role == auth.RolePlacement && actor.ID == officerID) {
		return 0, ErrPermissionDenied
	}

	unlock := s.lockFile(fileID)
	defer unlock()

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return 0, err
	}

	affected, err := s.applyFileCredits(ctx, s.db, file, newCredits)
	if err != nil {
		return 0, err
	}

	s.notifyCreditUpdates(ctx, affected, newCredits)
	return len(affected), nil
}

// BulkUpdateCredits 对就业办名下的每个文件执行整体改写，单事务提交。
func (s *Service) BulkUpdateCredits(ctx context.Context, actor Actor, officerID uint, newCredits int) (int, error) {
	if newCredits < 0 || newCredits > MaxCredits {
		return 0, ErrCreditsOutOfRange
	}
	if !actor.IsAdmin() && !(actor.Role == auth.RolePlacement && actor.ID == officerID) {
		return 0, ErrPermissionDenied
	}

	var files []database.UploadedFile
	if err := s.db.WithContext(ctx).
		Where("placement_officer_id = ?", officerID).
		Find(&files).Error; err != nil {
		return 0, err
	}

	var affected []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range files {
			ids, err := s.applyFileCredits(ctx, tx, &files[i], newCredits)
			if err != nil {
				return err
			}
			affected = append(affected, ids...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifyCreditUpdates(ctx, affected, newCredits)
	return len(affected), nil
}

// applyFileCredits 在 db（可能是外层事务）上改写单个文件及其候选人，
// 返回受影响的候选人 ID。
func (s *Service) applyFileCredits(ctx context.Context, db *gorm.DB, file *database.UploadedFile, newCredits int) ([]uint, error) {
	var ids []uint

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.UploadedFile{}).
			Where("id = ?", file.ID).
			Update("credits", newCredits).Error; err != nil {
			return fmt.Errorf("update file credits: %w", err)
		}

		if err := tx.Model(&database.Candidate{}).
			Where("placement_officer_id = ? AND source_file_id = ?", file.PlacementOfficerID, file.ID).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("list sourced candidates: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&database.Candidate{}).
			Where("id IN ?", ids).
			Update("credits", newCredits).Error; err != nil {
			return fmt.Errorf("overwrite candidate credits: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditUpdates.Inc()
	return ids, nil
}

func (s *Service) notifyCreditUpdates(ctx context.Context, candidateIDs []uint, credits int) {
	for _, id := range candidateIDs {
		s.publish(ctx, notify.CandidateChannel(id), notify.NewCreditUpdated(id, credits))
	}
}
