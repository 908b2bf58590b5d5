package placement

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"campushire/internal/database"
)

// MaxCustomNameLen 是文件显示别名允许的最大长度。
const MaxCustomNameLen = 100

// ErrCustomNameTooLong 表示显示别名超长。
var ErrCustomNameTooLong = fmt.Errorf("custom file name exceeds %d characters", MaxCustomNameLen)

// RegisterUpload 为一次已通过校验的上传写入生命周期记录，初始状态 pending。
func (s *Service) RegisterUpload(ctx context.Context, officerID uint, originalName, customName, objectKey string) (*database.UploadedFile, error) {
	if utf8.RuneCountInString(customName) > MaxCustomNameLen {
		return nil, ErrCustomNameTooLong
	}

	var officer database.PlacementOfficer
	if err := s.db.WithContext(ctx).First(&officer, officerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfficerNotFound
		}
		return nil, err
	}
	if officer.Status != database.StatusApproved {
		return nil, ErrOfficerNotApproved
	}

	file := database.UploadedFile{
		PlacementOfficerID: officer.ID,
		OriginalName:       originalName,
		CustomName:         customName,
		ObjectKey:          objectKey,
		Status:             database.StatusPending,
		UploadedAt:         time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// SetCustomName 更新文件的显示别名。
func (s *Service) SetCustomName(ctx context.Context, actor Actor, officerID, fileID uint, customName string) error {
	if utf8.RuneCountInString(customName) > MaxCustomNameLen {
		return ErrCustomNameTooLong
	}
	if !actor.IsAdmin() && actor.ID != officerID {
		return ErrPermissionDenied
	}

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(file).Update("custom_name", customName).Error
}
