package placement

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/ingest"
)

// FilesForOfficer 返回就业办名下的全部文件，按上传时间倒序。
func (s *Service) FilesForOfficer(ctx context.Context, officerID uint) ([]database.UploadedFile, error) {
	var files []database.UploadedFile
	err := s.db.WithContext(ctx).
		Where("placement_officer_id = ?", officerID).
		Order("uploaded_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FileRows 返回文件的规范化行用于展示，与处理状态无关。
// 优先读取已保存的解析结果，否则从归档的原始文件重新解析。
func (s *Service) FileRows(ctx context.Context, officerID, fileID uint) ([]ingest.StudentRow, error) {
	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return nil, err
	}
	return s.rowsForFile(ctx, file)
}

func (s *Service) rowsForFile(ctx context.Context, file *database.UploadedFile) ([]ingest.StudentRow, error) {
	if len(file.StructuredData) > 0 {
		var rows []ingest.StudentRow
		if err := json.Unmarshal(file.StructuredData, &rows); err != nil {
			return nil, fmt.Errorf("decode structured data: %w", err)
		}
		return rows, nil
	}

	if file.ObjectKey == "" || s.rosters == nil {
		return nil, ErrNoRoster
	}

	reader, err := s.rosters.FetchOriginal(ctx, file.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetch original roster: %w", err)
	}
	defer reader.Close()

	sheet, err := ingest.Parse(reader, file.OriginalName, "", ingest.MaxFileBytes)
	if err != nil {
		return nil, fmt.Errorf("reparse original roster: %w", err)
	}
	return ingest.NormalizeSheet(sheet), nil
}

// StoreStructuredData 显式持久化当前的规范化行到文件记录。
func (s *Service) StoreStructuredData(ctx context.Context, actor Actor, officerID, fileID uint) (int, error) {
	if !actor.IsAdmin() && !(actor.Role == auth.RolePlacement && actor.ID == officerID) {
		return 0, ErrPermissionDenied
	}

	unlock := s.lockFile(fileID)
	defer unlock()

	file, err := s.fileForOfficer(ctx, officerID, fileID)
	if err != nil {
		return 0, err
	}

	rows, err := s.rowsForFile(ctx, file)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return 0, fmt.Errorf("encode structured data: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(file).
		Update("structured_data", datatypes.JSON(data)).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

// CandidateByID 返回候选人账号（求职者仪表盘读取余额用）。
func (s *Service) CandidateByID(ctx context.Context, candidateID uint) (*database.Candidate, error) {
	var candidate database.Candidate
	if err := s.db.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		return nil, err
	}
	return &candidate, nil
}
