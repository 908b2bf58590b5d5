package placement

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/ingest"
)

// RowError 记录单行开通失败的原因，不影响批次内其他行。
type RowError struct {
	Row    int    `json:"row"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}

// CreatedCandidate 用于处理结果中的确认展示。
type CreatedCandidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProvisionResult 汇总一次开通运行的结果。
type ProvisionResult struct {
	Created           int                `json:"created"`
	Skipped           int                `json:"skipped"`
	Errors            []RowError         `json:"errors"`
	CreatedCandidates []CreatedCandidate `json:"createdCandidates,omitempty"`
	AlreadyProcessed  bool               `json:"-"`
}

const maxCreatedPreview = 5

// provision 在单个事务内把可开通的行转成候选人账号，并在首次处理时
// 完成状态迁移。邮箱去重依赖全局唯一索引 + ON CONFLICT DO NOTHING，
// check-then-act 竞态由数据库关死。事务失败时不留下任何半成品账号。
func (s *Service) provision(
	ctx context.Context,
	actor Actor,
	file *database.UploadedFile,
	rows []ingest.StudentRow,
	alreadyProcessed bool,
) (*ProvisionResult, error) {
	result := &ProvisionResult{Errors: []RowError{}}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make(map[string]struct{}, len(rows))

		for i, row := range rows {
			rowNum := i + 1

			if !row.Provisionable() {
				result.Errors = append(result.Errors, RowError{
					Row:    rowNum,
					Email:  row.Email,
					Reason: "missing or invalid email",
				})
				continue
			}

			email := strings.ToLower(strings.TrimSpace(row.Email))
			if _, dup := seen[email]; dup {
				result.Skipped++
				continue
			}
			seen[email] = struct{}{}

			// 先查再插只是快路径；并发下真正的守门员是唯一索引。
			var existing database.Candidate
			err := tx.Where("email = ?", email).First(&existing).Error
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lookup candidate %q: %w", email, err)
			}

			password := row.Password
			if password == "" {
				generated, err := initialPassword(18)
				if err != nil {
					return fmt.Errorf("generate initial password: %w", err)
				}
				password = generated
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				result.Errors = append(result.Errors, RowError{
					Row:    rowNum,
					Email:  email,
					Reason: "unusable password",
				})
				continue
			}

			credits := file.Credits
			if row.CreditsAssigned != nil {
				credits = *row.CreditsAssigned
			}

			candidate := database.Candidate{
				Name:               row.Name,
				CollegeName:        row.CollegeName,
				Email:              email,
				Phone:              row.Phone,
				Course:             row.Course,
				PasswordHash:       hash,
				Credits:            credits,
				RegistrationMethod: "placement",
				PlacementOfficerID: file.PlacementOfficerID,
				SourceFileID:       file.ID,
			}

			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoNothing: true,
			}).Create(&candidate)
			if res.Error != nil {
				return fmt.Errorf("create candidate %q: %w", email, res.Error)
			}
			if res.RowsAffected == 0 {
				// 已有同邮箱账号：跳过，绝不改写既有凭据。
				result.Skipped++
				continue
			}

			result.Created++
			if len(result.CreatedCandidates) < maxCreatedPreview {
				result.CreatedCandidates = append(result.CreatedCandidates, CreatedCandidate{
					Name:  candidate.Name,
					Email: candidate.Email,
				})
			}
		}

		if !alreadyProcessed {
			now := time.Now()
			res := tx.Model(&database.UploadedFile{}).
				Where("id = ? AND status IN ?", file.ID,
					[]string{database.StatusPending, database.StatusApproved}).
				Updates(map[string]any{
					"status":             database.StatusProcessed,
					"processed_at":       now,
					"processed_by":       actor.ID,
					"candidates_created": gorm.Expr("candidates_created + ?", result.Created),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: process lost race", ErrInvalidTransition)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	return result, nil
}

// initialPassword 为名册中未给出口令的学生生成随机初始口令。
func initialPassword(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
