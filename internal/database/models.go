package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 审批状态与文件生命周期状态的合法取值。
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusProcessed = "processed"
)

// User 表示管理员账号。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
}

// PlacementOfficer 表示高校就业办账号，注册后需管理员审批。
// 名下的上传文件随账号级联管理，但由文件产生的候选人独立存在。
type PlacementOfficer struct {
	gorm.Model
	Name         string         `gorm:"size:128"`
	Email        string         `gorm:"uniqueIndex;size:255"`
	CollegeName  string         `gorm:"size:255"`
	PasswordHash string         `gorm:"size:255"`
	Status       string         `gorm:"size:16;default:pending"`
	Files        []UploadedFile `gorm:"foreignKey:PlacementOfficerID;constraint:OnDelete:CASCADE"`
}

// UploadedFile 表示一次学生名册上传及其生命周期记录。
// StructuredData 仅在显式“保存解析结果”后写入；ObjectKey 指向 MinIO 中归档的原始文件。
type UploadedFile struct {
	gorm.Model
	PlacementOfficerID uint   `gorm:"index"`
	OriginalName       string `gorm:"size:255"`
	CustomName         string `gorm:"size:100"`
	ObjectKey          string `gorm:"size:512"`
	Status             string `gorm:"size:16;default:pending"`
	UploadedAt         time.Time
	ApprovedAt         *time.Time
	RejectedAt         *time.Time
	ProcessedAt        *time.Time
	ReviewedBy         uint `gorm:"default:0"`
	ProcessedBy        uint `gorm:"default:0"`
	Credits            int  `gorm:"default:0"`
	CandidatesCreated  int  `gorm:"default:0"`
	StructuredData     datatypes.JSON
}

// Candidate 表示由名册批量开通的求职者账号。
// Email 全局唯一，是跨就业办去重的唯一约束；来源文件删除后账号依然有效。
type Candidate struct {
	gorm.Model
	Name               string `gorm:"size:128"`
	CollegeName        string `gorm:"size:255"`
	Email              string `gorm:"uniqueIndex;size:255"`
	Phone              string `gorm:"size:32"`
	Course             string `gorm:"size:128"`
	PasswordHash       string `gorm:"size:255"`
	Credits            int    `gorm:"default:0"`
	RegistrationMethod string `gorm:"size:32"`
	PlacementOfficerID uint   `gorm:"index"`
	SourceFileID       uint   `gorm:"index"`
}
