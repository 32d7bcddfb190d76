package model

import "time"

// TrainingStatus 是训练记录的处理状态。
type TrainingStatus string

const (
	StatusPending    TrainingStatus = "pending"
	StatusProcessing TrainingStatus = "processing"
	StatusCompleted  TrainingStatus = "completed"
	StatusFailed     TrainingStatus = "failed"
)

// SourceKind 区分训练记录的来源。
type SourceKind string

const (
	SourceDocument SourceKind = "document"
	SourceWebsite  SourceKind = "website"
)

// TrainingDoc 是一份上传文档的训练记录。
type TrainingDoc struct {
	ID             string         `gorm:"type:char(36);primaryKey" json:"id"`
	FileName       string         `gorm:"type:varchar(255);not null" json:"fileName"`
	MimeType       string         `gorm:"type:varchar(128)" json:"mimeType"`
	Size           int64          `gorm:"not null;default:0" json:"size"`
	CharacterCount int            `gorm:"not null;default:0" json:"characterCount"`
	Status         TrainingStatus `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TrainingDoc) TableName() string {
	return "training_docs"
}

// TrainingWebsite 是一个抓取页面的训练记录。子页面通过 ParentID 指向种子页面。
type TrainingWebsite struct {
	ID             string         `gorm:"type:char(36);primaryKey" json:"id"`
	URL            string         `gorm:"type:varchar(2048);not null" json:"url"`
	Title          string         `gorm:"type:varchar(512)" json:"title"`
	ParentID       *string        `gorm:"type:char(36);index" json:"parentId"`
	CharacterCount int            `gorm:"not null;default:0" json:"characterCount"`
	Status         TrainingStatus `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TrainingWebsite) TableName() string {
	return "training_websites"
}
