package model

import (
	"time"

	"gorm.io/datatypes"
)

// Job 生成任务表，不删除
type Job struct {
	ID                  string `gorm:"primaryKey;size:36"`
	JobType             string `gorm:"size:32;not null"`
	Status              string `gorm:"size:16;not null;index:idx_job_status_retry,priority:1"`
	UserID              int64  `gorm:"not null;index"`
	StoryID             *int64 `gorm:"index:idx_job_story_media,priority:1"`
	SceneID             *int64 `gorm:"index"`
	MediaType           string `gorm:"size:16;index:idx_job_story_media,priority:2"`
	RequestData         datatypes.JSON
	ResponseData        datatypes.JSON
	ErrorMessage        string     `gorm:"type:text"`
	MessageID           *string    `gorm:"size:255;uniqueIndex"`
	CreditCost          int64      `gorm:"not null;default:0"`
	CreditTransactionID *string    `gorm:"size:36"`
	RefundTransactionID *string    `gorm:"size:36"`
	RateVersion         string     `gorm:"size:32"`
	RetryCount          int        `gorm:"not null;default:0"`
	MaxRetries          int        `gorm:"not null;default:3"`
	NextRetryAt         *time.Time `gorm:"index:idx_job_status_retry,priority:2"`
	CreatedAt           time.Time  `gorm:"autoCreateTime"`
	StartedAt           *time.Time
	CompletedAt         *time.Time
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
	Version             int64     `gorm:"not null;default:0"`
}

// TableName 指定表名
func (Job) TableName() string {
	return "job"
}
