package model

import "time"

// Story 故事表（由内容服务维护，这里只读）
type Story struct {
	ID        int64  `gorm:"primaryKey"`
	AuthorID  int64  `gorm:"not null;index"`
	Title     string `gorm:"size:255"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (Story) TableName() string {
	return "story"
}

// Scene 场景表
type Scene struct {
	ID               int64  `gorm:"primaryKey"`
	StoryID          int64  `gorm:"not null;index"`
	Title            string `gorm:"size:255"`
	Content          string `gorm:"type:text"`
	SceneDescription string `gorm:"type:text"`
	Order            int    `gorm:"column:order;not null;default:0"`
	IsActive         bool   `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定表名
func (Scene) TableName() string {
	return "scene"
}
