package models

import (
	"time"

	"gorm.io/datatypes"
)

// User 用户
// 主键ID是稳定身份标识，email仅作为登录和展示属性
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	ProfileImage string // 头像文件路径，可为空
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HistoryRecord 一次完成的诊断记录（chats表）
// 写入后不可变，没有更新和删除路径
type HistoryRecord struct {
	ID            uint   `gorm:"primaryKey"`
	OwnerIdentity string `gorm:"index;not null"` // 提交用户的稳定身份标识
	Result        datatypes.JSON                 // 分类结果，保持原始JSON不做列拆分
	Model         string
	Language      string
	CreatedAt     time.Time
}

// TableName chats表沿用既有命名
func (HistoryRecord) TableName() string {
	return "chats"
}

// Feedback 用户反馈
type Feedback struct {
	ID            uint   `gorm:"primaryKey"`
	OwnerIdentity string `gorm:"index"`
	Comment       string `gorm:"type:text;not null"`
	Rating        int    `gorm:"not null"` // 1-5
	CreatedAt     time.Time
}
