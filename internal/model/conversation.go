// Package model 包含了应用的数据模型定义。
package model

import "time"

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Conversation 是某个用户的一段对话，标题初始为占位文本，之后只会被改名一次或由用户手动修改。
type Conversation struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:char(36);index;not null" json:"userId"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 是对话中的一条消息，写入后不再修改。
type Message struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID string    `gorm:"type:char(36);index;not null" json:"conversationId"`
	Sender         Sender    `gorm:"type:varchar(16);not null" json:"sender"`
	Content        string    `gorm:"type:longtext;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// HistoryItem 是调用方随请求提交的一轮历史对话，不落库。
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationStats 是管理后台展示的对话统计。
type ConversationStats struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int64     `json:"messageCount"`
	CreatedAt    LocalTime `json:"createdAt"`
	UpdatedAt    LocalTime `json:"updatedAt"`
}

// UserChatStats 是管理后台展示的用户统计。
type UserChatStats struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	ConversationCount int64     `json:"conversationCount"`
	MessageCount      int64     `json:"messageCount"`
	CreatedAt         LocalTime `json:"createdAt"`
}
