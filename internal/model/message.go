package model

import "time"

// Message 消息实体
// ID 由存储服务分配；发送中的本地乐观记录使用临时 ID，确认后原位替换
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}
