package model

import "time"

// Conversation 会话实体
// 当前只支持单聊：每个会话恰好两个参与者
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Participant 会话参与者（会话 ID 与用户 ID 的关联行）
// 创建会话时一次性写入两行，之后不再变更
type Participant struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ConversationView 会话列表中的一项
// 由会话、对方资料、未读数和最后一条消息拼装而成
type ConversationView struct {
	ID          string   `json:"id"`
	OtherUser   Profile  `json:"otherUser"`
	UnreadCount int      `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}
