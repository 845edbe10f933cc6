// Package chat 实现会话同步核心：
// 资料门卫、会话列表、消息时间线、实时变更分发和在线状态上报。
// 所有后端能力都以接口消费，键控一律使用稳定 ID（用户/会话/消息），
// 不依赖调用完成顺序。
package chat

import (
	"context"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
	"github.com/kialiao1999-ui/my-messaging-app/internal/push"
	"github.com/kialiao1999-ui/my-messaging-app/internal/realtime"
)

// ProfileStore 资料表存取能力
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	Create(ctx context.Context, p *model.Profile) (bool, error)
	SearchByEmail(ctx context.Context, pattern string, excludeID string) ([]model.Profile, error)
	UpdatePresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
	UpdatePhone(ctx context.Context, id string, phone string) error
	UpdatePushToken(ctx context.Context, id string, token string) error
}

// ConversationStore 会话表与参与者表存取能力
type ConversationStore interface {
	IDsForUser(ctx context.Context, userID string) ([]string, error)
	IDsForUserIn(ctx context.Context, userID string, conversationIDs []string) ([]string, error)
	Create(ctx context.Context, userA, userB string) (*model.Conversation, error)
	Touch(ctx context.Context, id string) error
	CounterpartsFor(ctx context.Context, userID string, conversationIDs []string) (map[string]model.Profile, error)
}

// MessageStore 消息表存取能力
type MessageStore interface {
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	Insert(ctx context.Context, conversationID, senderID, content string) (*model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]model.Message, error)
	MarkRead(ctx context.Context, messageID string) (*model.Message, error)
	UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error)
}

// ChangeFeed 行级变更通道能力
// 订阅返回显式句柄，由获取方负责释放
type ChangeFeed interface {
	SubscribeMessages(handler func(realtime.MessageEvent)) (realtime.Handle, error)
	SubscribeProfiles(handler func(realtime.ProfileEvent)) (realtime.Handle, error)
	PublishMessageInsert(msg *model.Message) error
	PublishMessageUpdate(msg *model.Message) error
	PublishProfileUpdate(p *model.Profile) error
}

// PresenceCache 在线标记缓存能力
type PresenceCache interface {
	Refresh(ctx context.Context, userID string) error
	Clear(ctx context.Context, userID string) error
}

// PushSender 推送中继能力
type PushSender interface {
	Enabled() bool
	Send(ctx context.Context, payload *push.Payload) error
}
