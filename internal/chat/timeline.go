package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

var (
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrStaleOpen 加载结果返回时选中的会话已经变了，结果被丢弃
	ErrStaleOpen = errors.New("conversation selection changed during load")
)

// EntryState 时间线条目状态
type EntryState int

const (
	// EntryPending 本地乐观记录，等待服务端确认
	EntryPending EntryState = iota
	// EntryConfirmed 服务端已确认记录
	EntryConfirmed
)

// Entry 时间线条目
// pending 和 confirmed 两种形态互斥：同一条消息在任何时刻只占一个槽位，
// 确认时按临时 ID 原位替换而不是追加
type Entry struct {
	State   EntryState
	TempID  string
	Message model.Message
}

// Timeline 活动会话的消息时间线
type Timeline struct {
	localUserID   string
	conversations ConversationStore
	messages      MessageStore
	feed          ChangeFeed
	logger        *slog.Logger

	mu           sync.RWMutex
	generation   uint64
	activeConvID string
	counterpart  model.Profile
	entries      []Entry
}

// NewTimeline 创建时间线
func NewTimeline(localUserID string, conversations ConversationStore, messages MessageStore, feed ChangeFeed) *Timeline {
	return &Timeline{
		localUserID:   localUserID,
		conversations: conversations,
		messages:      messages,
		feed:          feed,
		logger:        slog.Default(),
	}
}

// Open 打开与目标用户的会话
// 没有现成会话时先创建（会话记录加两条参与者记录），
// 然后按时间升序加载完整历史，并把对方发来的未读消息全部置为已读。
// 加载期间活动会话再次切换时，迟到的结果被丢弃并返回 ErrStaleOpen。
func (t *Timeline) Open(ctx context.Context, other *model.Profile) (string, error) {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	conversationID, err := t.resolveConversation(ctx, other.ID)
	if err != nil {
		return "", err
	}

	history, err := t.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}

	// 打开即已读：对方的未读消息翻转并向变更通道发布更新事件
	updated, err := t.messages.MarkConversationRead(ctx, conversationID, t.localUserID)
	if err != nil {
		t.logger.Warn("Failed to mark conversation read", "conversationId", conversationID, "error", err)
	}
	for i := range updated {
		if err := t.feed.PublishMessageUpdate(&updated[i]); err != nil {
			t.logger.Warn("Failed to publish read update", "messageId", updated[i].ID, "error", err)
		}
	}
	for i := range history {
		if history[i].SenderID != t.localUserID {
			history[i].Read = true
		}
	}

	entries := make([]Entry, len(history))
	for i, msg := range history {
		entries[i] = Entry{State: EntryConfirmed, Message: msg}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen {
		return "", ErrStaleOpen
	}
	t.activeConvID = conversationID
	t.counterpart = *other
	t.entries = entries

	t.logger.Info("Conversation opened",
		"conversationId", conversationID,
		"otherUserId", other.ID,
		"messages", len(entries))
	return conversationID, nil
}

// resolveConversation 查找或创建与目标用户的会话
// 成员交集查找：先取本人的会话 ID 集合，再筛出目标用户也参与的那些。
// 查找-创建之间没有互斥，双方同时发起可能为同一对用户产生两个会话，
// 这里不做检测与合并。
func (t *Timeline) resolveConversation(ctx context.Context, otherUserID string) (string, error) {
	mine, err := t.conversations.IDsForUser(ctx, t.localUserID)
	if err != nil {
		return "", err
	}

	shared, err := t.conversations.IDsForUserIn(ctx, otherUserID, mine)
	if err != nil {
		return "", err
	}
	if len(shared) > 0 {
		return shared[0], nil
	}

	conv, err := t.conversations.Create(ctx, t.localUserID, otherUserID)
	if err != nil {
		return "", err
	}
	t.logger.Info("Conversation created", "conversationId", conv.ID, "otherUserId", otherUserID)
	return conv.ID, nil
}

// Send 发送消息
// 先追加本地乐观记录（临时 ID、发送意图时刻的时间戳），落库成功后
// 按临时 ID 原位替换为权威记录；失败则回滚乐观记录并把错误交给调用方。
func (t *Timeline) Send(ctx context.Context, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	t.mu.Lock()
	if t.activeConvID == "" {
		t.mu.Unlock()
		return nil, ErrNoActiveConversation
	}
	conversationID := t.activeConvID
	tempID := "pending-" + uuid.NewString()
	t.entries = append(t.entries, Entry{
		State:  EntryPending,
		TempID: tempID,
		Message: model.Message{
			ID:             tempID,
			ConversationID: conversationID,
			SenderID:       t.localUserID,
			Content:        text,
			CreatedAt:      time.Now(),
		},
	})
	t.mu.Unlock()

	msg, err := t.messages.Insert(ctx, conversationID, t.localUserID, text)
	if err != nil {
		t.mu.Lock()
		t.dropPending(tempID)
		t.mu.Unlock()
		t.logger.Error("Failed to send message", "conversationId", conversationID, "error", err)
		return nil, err
	}

	t.confirm(tempID, msg)

	// 非关键路径：更新会话时间戳并发布插入事件
	if err := t.conversations.Touch(ctx, conversationID); err != nil {
		t.logger.Warn("Failed to touch conversation", "conversationId", conversationID, "error", err)
	}
	if err := t.feed.PublishMessageInsert(msg); err != nil {
		t.logger.Warn("Failed to publish message insert", "messageId", msg.ID, "error", err)
	}

	return msg, nil
}

// confirm 把乐观记录替换为权威记录
// 变更通道的插入事件可能先一步到达；此时权威记录已在场，只移除乐观记录
func (t *Timeline) confirm(tempID string, msg *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOfID(msg.ID) >= 0 {
		t.dropPending(tempID)
		return
	}

	for i := range t.entries {
		if t.entries[i].State == EntryPending && t.entries[i].TempID == tempID {
			t.entries[i] = Entry{State: EntryConfirmed, Message: *msg}
			return
		}
	}
}

// dropPending 移除乐观记录，调用方需持有锁
func (t *Timeline) dropPending(tempID string) {
	for i := range t.entries {
		if t.entries[i].State == EntryPending && t.entries[i].TempID == tempID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// ApplyInsert 应用消息插入事件
// 非活动会话的消息和已在场的记录（本人发送已确认的情形）都被忽略
func (t *Timeline) ApplyInsert(msg *model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ConversationID != t.activeConvID {
		return false
	}
	if t.indexOfID(msg.ID) >= 0 {
		return false
	}

	// 维持按创建时间非递减的展示顺序
	entry := Entry{State: EntryConfirmed, Message: *msg}
	i := len(t.entries)
	for i > 0 && t.entries[i-1].Message.CreatedAt.After(msg.CreatedAt) {
		i--
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
	return true
}

// ApplyUpdate 应用消息更新事件（按 ID 原位替换）
func (t *Timeline) ApplyUpdate(msg *model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ConversationID != t.activeConvID {
		return false
	}
	i := t.indexOfID(msg.ID)
	if i < 0 {
		return false
	}
	t.entries[i].Message = *msg
	return true
}

// ApplyPresence 修补对方的在线状态
func (t *Timeline) ApplyPresence(userID string, online bool, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counterpart.ID == userID {
		t.counterpart.Online = online
		t.counterpart.LastSeenAt = lastSeen
	}
}

// indexOfID 按消息 ID 定位条目下标，调用方需持有锁
func (t *Timeline) indexOfID(id string) int {
	for i := range t.entries {
		if t.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

// ActiveConversationID 当前活动会话 ID，未打开任何会话时为空串
func (t *Timeline) ActiveConversationID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeConvID
}

// Counterpart 当前会话对方的资料
func (t *Timeline) Counterpart() model.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counterpart
}

// Entries 获取时间线条目副本
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries
}
