package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

// ConversationIndex 会话列表
// 持有按最近消息倒序排列的会话视图，整体重载和事件驱动的增量修补都收敛到这里
type ConversationIndex struct {
	userID        string
	conversations ConversationStore
	messages      MessageStore
	logger        *slog.Logger

	mu    sync.RWMutex
	views []model.ConversationView
}

// NewConversationIndex 创建会话列表
func NewConversationIndex(userID string, conversations ConversationStore, messages MessageStore) *ConversationIndex {
	return &ConversationIndex{
		userID:        userID,
		conversations: conversations,
		messages:      messages,
		logger:        slog.Default(),
	}
}

// Load 全量加载会话列表并整体替换现有视图
// 四次读取不要求事务一致，以会话 ID 连接结果集；
// 对方资料解析不到的会话直接丢弃
func (idx *ConversationIndex) Load(ctx context.Context) error {
	ids, err := idx.conversations.IDsForUser(ctx, idx.userID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		idx.mu.Lock()
		idx.views = nil
		idx.mu.Unlock()
		return nil
	}

	counterparts, err := idx.conversations.CounterpartsFor(ctx, idx.userID, ids)
	if err != nil {
		return err
	}
	unread, err := idx.messages.UnreadCounts(ctx, idx.userID, ids)
	if err != nil {
		return err
	}
	last, err := idx.messages.LastMessages(ctx, ids)
	if err != nil {
		return err
	}

	views := make([]model.ConversationView, 0, len(ids))
	for _, id := range ids {
		other, ok := counterparts[id]
		if !ok {
			idx.logger.Warn("Dropping conversation without resolvable counterpart", "conversationId", id)
			continue
		}
		view := model.ConversationView{
			ID:          id,
			OtherUser:   other,
			UnreadCount: unread[id],
		}
		if msg, ok := last[id]; ok {
			view.LastMessage = &msg
		}
		views = append(views, view)
	}
	sortViews(views)

	idx.mu.Lock()
	idx.views = views
	idx.mu.Unlock()
	return nil
}

// Snapshot 获取当前会话列表副本
func (idx *ConversationIndex) Snapshot() []model.ConversationView {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	views := make([]model.ConversationView, len(idx.views))
	copy(views, idx.views)
	return views
}

// ApplyMessage 用一条新消息增量修补对应会话的预览、未读数和排序
// viewing 表示该会话正被查看（未读不累加）。
// 投递是至少一次的，修补必须按消息 ID 核对身份：与当前预览同 ID 的
// 事件是重复投递，直接忽略；比预览更旧的陌生事件无法核对，
// 返回 false 要求调用方退回全量加载（未知会话同理）
func (idx *ConversationIndex) ApplyMessage(msg *model.Message, viewing bool) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := idx.indexOf(msg.ConversationID)
	if i < 0 {
		return false
	}

	view := &idx.views[i]
	if view.LastMessage != nil {
		if view.LastMessage.ID == msg.ID {
			return true
		}
		if !msg.CreatedAt.After(view.LastMessage.CreatedAt) {
			return false
		}
	}

	m := *msg
	view.LastMessage = &m
	if msg.SenderID != idx.userID && !msg.Read && !viewing {
		view.UnreadCount++
	}
	sortViews(idx.views)
	return true
}

// ApplyMessageUpdate 处理消息更新事件（已读翻转）
// 未读数只在本地能核对先前状态时递减：事件命中当前预览且预览
// 确实未读才算一次翻转，重复投递不会再减。预览之外的消息没有
// 可核对的本地状态，返回 false 要求全量加载
func (idx *ConversationIndex) ApplyMessageUpdate(msg *model.Message) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := idx.indexOf(msg.ConversationID)
	if i < 0 {
		return false
	}

	view := &idx.views[i]
	if view.LastMessage == nil || view.LastMessage.ID != msg.ID {
		return false
	}

	if msg.Read && !view.LastMessage.Read && msg.SenderID != idx.userID && view.UnreadCount > 0 {
		view.UnreadCount--
	}
	m := *msg
	view.LastMessage = &m
	return true
}

// ApplyPresence 修补该用户出现位置上的在线状态
func (idx *ConversationIndex) ApplyPresence(userID string, online bool, lastSeen time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := range idx.views {
		if idx.views[i].OtherUser.ID == userID {
			idx.views[i].OtherUser.Online = online
			idx.views[i].OtherUser.LastSeenAt = lastSeen
		}
	}
}

// MarkViewed 会话被打开后未读数清零
func (idx *ConversationIndex) MarkViewed(conversationID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if i := idx.indexOf(conversationID); i >= 0 {
		idx.views[i].UnreadCount = 0
	}
}

// indexOf 按会话 ID 定位视图下标，调用方需持有锁
func (idx *ConversationIndex) indexOf(conversationID string) int {
	for i := range idx.views {
		if idx.views[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// sortViews 按最后消息时间倒序排列
// 没有消息的会话按零值时间排在最后；同一时刻用会话 ID 决出确定顺序
func sortViews(views []model.ConversationView) {
	sort.Slice(views, func(i, j int) bool {
		ti, tj := lastMessageTime(views[i]), lastMessageTime(views[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return views[i].ID < views[j].ID
	})
}

func lastMessageTime(view model.ConversationView) time.Time {
	if view.LastMessage == nil {
		return time.Time{}
	}
	return view.LastMessage.CreatedAt
}
