package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
	"github.com/kialiao1999-ui/my-messaging-app/internal/push"
	"github.com/kialiao1999-ui/my-messaging-app/internal/realtime"
	"github.com/kialiao1999-ui/my-messaging-app/internal/repository"
)

// fakeBackend 内存版后端，同时实现三个存储接口
// 时间戳用单调递增的假时钟，保证排序测试可预期
type fakeBackend struct {
	mu       sync.Mutex
	now      time.Time
	seq      int
	profiles map[string]model.Profile
	convs    map[string]model.Conversation
	members  []model.Participant
	msgs     []model.Message

	profileGetErr      error
	insertErr          error
	listErr            error
	profileCreateCalls int
	insertHook         func(msg *model.Message)
	listHook           func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		profiles: make(map[string]model.Profile),
		convs:    make(map[string]model.Conversation),
	}
}

// tick 假时钟前进一秒，调用方需持有锁
func (b *fakeBackend) tick() time.Time {
	b.seq++
	b.now = b.now.Add(time.Second)
	return b.now
}

func (b *fakeBackend) addProfile(p model.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.tick()
	p.CreatedAt = now
	p.UpdatedAt = now
	b.profiles[p.ID] = p
}

// addConversation 直接造一个会话和它的参与者
func (b *fakeBackend) addConversation(id string, userA, userB string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.tick()
	b.convs[id] = model.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	b.members = append(b.members,
		model.Participant{ConversationID: id, UserID: userA},
		model.Participant{ConversationID: id, UserID: userB},
	)
}

// addMessage 直接造一条消息，返回分配的 ID
func (b *fakeBackend) addMessage(conversationID, senderID, content string, read bool) model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.tick()
	msg := model.Message{
		ID:             fmt.Sprintf("msg-%d", b.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Read:           read,
		CreatedAt:      now,
	}
	b.msgs = append(b.msgs, msg)
	return msg
}

func (b *fakeBackend) messageByID(id string) (model.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range b.msgs {
		if msg.ID == id {
			return msg, true
		}
	}
	return model.Message{}, false
}

func (b *fakeBackend) participantCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, m := range b.members {
		if m.ConversationID == conversationID {
			count++
		}
	}
	return count
}

func (b *fakeBackend) conversationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.convs)
}

// --- ProfileStore ---

func (b *fakeBackend) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.profileGetErr != nil {
		return nil, b.profileGetErr
	}
	p, ok := b.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return &p, nil
}

func (b *fakeBackend) Create(ctx context.Context, p *model.Profile) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileCreateCalls++
	if _, ok := b.profiles[p.ID]; ok {
		return false, nil
	}
	stored := *p
	now := b.tick()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	b.profiles[p.ID] = stored
	return true, nil
}

func (b *fakeBackend) SearchByEmail(ctx context.Context, pattern string, excludeID string) ([]model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []model.Profile
	for _, p := range b.profiles {
		if p.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Email), strings.ToLower(pattern)) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

func (b *fakeBackend) UpdatePresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	if !ok {
		return nil
	}
	p.Online = online
	p.LastSeenAt = lastSeen
	b.profiles[id] = p
	return nil
}

func (b *fakeBackend) UpdatePhone(ctx context.Context, id string, phone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.Phone = phone
	b.profiles[id] = p
	return nil
}

func (b *fakeBackend) UpdatePushToken(ctx context.Context, id string, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.PushToken = token
	b.profiles[id] = p
	return nil
}

// --- ConversationStore ---

func (b *fakeBackend) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for _, m := range b.members {
		if m.UserID == userID {
			ids = append(ids, m.ConversationID)
		}
	}
	return ids, nil
}

func (b *fakeBackend) IDsForUserIn(ctx context.Context, userID string, conversationIDs []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inSet := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		inSet[id] = true
	}
	var ids []string
	for _, m := range b.members {
		if m.UserID == userID && inSet[m.ConversationID] {
			ids = append(ids, m.ConversationID)
		}
	}
	return ids, nil
}

func (b *fakeBackend) CreateConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.tick()
	conv := model.Conversation{
		ID:        fmt.Sprintf("conv-%d", b.seq),
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.convs[conv.ID] = conv
	b.members = append(b.members,
		model.Participant{ConversationID: conv.ID, UserID: userA},
		model.Participant{ConversationID: conv.ID, UserID: userB},
	)
	return &conv, nil
}

func (b *fakeBackend) Touch(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.convs[id]
	if !ok {
		return repository.ErrConversationNotFound
	}
	conv.UpdatedAt = b.tick()
	b.convs[id] = conv
	return nil
}

func (b *fakeBackend) CounterpartsFor(ctx context.Context, userID string, conversationIDs []string) (map[string]model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inSet := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		inSet[id] = true
	}
	counterparts := make(map[string]model.Profile)
	for _, m := range b.members {
		if !inSet[m.ConversationID] || m.UserID == userID {
			continue
		}
		if p, ok := b.profiles[m.UserID]; ok {
			counterparts[m.ConversationID] = p
		}
	}
	return counterparts, nil
}

// --- MessageStore ---

func (b *fakeBackend) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	b.mu.Lock()
	if b.listErr != nil {
		b.mu.Unlock()
		return nil, b.listErr
	}
	var result []model.Message
	for _, msg := range b.msgs {
		if msg.ConversationID == conversationID {
			result = append(result, msg)
		}
	}
	// 一次性钩子，在锁外执行
	hook := b.listHook
	b.listHook = nil
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, nil
}

func (b *fakeBackend) Insert(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	b.mu.Lock()
	if b.insertErr != nil {
		b.mu.Unlock()
		return nil, b.insertErr
	}
	now := b.tick()
	msg := model.Message{
		ID:             fmt.Sprintf("msg-%d", b.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	b.msgs = append(b.msgs, msg)
	hook := b.insertHook
	b.mu.Unlock()

	if hook != nil {
		hook(&msg)
	}
	return &msg, nil
}

func (b *fakeBackend) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var updated []model.Message
	for i := range b.msgs {
		if b.msgs[i].ConversationID == conversationID && b.msgs[i].SenderID != readerID && !b.msgs[i].Read {
			b.msgs[i].Read = true
			updated = append(updated, b.msgs[i])
		}
	}
	return updated, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, messageID string) (*model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.msgs {
		if b.msgs[i].ID == messageID {
			b.msgs[i].Read = true
			msg := b.msgs[i]
			return &msg, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (b *fakeBackend) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inSet := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		inSet[id] = true
	}
	counts := make(map[string]int)
	for _, msg := range b.msgs {
		if inSet[msg.ConversationID] && msg.SenderID != userID && !msg.Read {
			counts[msg.ConversationID]++
		}
	}
	return counts, nil
}

func (b *fakeBackend) LastMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inSet := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		inSet[id] = true
	}
	last := make(map[string]model.Message)
	for _, msg := range b.msgs {
		if !inSet[msg.ConversationID] {
			continue
		}
		if prev, ok := last[msg.ConversationID]; !ok || msg.CreatedAt.After(prev.CreatedAt) {
			last[msg.ConversationID] = msg
		}
	}
	return last, nil
}

// conversationAdapter 让 fakeBackend 的会话创建方法对齐 ConversationStore 接口名
type conversationAdapter struct {
	*fakeBackend
}

func (a conversationAdapter) Create(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	return a.CreateConversation(ctx, userA, userB)
}

// fakeFeed 内存版变更通道，发布时同步投递给在册订阅者
type fakeFeed struct {
	mu              sync.Mutex
	nextSub         int
	msgHandlers     map[int]func(realtime.MessageEvent)
	profileHandlers map[int]func(realtime.ProfileEvent)

	msgEvents     []realtime.MessageEvent
	profileEvents []realtime.ProfileEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		msgHandlers:     make(map[int]func(realtime.MessageEvent)),
		profileHandlers: make(map[int]func(realtime.ProfileEvent)),
	}
}

type fakeHandle struct {
	release func()
}

func (h *fakeHandle) Unsubscribe() error {
	h.release()
	return nil
}

func (f *fakeFeed) SubscribeMessages(handler func(realtime.MessageEvent)) (realtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.msgHandlers[id] = handler
	return &fakeHandle{release: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.msgHandlers, id)
	}}, nil
}

func (f *fakeFeed) SubscribeProfiles(handler func(realtime.ProfileEvent)) (realtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.profileHandlers[id] = handler
	return &fakeHandle{release: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.profileHandlers, id)
	}}, nil
}

func (f *fakeFeed) PublishMessageInsert(msg *model.Message) error {
	return f.publishMessage(realtime.MessageEvent{Kind: realtime.EventInsert, Message: *msg})
}

func (f *fakeFeed) PublishMessageUpdate(msg *model.Message) error {
	return f.publishMessage(realtime.MessageEvent{Kind: realtime.EventUpdate, Message: *msg})
}

func (f *fakeFeed) publishMessage(event realtime.MessageEvent) error {
	f.mu.Lock()
	f.msgEvents = append(f.msgEvents, event)
	handlers := make([]func(realtime.MessageEvent), 0, len(f.msgHandlers))
	for _, h := range f.msgHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (f *fakeFeed) PublishProfileUpdate(p *model.Profile) error {
	event := realtime.ProfileEvent{Kind: realtime.EventUpdate, Profile: *p}
	f.mu.Lock()
	f.profileEvents = append(f.profileEvents, event)
	handlers := make([]func(realtime.ProfileEvent), 0, len(f.profileHandlers))
	for _, h := range f.profileHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (f *fakeFeed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgHandlers) + len(f.profileHandlers)
}

func (f *fakeFeed) messageEvents() []realtime.MessageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]realtime.MessageEvent, len(f.msgEvents))
	copy(events, f.msgEvents)
	return events
}

// fakePresenceCache 记录在线标记操作
type fakePresenceCache struct {
	mu        sync.Mutex
	refreshed int
	cleared   int
}

func (c *fakePresenceCache) Refresh(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed++
	return nil
}

func (c *fakePresenceCache) Clear(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return nil
}

func (c *fakePresenceCache) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshed, c.cleared
}

// fakePush 记录推送请求
type fakePush struct {
	mu      sync.Mutex
	enabled bool
	sent    []push.Payload
}

func (p *fakePush) Enabled() bool {
	return p.enabled
}

func (p *fakePush) Send(ctx context.Context, payload *push.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, *payload)
	return nil
}

func (p *fakePush) sentPayloads() []push.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	payloads := make([]push.Payload, len(p.sent))
	copy(payloads, p.sent)
	return payloads
}
