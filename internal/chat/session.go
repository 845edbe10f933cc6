package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/auth"
	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
	"github.com/kialiao1999-ui/my-messaging-app/internal/push"
)

// Deps 会话依赖的外部协作方
type Deps struct {
	Profiles      ProfileStore
	Conversations ConversationStore
	Messages      MessageStore
	Feed          ChangeFeed
	Presence      PresenceCache
	Push          PushSender
	Heartbeat     time.Duration
}

// Session 一个已认证用户的同步会话
// 组合资料门卫、会话列表、时间线、分发器和上报器；
// Begin 建立全部状态，Close 负责完整回收
type Session struct {
	principal auth.Principal
	deps      Deps
	logger    *slog.Logger

	gate       *Gate
	index      *ConversationIndex
	timeline   *Timeline
	dispatcher *Dispatcher
	reporter   *Reporter

	mu              sync.Mutex
	profile         *model.Profile
	needsOnboarding bool
}

// NewSession 创建同步会话
func NewSession(principal auth.Principal, deps Deps) *Session {
	index := NewConversationIndex(principal.ID, deps.Conversations, deps.Messages)
	timeline := NewTimeline(principal.ID, deps.Conversations, deps.Messages, deps.Feed)

	return &Session{
		principal:  principal,
		deps:       deps,
		logger:     slog.Default(),
		gate:       NewGate(deps.Profiles),
		index:      index,
		timeline:   timeline,
		dispatcher: NewDispatcher(principal.ID, deps.Feed, deps.Messages, timeline, index),
		reporter:   NewReporter(principal.ID, deps.Profiles, deps.Presence, deps.Feed, deps.Heartbeat),
	}
}

// Begin 建立会话：资料门卫、会话列表加载、分发器和心跳
// 列表加载失败降级为空列表，用户重新触发操作时自然重试
func (s *Session) Begin(ctx context.Context) error {
	profile, needsOnboarding := s.gate.EnsureProfile(ctx, &s.principal)
	s.mu.Lock()
	s.profile = profile
	s.needsOnboarding = needsOnboarding
	s.mu.Unlock()

	if err := s.index.Load(ctx); err != nil {
		s.logger.Warn("Initial conversation index load failed", "userId", s.principal.ID, "error", err)
	}

	if err := s.dispatcher.Start(ctx); err != nil {
		return err
	}
	s.reporter.Start(ctx)

	s.logger.Info("Session started", "userId", s.principal.ID, "needsOnboarding", needsOnboarding)
	return nil
}

// Close 回收会话：离线上报并释放订阅
func (s *Session) Close() {
	s.reporter.Stop()
	s.dispatcher.Stop()
	s.logger.Info("Session closed", "userId", s.principal.ID)
}

// Principal 当前认证主体
func (s *Session) Principal() auth.Principal {
	return s.principal
}

// Profile 本人资料，门卫失败时可能为 nil
func (s *Session) Profile() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// NeedsOnboarding 是否需要手机号引导
func (s *Session) NeedsOnboarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsOnboarding
}

// CompletePhoneSetup 完成手机号引导
func (s *Session) CompletePhoneSetup(ctx context.Context, phone string) error {
	if err := s.deps.Profiles.UpdatePhone(ctx, s.principal.ID, phone); err != nil {
		return err
	}

	s.mu.Lock()
	s.needsOnboarding = false
	if s.profile != nil {
		s.profile.Phone = phone
	}
	s.mu.Unlock()
	return nil
}

// RegisterPushToken 保存推送令牌（与核心同步无关，可独立失败）
func (s *Session) RegisterPushToken(ctx context.Context, token string) error {
	return s.deps.Profiles.UpdatePushToken(ctx, s.principal.ID, token)
}

// SearchUsers 按邮箱查找其他用户
func (s *Session) SearchUsers(ctx context.Context, query string) ([]model.Profile, error) {
	return s.deps.Profiles.SearchByEmail(ctx, query, s.principal.ID)
}

// Conversations 当前会话列表快照
func (s *Session) Conversations() []model.ConversationView {
	return s.index.Snapshot()
}

// Timeline 活动会话的时间线条目
func (s *Session) Timeline() []Entry {
	return s.timeline.Entries()
}

// ActiveConversationID 活动会话 ID
func (s *Session) ActiveConversationID() string {
	return s.timeline.ActiveConversationID()
}

// OpenConversation 打开与目标用户的会话并清掉它的未读标记
func (s *Session) OpenConversation(ctx context.Context, other *model.Profile) error {
	conversationID, err := s.timeline.Open(ctx, other)
	if err != nil {
		return err
	}
	s.index.MarkViewed(conversationID)
	return nil
}

// Send 在活动会话中发送消息
// 成功后增量修补会话列表（未知会话退回全量加载），并尝试推送通知
func (s *Session) Send(ctx context.Context, text string) (*model.Message, error) {
	msg, err := s.timeline.Send(ctx, text)
	if err != nil {
		return nil, err
	}

	if !s.index.ApplyMessage(msg, true) {
		if err := s.index.Load(ctx); err != nil {
			s.logger.Warn("Conversation index reload failed", "error", err)
		}
	}

	s.notifyCounterpart(msg)
	return msg, nil
}

// notifyCounterpart 给对方投递系统通知
// 功能开关关闭或对方没有令牌时跳过；失败不影响发送结果
func (s *Session) notifyCounterpart(msg *model.Message) {
	if s.deps.Push == nil || !s.deps.Push.Enabled() {
		return
	}

	counterpart := s.timeline.Counterpart()
	if counterpart.ID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 发送时重新取对方资料，拿到最新的推送令牌
		receiver, err := s.deps.Profiles.GetByID(ctx, counterpart.ID)
		if err != nil || receiver.PushToken == "" {
			return
		}

		title := s.principal.DisplayName
		if title == "" {
			title = s.principal.Email
		}
		err = s.deps.Push.Send(ctx, &push.Payload{
			Token: receiver.PushToken,
			Title: title,
			Body:  msg.Content,
			Data: map[string]string{
				"senderId":  msg.SenderID,
				"messageId": msg.ID,
			},
		})
		if err != nil {
			s.logger.Warn("Push notification failed", "receiverId", receiver.ID, "error", err)
		}
	}()
}
