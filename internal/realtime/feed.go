package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kialiao1999-ui/my-messaging-app/internal/config"
	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

// Subject 常量定义
// 变更事件按表分主题发布，订阅方使用通配主题接收
const (
	SubjectMessageInsert = "chat.messages.insert"
	SubjectMessageUpdate = "chat.messages.update"
	SubjectMessagesAll   = "chat.messages.*"
	SubjectProfileUpdate = "chat.profiles.update"
)

// 事件类型
const (
	EventInsert = "insert"
	EventUpdate = "update"
)

// MessageEvent 消息表行级变更事件
type MessageEvent struct {
	Kind    string        `json:"kind"`
	Message model.Message `json:"message"`
}

// ProfileEvent 资料表行级变更事件（在线状态相关字段）
type ProfileEvent struct {
	Kind    string        `json:"kind"`
	Profile model.Profile `json:"profile"`
}

// Handle 订阅句柄
// 由获取方持有，视图卸载或活动会话切换时必须释放，避免监听器堆积
type Handle interface {
	Unsubscribe() error
}

// Subscription NATS 订阅句柄实现
type Subscription struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// Unsubscribe 取消订阅
func (s *Subscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.Error("Failed to unsubscribe", "subject", s.sub.Subject, "error", err)
		return err
	}
	return nil
}

// Feed 行级变更通道
// 写路径在落库成功后发布事件；读路径按表订阅，投递是异步且至少一次的，
// 与客户端自身写入之间不保证先后顺序
type Feed struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewFeed 在已有连接上创建变更通道
func NewFeed(nc *nats.Conn) *Feed {
	return &Feed{
		nc:     nc,
		logger: slog.Default(),
	}
}

// Connect 建立变更通道自有的连接
// 断线期间发布的事件会丢失，重连后靠订阅自动恢复加全量加载兜底，
// 所以这里只做有限次重连并把状态变化记进日志
func Connect(cfg config.NATSConfig) (*Feed, error) {
	opts := []nats.Option{
		nats.Name("chat-change-feed"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Change feed disconnected, events may be missed", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Change feed reconnected, subscriptions restored", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("Change feed connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return NewFeed(nc), nil
}

// IsConnected 检查连接状态
func (f *Feed) IsConnected() bool {
	return f.nc != nil && f.nc.IsConnected()
}

// Close 关闭变更通道
// 先排空在途事件再断开；排空失败时直接关闭
func (f *Feed) Close() {
	if f.nc == nil {
		return
	}
	if err := f.nc.Drain(); err != nil {
		f.logger.Warn("Failed to drain change feed connection", "error", err)
		f.nc.Close()
	}
}

// PublishMessageInsert 发布消息插入事件
func (f *Feed) PublishMessageInsert(msg *model.Message) error {
	return f.publish(SubjectMessageInsert, MessageEvent{Kind: EventInsert, Message: *msg})
}

// PublishMessageUpdate 发布消息更新事件（已读状态翻转）
func (f *Feed) PublishMessageUpdate(msg *model.Message) error {
	return f.publish(SubjectMessageUpdate, MessageEvent{Kind: EventUpdate, Message: *msg})
}

// PublishProfileUpdate 发布资料更新事件
func (f *Feed) PublishProfileUpdate(p *model.Profile) error {
	return f.publish(SubjectProfileUpdate, ProfileEvent{Kind: EventUpdate, Profile: *p})
}

func (f *Feed) publish(subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("Failed to marshal change event", "subject", subject, "error", err)
		return err
	}

	if err := f.nc.Publish(subject, data); err != nil {
		f.logger.Error("Failed to publish change event", "subject", subject, "error", err)
		return err
	}

	f.logger.Debug("Published change event", "subject", subject)
	return nil
}

// SubscribeMessages 订阅消息表变更事件
func (f *Feed) SubscribeMessages(handler func(MessageEvent)) (Handle, error) {
	sub, err := f.nc.Subscribe(SubjectMessagesAll, func(msg *nats.Msg) {
		var event MessageEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Error("Failed to unmarshal message event", "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("Subscribed to message changes", "subject", SubjectMessagesAll)
	return &Subscription{sub: sub, logger: f.logger}, nil
}

// SubscribeProfiles 订阅资料表变更事件
func (f *Feed) SubscribeProfiles(handler func(ProfileEvent)) (Handle, error) {
	sub, err := f.nc.Subscribe(SubjectProfileUpdate, func(msg *nats.Msg) {
		var event ProfileEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Error("Failed to unmarshal profile event", "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("Subscribed to profile changes", "subject", SubjectProfileUpdate)
	return &Subscription{sub: sub, logger: f.logger}, nil
}
