package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kialiao1999-ui/my-messaging-app/internal/realtime"
)

var (
	// ErrDispatcherRunning 同一会话同时只允许一个分发器，避免事件被重复应用
	ErrDispatcherRunning = errors.New("dispatcher already running")
)

// dispatchEvent 进入分发队列的事件，两个字段互斥
type dispatchEvent struct {
	message *realtime.MessageEvent
	profile *realtime.ProfileEvent
}

// Dispatcher 实时更新分发器
// 持有消息表和资料表两个订阅句柄，所有事件汇入单一通道由一个
// goroutine 顺序处理，视图状态的变更不需要额外加锁协调。
// 句柄在 Stop 时释放，不允许跨视图生命周期累积。
type Dispatcher struct {
	localUserID string
	feed        ChangeFeed
	messages    MessageStore
	timeline    *Timeline
	index       *ConversationIndex
	logger      *slog.Logger

	mu         sync.Mutex
	started    bool
	msgSub     realtime.Handle
	profileSub realtime.Handle
	events     chan dispatchEvent
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewDispatcher 创建分发器
func NewDispatcher(localUserID string, feed ChangeFeed, messages MessageStore, timeline *Timeline, index *ConversationIndex) *Dispatcher {
	return &Dispatcher{
		localUserID: localUserID,
		feed:        feed,
		messages:    messages,
		timeline:    timeline,
		index:       index,
		logger:      slog.Default(),
	}
}

// Start 建立订阅并启动事件循环
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrDispatcherRunning
	}

	d.events = make(chan dispatchEvent, 256)
	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	msgSub, err := d.feed.SubscribeMessages(func(event realtime.MessageEvent) {
		d.enqueue(dispatchEvent{message: &event})
	})
	if err != nil {
		cancel()
		return err
	}

	profileSub, err := d.feed.SubscribeProfiles(func(event realtime.ProfileEvent) {
		d.enqueue(dispatchEvent{profile: &event})
	})
	if err != nil {
		msgSub.Unsubscribe()
		cancel()
		return err
	}

	d.msgSub = msgSub
	d.profileSub = profileSub
	d.started = true

	go d.run(workerCtx)

	d.logger.Info("Dispatcher started", "userId", d.localUserID)
	return nil
}

// enqueue 事件入队，队列满时丢弃并告警
// 丢失的事件依赖用户重新选择会话触发的全量加载兜底
func (d *Dispatcher) enqueue(event dispatchEvent) {
	select {
	case d.events <- event:
	default:
		d.logger.Warn("Event buffer full, dropping event")
	}
}

// run 事件循环
func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			switch {
			case event.message != nil:
				d.routeMessage(ctx, event.message)
			case event.profile != nil:
				d.routeProfile(event.profile)
			}
		}
	}
}

// routeMessage 把消息事件路由到时间线和会话列表
func (d *Dispatcher) routeMessage(ctx context.Context, event *realtime.MessageEvent) {
	msg := event.Message

	switch event.Kind {
	case realtime.EventInsert:
		applied := d.timeline.ApplyInsert(&msg)

		// 正被查看的会话里收到对方消息，立即置为已读
		if applied && msg.SenderID != d.localUserID && !msg.Read {
			updated, err := d.messages.MarkRead(ctx, msg.ID)
			if err != nil {
				d.logger.Warn("Failed to mark incoming message read", "messageId", msg.ID, "error", err)
			} else {
				if err := d.feed.PublishMessageUpdate(updated); err != nil {
					d.logger.Warn("Failed to publish read update", "messageId", updated.ID, "error", err)
				}
				d.timeline.ApplyUpdate(updated)
				msg.Read = true
			}
		}

		viewing := msg.ConversationID == d.timeline.ActiveConversationID()
		if !d.index.ApplyMessage(&msg, viewing) {
			d.reloadIndex(ctx)
		}

	case realtime.EventUpdate:
		d.timeline.ApplyUpdate(&msg)
		if !d.index.ApplyMessageUpdate(&msg) {
			d.reloadIndex(ctx)
		}
	}
}

// routeProfile 把资料事件的在线状态修补到所有出现位置
func (d *Dispatcher) routeProfile(event *realtime.ProfileEvent) {
	p := event.Profile
	d.index.ApplyPresence(p.ID, p.Online, p.LastSeenAt)
	d.timeline.ApplyPresence(p.ID, p.Online, p.LastSeenAt)
}

// reloadIndex 增量修补失败时退回全量加载
func (d *Dispatcher) reloadIndex(ctx context.Context) {
	if err := d.index.Load(ctx); err != nil {
		d.logger.Warn("Failed to reload conversation index", "error", err)
	}
}

// Stop 释放订阅并停止事件循环
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}

	if d.msgSub != nil {
		d.msgSub.Unsubscribe()
		d.msgSub = nil
	}
	if d.profileSub != nil {
		d.profileSub.Unsubscribe()
		d.profileSub = nil
	}

	d.cancel()
	<-d.done
	d.started = false

	d.logger.Info("Dispatcher stopped", "userId", d.localUserID)
}
