package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

// DefaultHeartbeat 在线心跳默认间隔
const DefaultHeartbeat = 30 * time.Second

// Reporter 在线状态上报器
// 进入会话后立即上报在线，之后按固定间隔心跳续期；停止时尽力上报离线。
// 上报失败只记录日志，不影响核心收发
type Reporter struct {
	userID   string
	profiles ProfileStore
	cache    PresenceCache
	feed     ChangeFeed
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReporter 创建上报器
func NewReporter(userID string, profiles ProfileStore, cache PresenceCache, feed ChangeFeed, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	return &Reporter{
		userID:   userID,
		profiles: profiles,
		cache:    cache,
		feed:     feed,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Start 立即上报在线并启动心跳
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	r.report(loopCtx, true)
	go r.loop(loopCtx)

	r.logger.Info("Presence reporter started", "userId", r.userID, "interval", r.interval)
}

// loop 心跳循环
func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx, true)
		}
	}
}

// Stop 停止心跳并尽力上报离线
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	r.cancel()
	<-r.done
	r.started = false

	// 原上下文已取消，离线上报用独立的短超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r.report(ctx, false)

	r.logger.Info("Presence reporter stopped", "userId", r.userID)
}

// report 上报一次在线状态：落库、刷新在线标记、发布资料变更事件
func (r *Reporter) report(ctx context.Context, online bool) {
	now := time.Now()

	if err := r.profiles.UpdatePresence(ctx, r.userID, online, now); err != nil {
		r.logger.Warn("Failed to update presence", "userId", r.userID, "online", online, "error", err)
	}

	var err error
	if online {
		err = r.cache.Refresh(ctx, r.userID)
	} else {
		err = r.cache.Clear(ctx, r.userID)
	}
	if err != nil {
		r.logger.Warn("Failed to update presence cache", "userId", r.userID, "error", err)
	}

	// 事件只携带在线状态相关字段，消费方按字段修补
	event := &model.Profile{ID: r.userID, Online: online, LastSeenAt: now}
	if err := r.feed.PublishProfileUpdate(event); err != nil {
		r.logger.Warn("Failed to publish presence update", "userId", r.userID, "error", err)
	}
}
