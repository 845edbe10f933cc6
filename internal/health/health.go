package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kialiao1999-ui/my-messaging-app/internal/realtime"
)

const (
	stateUp   = "up"
	stateDown = "down"

	probeTimeout = 2 * time.Second
)

// Status 三个外部协作方的探测结果
// 变更通道断开时收发仍可用但视图会滞后，所以单独列出每一项
type Status struct {
	ChangeFeed string `json:"changeFeed"`
	Cache      string `json:"cache"`
	Store      string `json:"store"`
}

// Checker 协作方健康探测
type Checker struct {
	feed  *realtime.Feed
	cache *redis.Client
	store *pgxpool.Pool
}

// NewChecker 创建健康探测器
func NewChecker(feed *realtime.Feed, cache *redis.Client, store *pgxpool.Pool) *Checker {
	return &Checker{
		feed:  feed,
		cache: cache,
		store: store,
	}
}

// Check 探测全部协作方
func (h *Checker) Check(ctx context.Context) *Status {
	return &Status{
		ChangeFeed: state(h.feed.IsConnected()),
		Cache:      state(h.probeCache(ctx)),
		Store:      state(h.probeStore(ctx)),
	}
}

// IsHealthy 全部协作方可达时为健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	status := h.Check(ctx)
	return status.ChangeFeed == stateUp &&
		status.Cache == stateUp &&
		status.Store == stateUp
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	code := http.StatusOK
	if status.ChangeFeed != stateUp || status.Cache != stateUp || status.Store != stateUp {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (h *Checker) probeCache(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return h.cache.Ping(ctx).Err() == nil
}

func (h *Checker) probeStore(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return h.store.Ping(ctx) == nil
}

func state(ok bool) string {
	if ok {
		return stateUp
	}
	return stateDown
}
