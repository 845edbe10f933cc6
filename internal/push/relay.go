package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kialiao1999-ui/my-messaging-app/internal/config"
)

// Payload 推送请求体
type Payload struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Relay 推送中继客户端
// 通过一次性远程函数调用投递系统通知；功能开关关闭时为空操作，
// 核心收发消息不依赖它
type Relay struct {
	enabled     bool
	functionURL string
	client      *http.Client
	logger      *slog.Logger
}

// NewRelay 创建推送中继客户端
func NewRelay(cfg config.PushConfig) *Relay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		enabled:     cfg.Enabled,
		functionURL: cfg.FunctionURL,
		client:      &http.Client{Timeout: timeout},
		logger:      slog.Default(),
	}
}

// Enabled 功能开关是否打开
func (r *Relay) Enabled() bool {
	return r.enabled && r.functionURL != ""
}

// Send 调用远程函数投递通知
func (r *Relay) Send(ctx context.Context, payload *Payload) error {
	if !r.Enabled() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.functionURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push relay returned status %d", resp.StatusCode)
	}

	r.logger.Debug("Push notification delivered", "title", payload.Title)
	return nil
}
