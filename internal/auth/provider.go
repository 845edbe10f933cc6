package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNoSession = errors.New("no active session")
)

// Session 认证会话
type Session struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider 认证服务客户端
// 对外提供当前会话查询、会话变更订阅、第三方身份登录和登出，
// 认证协议本身由外部服务实现，这里只消费其签发的身份令牌
type Provider struct {
	tokens *TokenService
	cache  *SessionCache
	logger *slog.Logger

	mu        sync.Mutex
	current   *Session
	listeners []func(*Session)
}

// NewProvider 创建认证客户端
func NewProvider(tokens *TokenService, cache *SessionCache) *Provider {
	return &Provider{
		tokens: tokens,
		cache:  cache,
		logger: slog.Default(),
	}
}

// CurrentSession 获取当前会话，未登录时返回 nil
func (p *Provider) CurrentSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// OnSessionChange 订阅会话变更（登录传入新会话，登出传入 nil）
func (p *Provider) OnSessionChange(fn func(*Session)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SignIn 使用第三方身份令牌登录
// 校验令牌、签发会话令牌并写入会话缓存
func (p *Provider) SignIn(ctx context.Context, identityToken string) (*Session, error) {
	principal, err := p.tokens.Parse(identityToken)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := p.tokens.Issue(principal)
	if err != nil {
		return nil, err
	}

	session := &Session{
		Token:     token,
		Principal: *principal,
		ExpiresAt: expiresAt,
	}

	if err := p.cache.Save(ctx, principal, token, time.Until(expiresAt)); err != nil {
		return nil, err
	}

	p.setCurrent(session)
	p.logger.Info("Signed in", "userId", principal.ID, "email", principal.Email)
	return session, nil
}

// Restore 使用已有会话令牌恢复会话（进程启动时）
// 缓存未命中时回退到本地校验令牌本身
func (p *Provider) Restore(ctx context.Context, token string) (*Session, error) {
	principal, err := p.cache.Get(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			p.logger.Warn("Session cache lookup failed", "error", err)
		}
		principal, err = p.tokens.Parse(token)
		if err != nil {
			return nil, err
		}
	}

	session := &Session{
		Token:     token,
		Principal: *principal,
	}

	p.setCurrent(session)
	p.logger.Info("Session restored", "userId", principal.ID)
	return session, nil
}

// SignOut 登出并清理会话缓存
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil {
		return ErrNoSession
	}

	if err := p.cache.Delete(ctx, current.Principal.ID, current.Token); err != nil {
		p.logger.Warn("Failed to delete cached session", "userId", current.Principal.ID, "error", err)
	}

	p.setCurrent(nil)
	p.logger.Info("Signed out", "userId", current.Principal.ID)
	return nil
}

// setCurrent 更新当前会话并通知订阅者
func (p *Provider) setCurrent(session *Session) {
	p.mu.Lock()
	p.current = session
	listeners := make([]func(*Session), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(session)
	}
}
