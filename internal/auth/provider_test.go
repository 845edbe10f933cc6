package auth

import (
	"context"
	"testing"
	"time"
)

func TestProvider_SignInRestoreSignOut(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	tokens := NewTokenService("test-secret-key", time.Hour)
	provider := NewProvider(tokens, NewSessionCache(client))
	ctx := context.Background()

	if provider.CurrentSession() != nil {
		t.Error("Expected no session before sign in")
	}

	// 会话变更通知：登录一次、登出一次
	var changes []*Session
	provider.OnSessionChange(func(s *Session) {
		changes = append(changes, s)
	})

	identityToken, _, err := tokens.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Failed to issue identity token: %v", err)
	}

	session, err := provider.SignIn(ctx, identityToken)
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if session.Principal.ID != "user-123" {
		t.Errorf("Expected principal user-123, got %s", session.Principal.ID)
	}
	if provider.CurrentSession() == nil {
		t.Fatal("Expected current session after sign in")
	}

	// 用缓存里的会话令牌恢复
	restored, err := provider.Restore(ctx, session.Token)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Principal.ID != session.Principal.ID {
		t.Errorf("Expected restored principal %s, got %s", session.Principal.ID, restored.Principal.ID)
	}

	if err := provider.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if provider.CurrentSession() != nil {
		t.Error("Expected no session after sign out")
	}
	if err := provider.SignOut(ctx); err != ErrNoSession {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}

	if len(changes) != 3 {
		t.Fatalf("Expected 3 session change notifications, got %d", len(changes))
	}
	if changes[len(changes)-1] != nil {
		t.Error("Expected final notification to carry nil session")
	}
}

func TestProvider_RestoreFallsBackToLocalParse(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	tokens := NewTokenService("test-secret-key", time.Hour)
	provider := NewProvider(tokens, NewSessionCache(client))

	// 缓存里没有这个令牌，回退到本地校验
	token, _, err := tokens.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	session, err := provider.Restore(context.Background(), token)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if session.Principal.ID != "user-123" {
		t.Errorf("Expected principal user-123, got %s", session.Principal.ID)
	}
}

func TestProvider_SignInRejectsInvalidToken(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	tokens := NewTokenService("test-secret-key", time.Hour)
	provider := NewProvider(tokens, NewSessionCache(client))

	_, err := provider.SignIn(context.Background(), "garbage")
	if err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}
