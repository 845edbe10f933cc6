package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kialiao1999-ui/my-messaging-app/internal/auth"
	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
	"github.com/kialiao1999-ui/my-messaging-app/internal/repository"
)

// Gate 资料门卫
// 保证认证主体在资料表里有对应记录，并判断是否需要进入手机号引导流程
type Gate struct {
	profiles ProfileStore
	logger   *slog.Logger
}

// NewGate 创建资料门卫
func NewGate(profiles ProfileStore) *Gate {
	return &Gate{
		profiles: profiles,
		logger:   slog.Default(),
	}
}

// EnsureProfile 获取主体资料，缺失时用声明里的信息创建
// 返回资料和是否需要引导：
//   - 正常取到资料：手机号为空则需要引导
//   - 干净的未找到：创建后视为刚完成注册，不立即进入引导
//   - 其它读取失败：资料为 nil，按需要引导处理（宁可重新询问也不跳过）
func (g *Gate) EnsureProfile(ctx context.Context, principal *auth.Principal) (*model.Profile, bool) {
	profile, err := g.profiles.GetByID(ctx, principal.ID)
	if err == nil {
		return profile, profile.Phone == ""
	}

	if !errors.Is(err, repository.ErrProfileNotFound) {
		g.logger.Warn("Profile fetch failed, assuming onboarding needed",
			"userId", principal.ID,
			"error", err)
		return nil, true
	}

	created, err := g.profiles.Create(ctx, defaultProfile(principal))
	if err != nil {
		g.logger.Error("Failed to create profile", "userId", principal.ID, "error", err)
		return nil, true
	}
	if created {
		g.logger.Info("Profile created", "userId", principal.ID, "email", principal.Email)
	}

	// 重新读取拿到权威时间戳；并发重复创建时读到的是先落库的那行
	profile, err = g.profiles.GetByID(ctx, principal.ID)
	if err != nil {
		g.logger.Warn("Profile fetch after create failed", "userId", principal.ID, "error", err)
		return nil, true
	}
	return profile, false
}

// defaultProfile 从认证声明推导初始资料
func defaultProfile(principal *auth.Principal) *model.Profile {
	displayName := principal.DisplayName
	if displayName == "" {
		displayName = principal.Email
	}
	return &model.Profile{
		ID:          principal.ID,
		DisplayName: displayName,
		Email:       principal.Email,
		Avatar:      principal.Avatar,
	}
}
