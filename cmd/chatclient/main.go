package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kialiao1999-ui/my-messaging-app/internal/auth"
	"github.com/kialiao1999-ui/my-messaging-app/internal/chat"
	"github.com/kialiao1999-ui/my-messaging-app/internal/config"
	"github.com/kialiao1999-ui/my-messaging-app/internal/health"
	"github.com/kialiao1999-ui/my-messaging-app/internal/presence"
	"github.com/kialiao1999-ui/my-messaging-app/internal/push"
	"github.com/kialiao1999-ui/my-messaging-app/internal/realtime"
	"github.com/kialiao1999-ui/my-messaging-app/internal/repository"
)

func main() {
	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	// 加载配置
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 建立变更通道
	feed, err := realtime.Connect(cfg.NATS)
	if err != nil {
		logger.Error("Failed to connect change feed", "error", err)
		os.Exit(1)
	}
	defer feed.Close()
	logger.Info("Change feed connected", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "host", cfg.Redis.Host)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 恢复认证会话
	tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.SessionExpire)
	provider := auth.NewProvider(tokens, auth.NewSessionCache(redisClient))

	token := cfg.Auth.Token
	if envToken := os.Getenv("CHAT_SESSION_TOKEN"); envToken != "" {
		token = envToken
	}
	authSession, err := provider.Restore(ctx, token)
	if err != nil {
		logger.Error("Failed to restore auth session", "error", err)
		os.Exit(1)
	}

	// 组装同步会话
	session := chat.NewSession(authSession.Principal, chat.Deps{
		Profiles:      repository.NewProfileRepository(db),
		Conversations: repository.NewConversationRepository(db),
		Messages:      repository.NewMessageRepository(db),
		Feed:          feed,
		Presence:      presence.NewCache(redisClient, cfg.Presence.TTL),
		Push:          push.NewRelay(cfg.Push),
		Heartbeat:     cfg.Presence.Heartbeat,
	})
	if err := session.Begin(ctx); err != nil {
		logger.Error("Failed to start session", "error", err)
		os.Exit(1)
	}

	// 启动健康检查 HTTP 服务
	healthChecker := health.NewChecker(feed, redisClient, db)
	go startHealthServer(healthChecker, logger)

	logger.Info("Chat client started",
		"name", cfg.App.Name,
		"userId", authSession.Principal.ID,
		"needsOnboarding", session.NeedsOnboarding())

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	session.Close()
	cancel()
	logger.Info("Chat client stopped")
}

// startHealthServer 启动健康检查 HTTP 服务
func startHealthServer(healthChecker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})

	server := &http.Server{
		Addr:    ":8081",
		Handler: mux,
	}

	logger.Info("Health check server started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health check server failed", "error", err)
	}
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
