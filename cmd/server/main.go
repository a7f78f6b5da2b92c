package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unibox/backend/internal/auth"
	"unibox/backend/internal/config"
	"unibox/backend/internal/domain"
	"unibox/backend/internal/health"
	"unibox/backend/internal/logger"
	"unibox/backend/internal/monitoring"
	"unibox/backend/internal/pool"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/provider/imapclient"
	"unibox/backend/internal/provider/mailapi"
	"unibox/backend/internal/provider/smsa"
	"unibox/backend/internal/provider/smsb"
	"unibox/backend/internal/provider/whatsapp"
	"unibox/backend/internal/secret"
	"unibox/backend/internal/storage"
	"unibox/backend/internal/storage/memory"
	"unibox/backend/internal/storage/redis"
	sqlstore "unibox/backend/internal/storage/sql"
	syncpkg "unibox/backend/internal/sync"
	"unibox/backend/internal/timeline"
	httptransport "unibox/backend/internal/transport/http"
	"unibox/backend/internal/websocket"
)

// main 启动统一收件箱服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting unibox server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis（快照缓存、JWT 黑名单）。连接失败降级为
	// 纯内存运行，不阻止启动。
	var cache *redis.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(&cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, running without snapshot cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redis.NewCache(redisClient, 24*time.Hour)
			log.Info("redis cache initialized", zap.String("address", cfg.Redis.Address))
		}
	}

	// 凭证加密器：密钥非法直接拒绝启动，存量凭证解不开
	// 比启动失败更难排查
	cipher, err := secret.NewCipher(cfg.Credential.EncryptionKey)
	if err != nil {
		panic(fmt.Sprintf("invalid credential encryption key: %v", err))
	}

	// 服务商适配器注册表
	registry := provider.NewRegistry(cipher.Decrypt)
	registry.Register(domain.AccountTypeMail, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
		return mailapi.New(account, credentialJSON, "", log)
	})
	registry.Register(domain.AccountTypeIMAP, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
		return imapclient.New(account, credentialJSON, log)
	})
	registry.Register(domain.AccountTypeSMSA, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
		return smsa.New(account, credentialJSON, "", log)
	})
	registry.Register(domain.AccountTypeSMSB, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
		return smsb.New(account, credentialJSON, "", log)
	})
	registry.Register(domain.AccountTypeWhatsApp, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
		return whatsapp.New(account, credentialJSON, "", log)
	})
	log.Info("provider registry initialized",
		zap.Int("platforms", len(registry.Platforms())))

	// 时间线管理器：Redis 可用时快照写穿缓存
	var persister timeline.Persister
	if cache != nil {
		persister = cache
	}
	sessions := timeline.NewManager(persister, log)

	// 监控系统
	metrics := monitoring.NewMetrics()

	// 认证服务：黑名单优先放 Redis（多实例共享吊销状态），
	// 不可用时退回数据库
	jwtManager := auth.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	var blacklist auth.BlacklistRepository = store
	if cache != nil {
		blacklist = cache
	}
	authService := auth.NewService(store, blacklist, jwtManager)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 同步编排器与后台调度器
	orchestrator := syncpkg.NewOrchestrator(store, registry, sessions, metrics, log)
	scheduler := syncpkg.NewScheduler(orchestrator, cfg.Sync.Interval, cfg.Sync.FreshWindow, cfg.Sync.DefaultPageSize, log)

	// WebSocket Hub 与 Webhook 协程池
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, authService, log)
	workers := pool.NewWorkerPool(4, 256, log)

	// 健康检查
	var pinger health.Pinger
	if cache != nil {
		pinger = cache
	}
	healthChecker := health.NewHealthChecker(store, pinger, log)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Store:        store,
		AuthService:  authService,
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Registry:     registry,
		Cipher:       cipher,
		Cache:        cache,
		Hub:          wsHub,
		Workers:      workers,
		Metrics:      metrics,
		Health:       healthChecker,
		Logger:       log,
	})

	// 健康检查处理器（用于 Kubernetes 等）
	router.GET("/health/live", gin.WrapH(healthChecker.Handler()))
	router.GET("/health/ready", gin.WrapH(healthChecker.Handler()))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 后台同步调度器
	scheduler.Start(groupCtx)
	log.Info("background sync scheduler started",
		zap.Duration("interval", cfg.Sync.Interval),
		zap.Duration("fresh_window", cfg.Sync.FreshWindow),
	)

	// Webhook 归档协程池
	workers.Start(groupCtx)

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 运行指标上报 goroutine
	group.Go(func() error {
		started := time.Now()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(started))
				metrics.UpdateTimelinesActive(sessions.ActiveUsers())
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		scheduler.Stop()
		workers.Stop()

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
