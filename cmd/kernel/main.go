package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentos-kernel-prototype/internal/connectors"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra/auth"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
	"github.com/xela07ax/agentos-kernel-prototype/internal/quota"
	"github.com/xela07ax/agentos-kernel-prototype/internal/registry"
	"github.com/xela07ax/agentos-kernel-prototype/internal/repository/postgres"
	"github.com/xela07ax/agentos-kernel-prototype/internal/server"
	"github.com/xela07ax/agentos-kernel-prototype/internal/trigger"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	initCtx, initCancel := context.WithTimeout(appCtx, 10*time.Second)
	defer initCancel()

	pool, err := postgres.NewPool(initCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	auditStore := postgres.NewAuditStore(pool)
	operatorRepo := postgres.NewOperatorRepo(pool)
	if err := auditStore.EnsureSchema(initCtx); err != nil {
		logger.Fatal("audit schema init failed", zap.Error(err))
	}
	if err := operatorRepo.EnsureSchema(initCtx); err != nil {
		logger.Fatal("operator schema init failed", zap.Error(err))
	}

	// 3. Цепочка аудита: восстановление из Postgres + фоновый писатель
	ldg := ledger.New(logger)
	persisted, err := auditStore.LoadAll(initCtx)
	if err != nil {
		logger.Fatal("audit chain load failed", zap.Error(err))
	}
	if len(persisted) > 0 {
		// Битая персистентная цепочка = отказ старта. Лучше не подняться,
		// чем подняться с дырой в аудите.
		if err := ldg.Restore(persisted); err != nil {
			logger.Fatal("audit chain verification failed on restore", zap.Error(err))
		}
		logger.Info("audit chain restored",
			zap.Int("entries", len(persisted)),
			zap.String("tip", ldg.Tip()))
	}

	writer := ledger.NewWriter(auditStore,
		cfg.Kernel.AuditBufferSize,
		cfg.Kernel.AuditBatchSize,
		cfg.Kernel.AuditFlushInterval,
		logger)
	ldg.AttachSink(writer)
	writer.Start()

	// 4. Квоты: метр + чекпоинт окна в Redis
	quotas := quota.NewMeter(cfg.Kernel.QuotaWindow)
	if err := quotas.Restore(initCtx, rdb, infra.RedisKeyQuotaCheckpoint, logger); err != nil {
		// Потеря чекпоинта не фатальна: окно начнется заново
		logger.Warn("quota checkpoint restore failed", zap.Error(err))
	}

	// 5. Ядро: реестр, триггеры, политика, исполнение
	reg := registry.New(logger)
	sched := trigger.NewScheduler(ldg, logger)

	sysPolicy := &engine.SystemPolicy{
		AllowedTools:        cfg.Kernel.AllowedTools,
		MaxTokensPerHourCap: cfg.Kernel.MaxTokensPerHourCap,
		MaxConcurrentCap:    cfg.Kernel.MaxConcurrentCap,
		RequireSigned:       cfg.Kernel.RequireSigned,
	}

	// Оборачиваем исполнителя в Reliability (Retries, Circuit Breaker)
	safeExecutor := engine.NewReliabilityWrapper(&connectors.MockToolExecutor{})

	// Метрики
	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)

	signals := engine.NewSignalBus(rdb, logger)
	kernel := engine.NewKernel(reg, quotas, ldg, sched, safeExecutor, sysPolicy, signals, metrics, logger)

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 6. Фоновые циклы: тик Schedule-триггеров и чекпоинт квот
	go func() {
		ticker := time.NewTicker(cfg.Kernel.SchedulerTick)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				kernel.Tick(appCtx)
				metrics.ChainLength.Set(float64(ldg.Len()))
			}
		}
	}()

	if cfg.Kernel.QuotaCheckpointEvery > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Kernel.QuotaCheckpointEvery)
			defer ticker.Stop()
			for {
				select {
				case <-appCtx.Done():
					return
				case <-ticker.C:
					if err := quotas.Checkpoint(appCtx, rdb, infra.RedisKeyQuotaCheckpoint, logger); err != nil {
						logger.Warn("quota checkpoint failed", zap.Error(err))
					}
				}
			}
		}()
	}

	// 7. Операторская аутентификация (RS256) и HTTP API
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key invalid", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key invalid", zap.Error(err))
	}
	authService := auth.NewService(operatorRepo, privKey, pubKey, cfg.Auth.TokenTTL)

	api := server.New(cfg, logger, kernel, authService)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("kernel console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("kernel stopping...")
	cancel()

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Дописываем хвост цепочки и финальный чекпоинт квот
	writer.Stop()
	if err := quotas.Checkpoint(shutdownCtx, rdb, infra.RedisKeyQuotaCheckpoint, logger); err != nil {
		logger.Warn("final quota checkpoint failed", zap.Error(err))
	}
	logger.Info("kernel exited properly")
}
