package main

import (
	"context"
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

	"github.com/xela07ax/neurohost/internal/backend"
	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/console/handler"
	"github.com/xela07ax/neurohost/internal/console/server"
	"github.com/xela07ax/neurohost/internal/console/service"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/infra"
	"github.com/xela07ax/neurohost/internal/infra/auth"
	"github.com/xela07ax/neurohost/internal/notify"
	"github.com/xela07ax/neurohost/internal/orchestrator"
	"github.com/xela07ax/neurohost/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает всё
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы: Postgres, Redis
	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	botRepo := postgres.NewBotRepo(pool)
	ownerRepo := postgres.NewOwnerRepo(pool)
	logRepo := postgres.NewErrorLogRepo(pool)

	// 3. Журнал ошибок ботов: пакетная асинхронная запись
	recorder := botlog.NewRecorder(logRepo, cfg.Engine.LogBufferSize, cfg.Engine.LogFlushInterval, logger)
	recorder.Start()
	defer recorder.Stop()

	notifier := notify.NewNotifier(rdb, logger)

	// 4. Секреты и ключи
	keyring, err := infra.NewKeyring(cfg.Auth.EncryptionKey)
	if err != nil {
		logger.Fatal("keyring init failed", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key", zap.Error(err))
	}

	// 5. Бэкенды исполнения. Docker-демон — внешняя зависимость,
	// контейнерный вариант обёрнут в предохранитель и ретраи
	processBackend := backend.NewProcessBackend(cfg.Backend, logger)
	dockerBackend := backend.NewReliableBackend(backend.NewDockerBackend(cfg.Backend, logger))
	backends := map[domain.BackendKind]backend.ExecutionBackend{
		domain.BackendProcess:   processBackend,
		domain.BackendContainer: dockerBackend,
	}

	// 6. Метрики
	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 7. Оркестратор: ядро жизненного цикла
	orch := orchestrator.New(
		cfg.Engine,
		botRepo, ownerRepo,
		backends,
		keyring,
		recorder,
		notifier,
		metrics,
		cfg.Backend.StopTimeout,
		logger,
	)

	// Юниты не переживают рестарт процесса: чистим осиротевшие статусы
	if err := orch.ResyncRunning(appCtx); err != nil {
		logger.Error("initial resync failed", zap.Error(err))
	}

	go orch.RunEnforcement(appCtx)
	go orch.ListenSignals(appCtx, rdb)

	// 8. Консоль (HTTP API)
	authService := service.NewAuthService(ownerRepo, privateKey, publicKey, cfg.Auth.TokenTTL)
	botService := service.NewBotService(orch, logRepo, botRepo)

	console := server.NewConsoleServer(
		cfg, logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewBotHandler(botService, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("control plane started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("control plane stopping...")
	cancel() // гасим enforcement, слушателей и наблюдателей

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("control plane exited properly")
}
