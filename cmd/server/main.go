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

	"autopay/internal/config"
	"autopay/internal/handler"
	"autopay/internal/infrastructure/audit"
	"autopay/internal/infrastructure/cache"
	"autopay/internal/infrastructure/database"
	"autopay/internal/infrastructure/gateway"
	"autopay/internal/infrastructure/lock"
	"autopay/internal/infrastructure/logger"
	"autopay/internal/infrastructure/metrics"
	"autopay/internal/infrastructure/mq"
	"autopay/internal/infrastructure/sheets"
	"autopay/internal/job"
	"autopay/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	configPath := os.Getenv("AUTOPAY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg := config.LoadConfig(configPath)

	zl, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		zl.Fatal("init database", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := service.Dependencies{
		Verifier: gateway.NewClient(&cfg.Gateway, nil),
		Metrics:  m,
		Logger:   zl,
	}

	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			zl.Fatal("init redis", zap.Error(err))
		}
		defer rdb.Close()
		deps.Locker = lock.NewLocker(rdb, &cfg.Redis)
	}

	var roster service.Roster
	if cfg.Sheets.Enabled {
		ledger, err := sheets.New(ctx, &cfg.Sheets)
		if err != nil {
			zl.Fatal("init external ledger", zap.Error(err))
		}
		deps.Ledger = ledger
		roster = ledger
	} else {
		zl.Warn("external ledger disabled; settlements are recorded locally only")
	}

	settlement := service.NewSettlementService(db, cfg, deps)
	refs := service.NewReferenceService(db, zl)

	var jobs []interface{ Stop() }
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			zl.Fatal("init kafka producer", zap.Error(err))
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, &cfg.Kafka, producer, m, zl)
		go outboxSender.Start(ctx)
		jobs = append(jobs, outboxSender)
	}

	pendingMonitor := job.NewPendingMonitor(db, &cfg.Business, m, zl)
	go pendingMonitor.Start(ctx)
	jobs = append(jobs, pendingMonitor)

	h := handler.NewHandler(cfg, handler.Services{
		Settlement: settlement,
		References: refs,
		Manual:     service.NewManualPaymentService(refs, settlement),
		Roster:     service.NewRosterService(db, roster, zl),
		Members:    service.NewMemberService(db),
		WebhookLog: audit.NewWebhookLog(cfg.Audit.WebhookDir),
		Metrics:    m,
		Logger:     zl,
	})
	router := handler.SetupRouter(h, cfg.Server.AdminToken, reg, zl)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zl.Info("server listening", zap.Int("port", cfg.Server.Port), zap.String("db_driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")

	// Let in-flight settlements finish before background jobs stop.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown", zap.Error(err))
	}

	for _, j := range jobs {
		j.Stop()
	}
	cancel()

	zl.Info("server stopped")
}
