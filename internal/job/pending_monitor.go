package job

import (
	"context"
	"time"

	"autopay/internal/config"
	"autopay/internal/infrastructure/metrics"
	"autopay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingMonitor reports transactions that stayed pending past the alert
// threshold. It only reads: a pending row may still be settled by a late
// webhook, so resolving it is left to an operator.
type PendingMonitor struct {
	txRepo    *repository.TransactionRepository
	metrics   *metrics.SettlementMetrics
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	threshold time.Duration
	batchSize int
	now       func() time.Time
}

func NewPendingMonitor(db *gorm.DB, cfg *config.BusinessConfig, m *metrics.SettlementMetrics, logger *zap.Logger) *PendingMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	threshold := cfg.PendingAlertAfter
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &PendingMonitor{
		txRepo:    repository.NewTransactionRepository(db),
		metrics:   m,
		logger:    logger.Named("pending_monitor"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		threshold: threshold,
		batchSize: 50,
		now:       time.Now,
	}
}

func (j *PendingMonitor) Start(ctx context.Context) {
	j.logger.Info("pending monitor started", zap.Duration("interval", j.interval), zap.Duration("threshold", j.threshold))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("pending monitor exiting: context done")
			return
		case <-j.stopCh:
			j.logger.Info("pending monitor stopped")
			return
		case <-ticker.C:
			j.check(ctx)
		}
	}
}

func (j *PendingMonitor) Stop() {
	close(j.stopCh)
}

// check returns the number of stale pending rows.
func (j *PendingMonitor) check(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.threshold)

	count, err := j.txRepo.CountPendingBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("count stale pending transactions", zap.Error(err))
		return 0
	}
	j.metrics.SetStalePending(count)
	if count == 0 {
		return 0
	}

	txs, err := j.txRepo.ListPendingBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		j.logger.Error("list stale pending transactions", zap.Error(err))
		return count
	}
	j.logger.Warn("transactions pending past threshold", zap.Int64("count", count), zap.Duration("threshold", j.threshold))
	for _, tx := range txs {
		j.logger.Warn("stale pending transaction",
			zap.String("tx_ref", tx.TxRef),
			zap.String("fee_type", tx.FeeType),
			zap.Int64("amount", tx.Amount),
			zap.Time("created_at", tx.CreatedAt),
		)
	}
	return count
}
