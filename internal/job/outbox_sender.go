package job

import (
	"context"
	"time"

	"autopay/internal/config"
	"autopay/internal/infrastructure/metrics"
	"autopay/internal/model"
	"autopay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sender publishes one message. *mq.Producer implements it.
type Sender interface {
	Send(topic, key, value string) error
}

// OutboxSender relays settlement events written by the settlement commit.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	sender     Sender
	metrics    *metrics.SettlementMetrics
	logger     *zap.Logger
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.KafkaConfig, sender Sender, m *metrics.SettlementMetrics, logger *zap.Logger) *OutboxSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetry := cfg.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		sender:     sender,
		metrics:    m,
		logger:     logger.Named("outbox"),
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender exiting: context done")
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending outbox messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	log := s.logger.With(zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))

	err := s.sender.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		s.metrics.RecordOutbox("sent")
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Error("mark outbox message sent", zap.Error(updateErr))
			return
		}
		log.Debug("outbox message sent")
		return
	}

	giveUp := msg.RetryCount+1 >= s.maxRetry
	if giveUp {
		s.metrics.RecordOutbox("failed")
		log.Error("outbox message abandoned after max retries", zap.Int("retries", msg.RetryCount+1), zap.Error(err))
	} else {
		s.metrics.RecordOutbox("retry")
		log.Warn("outbox send failed", zap.Int("retries", msg.RetryCount+1), zap.Error(err))
	}
	if err := s.outboxRepo.RecordFailure(ctx, msg.ID, giveUp); err != nil {
		log.Error("record outbox failure", zap.Error(err))
	}
}
