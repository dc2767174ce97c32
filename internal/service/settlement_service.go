package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopay/internal/config"
	"autopay/internal/infrastructure/gateway"
	"autopay/internal/infrastructure/metrics"
	"autopay/internal/infrastructure/sheets"
	"autopay/internal/model"
	"autopay/internal/repository"
	"autopay/pkg/idgen"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// External ledger layout.
const (
	IdentifyColumn = "Reg Number"
	PaidColumn     = "Paid"
	NameColumn     = "Name"
	DonationsSheet = "Donations"
)

// Dependencies are the collaborators a SettlementService is built with.
// Ledger and Locker may be nil: no mirror, and database-only exclusion.
type Dependencies struct {
	Verifier Verifier
	Ledger   BalanceLedger
	Locker   Locker
	Metrics  *metrics.SettlementMetrics
	Logger   *zap.Logger
}

// SettlementService turns gateway notifications into at most one
// pending -> completed transition per tx_ref, and mirrors that transition to
// the external ledger once.
type SettlementService struct {
	db         *gorm.DB
	txRepo     *repository.TransactionRepository
	memberRepo *repository.MemberRepository
	outboxRepo *repository.OutboxRepository

	verifier Verifier
	ledger   BalanceLedger
	locker   Locker
	metrics  *metrics.SettlementMetrics
	logger   *zap.Logger

	verifyTimeout time.Duration
	ledgerTimeout time.Duration
	settledTopic  string
	now           func() time.Time
}

func NewSettlementService(db *gorm.DB, cfg *config.Config, deps Dependencies) *SettlementService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := ""
	if cfg.Kafka.Enabled {
		topic = cfg.Kafka.Topic.PaymentSettled
	}
	return &SettlementService{
		db:            db,
		txRepo:        repository.NewTransactionRepository(db),
		memberRepo:    repository.NewMemberRepository(db),
		outboxRepo:    repository.NewOutboxRepository(db),
		verifier:      deps.Verifier,
		ledger:        deps.Ledger,
		locker:        deps.Locker,
		metrics:       deps.Metrics,
		logger:        logger.Named("settlement"),
		verifyTimeout: positive(cfg.Gateway.VerifyTimeout, 10*time.Second),
		ledgerTimeout: positive(cfg.Sheets.Timeout, 15*time.Second),
		settledTopic:  topic,
		now:           time.Now,
	}
}

// Settle runs the reconciliation algorithm for one notification. A non-nil
// error means an infrastructure failure; every domain decision is a Result.
func (s *SettlementService) Settle(ctx context.Context, n Notification) (*Result, error) {
	res, err := s.settle(ctx, n)

	fields := []zap.Field{
		zap.String("channel", n.Channel),
		zap.String("tx_ref", n.TxRef),
		zap.Int64("gateway_tx_id", n.GatewayTxID),
		zap.String("reported_status", n.Status),
	}
	if err != nil {
		s.metrics.RecordSettlement(n.Channel, "internal_error")
		s.logger.Error("settlement failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	s.metrics.RecordSettlement(n.Channel, string(res.Outcome))
	fields = append(fields, zap.String("outcome", string(res.Outcome)))
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", res.Reason))
	}
	switch res.Outcome {
	case OutcomeSettled, OutcomeAlreadySettled:
		s.logger.Info("settlement decided", fields...)
	default:
		s.logger.Warn("settlement decided", fields...)
	}
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, n Notification) (*Result, error) {
	n.TxRef = strings.TrimSpace(n.TxRef)
	n.Status = strings.ToLower(strings.TrimSpace(n.Status))
	if n.TxRef == "" || n.Status == "" {
		return result(OutcomeValidationError, nil, "tx_ref and status are required"), nil
	}
	ref, err := idgen.ParseTxRef(n.TxRef)
	if err != nil {
		return result(OutcomeValidationError, nil, err.Error()), nil
	}
	// A success claim is worthless without the gateway id to verify it
	// against. Refuse it before anything touches the database so a
	// malformed notification never leaves a pending row behind.
	if model.IsSuccessStatus(n.Status) && n.GatewayTxID <= 0 {
		return result(OutcomeValidationError, nil, "gateway transaction id is required"), nil
	}

	// Idempotency fast path. Redeliveries of a settled payment are the
	// common case and never need the lock or the gateway.
	tx, err := s.txRepo.GetByTxRef(ctx, nil, n.TxRef)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", n.TxRef, err)
	}
	if tx != nil && tx.IsCompleted() {
		return s.alreadySettled(ctx, tx), nil
	}

	res, committed, err := s.decide(ctx, ref, n, tx)
	if err != nil || committed == nil {
		return res, err
	}

	// The lock is gone by now. The ledger is slow and may hang for the whole
	// ledger timeout; holding the per-reference lock across it would stall
	// the other channel for no gain, because the commit already made every
	// later delivery take the AlreadySettled path and only this call reaches
	// the mirror.
	res.Total = s.propagate(ctx, committed)
	if res.Total == nil {
		res.Total = s.localTotal(ctx, committed)
	}
	s.metrics.RecordSettledAmount(committed.FeeType, committed.Amount)
	return res, nil
}

// decide takes the settlement decision for one valid notification. tx is the
// row seen on the fast path, nil when none exists yet. The returned
// transaction is non-nil only when this call committed the settlement.
func (s *SettlementService) decide(ctx context.Context, ref idgen.TxRef, n Notification, tx *model.Transaction) (*Result, *model.Transaction, error) {
	// The webhook and the browser callback for one payment usually land
	// within milliseconds of each other. Serializing them per reference
	// spares the gateway a second verify call and keeps the loser off the
	// conflict path. The lock is an optimization only: the pending ->
	// completed compare-and-set in commit is what makes the mirror happen
	// once, and it holds with the lock disabled or expired.
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, n.TxRef)
		if err != nil {
			return nil, nil, fmt.Errorf("lock %s: %w", n.TxRef, err)
		}
		defer release()

		// The other channel may have settled while we waited for the lock,
		// so the row read before it is stale.
		tx, err = s.txRepo.GetByTxRef(ctx, nil, n.TxRef)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup %s: %w", n.TxRef, err)
		}
		if tx != nil && tx.IsCompleted() {
			return s.alreadySettled(ctx, tx), nil, nil
		}
	}

	if tx != nil && !tx.IsPending() {
		return result(OutcomeRejected, tx, "transaction already "+tx.Status), nil, nil
	}

	// The reported status only gates verification.
	if !model.IsSuccessStatus(n.Status) {
		if n.Status == model.TxStatusPending {
			return result(OutcomeRejected, tx, "gateway reports payment still pending"), nil, nil
		}
		tx, err := s.ensureRow(ctx, ref, n, tx)
		if err != nil || !tx.IsPending() {
			return s.settledElsewhere(ctx, tx, err)
		}
		res, err := s.reject(ctx, tx, n.Status, "gateway reported "+n.Status)
		return res, nil, err
	}

	v, err := s.verify(ctx, n.GatewayTxID)
	if err != nil {
		// Keep a pending row so the pending monitor and a redelivery can
		// pick the payment up once the gateway answers again.
		tx, cerr := s.ensureRow(ctx, ref, n, tx)
		if cerr != nil {
			return nil, nil, cerr
		}
		return result(OutcomeVerificationError, tx, err.Error()), nil, nil
	}
	if v.TxRef != n.TxRef {
		return result(OutcomeValidationError, tx,
			fmt.Sprintf("gateway transaction %d belongs to %q", n.GatewayTxID, v.TxRef)), nil, nil
	}
	// Still undecided on the gateway side. Recording anything now would
	// block the success notification that normally follows.
	if v.Pending() {
		return result(OutcomeRejected, tx, "gateway verified payment still pending"), nil, nil
	}

	tx, err = s.ensureRow(ctx, ref, n, tx)
	if err != nil || !tx.IsPending() {
		return s.settledElsewhere(ctx, tx, err)
	}
	if !v.Successful() {
		res, err := s.reject(ctx, tx, v.FinalStatus(), "gateway verified "+v.FinalStatus())
		return res, nil, err
	}

	committed, err := s.commit(ctx, tx, v, n.Channel)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			res, err := s.afterConflict(ctx, tx.TxRef)
			return res, nil, err
		}
		return nil, nil, err
	}
	return result(OutcomeSettled, committed, ""), committed, nil
}

// ensureRow returns tx, or the row created from the notification payload when
// tx is nil. A concurrent writer may have created it first, in which case the
// stored row wins.
func (s *SettlementService) ensureRow(ctx context.Context, ref idgen.TxRef, n Notification, tx *model.Transaction) (*model.Transaction, error) {
	if tx != nil {
		return tx, nil
	}
	tx, _, err := s.txRepo.CreateIfAbsent(ctx, draftTransaction(ref, n))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", n.TxRef, err)
	}
	return tx, nil
}

// settledElsewhere reports a row that left pending before this call could
// create it, or passes err through.
func (s *SettlementService) settledElsewhere(ctx context.Context, tx *model.Transaction, err error) (*Result, *model.Transaction, error) {
	if err != nil {
		return nil, nil, err
	}
	if tx.IsCompleted() {
		return s.alreadySettled(ctx, tx), nil, nil
	}
	return result(OutcomeRejected, tx, "transaction already "+tx.Status), nil, nil
}

func draftTransaction(ref idgen.TxRef, n Notification) *model.Transaction {
	d := n.Draft
	tx := &model.Transaction{
		TxRef:    n.TxRef,
		Status:   model.TxStatusPending,
		Amount:   d.Amount,
		FeeType:  d.FeeType,
		Part:     ref.Group,
		Donation: ref.IsDonation() || d.Donation,
		Payer: model.Payer{
			Name:  d.PayerName,
			RegNo: ref.Payer,
		},
	}
	if tx.Payer.RegNo == "" {
		tx.Payer.RegNo = d.RegNo
	}
	if tx.Donation && d.Part != "" {
		tx.Part = idgen.NormalizeGroup(d.Part)
	}
	return tx
}

func (s *SettlementService) verify(ctx context.Context, gatewayTxID int64) (*gateway.Verification, error) {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	started := time.Now()
	v, err := s.verifier.Verify(vctx, gatewayTxID)
	s.metrics.RecordVerify(started, err)
	return v, err
}

func (s *SettlementService) reject(ctx context.Context, tx *model.Transaction, status, reason string) (*Result, error) {
	err := s.txRepo.Transition(ctx, nil, tx.TxRef, model.TxStatusPending, status, nil)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return s.afterConflict(ctx, tx.TxRef)
		}
		return nil, fmt.Errorf("record %s for %s: %w", status, tx.TxRef, err)
	}
	tx.Status = status
	return result(OutcomeRejected, tx, reason), nil
}

// afterConflict re-reads a row another writer moved out of pending.
func (s *SettlementService) afterConflict(ctx context.Context, txRef string) (*Result, error) {
	tx, err := s.txRepo.GetByTxRef(ctx, nil, txRef)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", txRef, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("reload %s: %w", txRef, repository.ErrTransactionNotFound)
	}
	if tx.IsCompleted() {
		return s.alreadySettled(ctx, tx), nil
	}
	return result(OutcomeRejected, tx, "transaction already "+tx.Status), nil
}

func (s *SettlementService) alreadySettled(ctx context.Context, tx *model.Transaction) *Result {
	res := result(OutcomeAlreadySettled, tx, "")
	res.Total = s.localTotal(ctx, tx)
	return res
}

// commit flips pending -> completed with the verified data and queues the
// settlement event in the same database transaction.
func (s *SettlementService) commit(ctx context.Context, tx *model.Transaction, v *gateway.Verification, channel string) (*model.Transaction, error) {
	fields := repository.CompletedFields{
		GatewayTxID:  v.ID,
		GatewayTxRef: v.FlwRef,
		Amount:       v.Amount,
		PayerName:    strings.TrimSpace(v.Customer.Name),
		FeeType:      strings.TrimSpace(v.Meta.FeeType),
	}
	if tx.Payer.RegNo == "" {
		fields.RegNo = strings.TrimSpace(v.Meta.RegNo)
	}
	if bool(v.Meta.Donation) && !tx.Donation {
		donation := true
		fields.Donation = &donation
	}

	var committed *model.Transaction
	err := s.db.Transaction(func(dbtx *gorm.DB) error {
		if err := s.txRepo.Complete(ctx, dbtx, tx.TxRef, fields); err != nil {
			return err
		}
		row, err := s.txRepo.GetByTxRef(ctx, dbtx, tx.TxRef)
		if err != nil {
			return err
		}
		if row == nil {
			return repository.ErrTransactionNotFound
		}
		committed = row
		return s.enqueueSettled(ctx, dbtx, row, channel)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("complete %s: %w", tx.TxRef, err)
	}
	return committed, nil
}

func (s *SettlementService) enqueueSettled(ctx context.Context, dbtx *gorm.DB, tx *model.Transaction, channel string) error {
	if s.settledTopic == "" {
		return nil
	}
	event := model.PaymentSettledEvent{
		TxRef:     tx.TxRef,
		Channel:   channel,
		Amount:    tx.Amount,
		FeeType:   tx.FeeType,
		Part:      tx.Part,
		Donation:  tx.Donation,
		PayerName: tx.Payer.Name,
		PayerID:   tx.Payer.RegNo,
		SettledAt: s.now().UTC().Format(time.RFC3339),
	}
	if tx.GatewayTxID != nil {
		event.GatewayTxID = *tx.GatewayTxID
	}
	if tx.GatewayTxRef != nil {
		event.GatewayTxRef = *tx.GatewayTxRef
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode settled event: %w", err)
	}
	return s.outboxRepo.Create(ctx, dbtx, &model.OutboxMessage{
		MessageKey: tx.TxRef,
		Topic:      s.settledTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// propagate mirrors a committed settlement. Failures are logged and counted,
// never returned: the local row stays completed.
//
// The database row is the source of truth and the gateway has already taken
// the money. Failing the notification here would make the gateway redeliver,
// and every redelivery ends on the AlreadySettled path anyway, so a retry
// could never repair the sheet. Operators fix a missed mirror by hand from the
// autopay_ledger_propagation_failures_total counter and the error log.
func (s *SettlementService) propagate(ctx context.Context, tx *model.Transaction) *int64 {
	log := s.logger.With(zap.String("tx_ref", tx.TxRef), zap.Int64("amount", tx.Amount), zap.String("fee_type", tx.FeeType))
	if s.ledger == nil {
		log.Debug("external ledger disabled; skipping mirror")
		return nil
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ledgerTimeout)
	defer cancel()

	if tx.Donation {
		_, err := s.ledger.AddRecord(lctx, tx.FeeType, DonationsSheet, sheets.Record{
			Columns:    []string{NameColumn, PaidColumn},
			Values:     []interface{}{tx.Payer.Name, tx.Amount},
			SortColumn: NameColumn,
		}, true)
		if err != nil {
			s.metrics.RecordLedgerFailure("add_record")
			log.Error("ledger mirror failed; local settlement stands", zap.String("operation", "add_record"), zap.Error(err))
			return nil
		}
		log.Info("donation recorded in external ledger")
		return nil
	}

	sheet := SheetName(tx.Part)
	identifier, err := s.payerIdentifier(lctx, tx, sheet)
	if err != nil {
		s.metrics.RecordLedgerFailure("lookup_identifier")
		log.Error("ledger mirror failed; local settlement stands", zap.String("operation", "lookup_identifier"), zap.Error(err))
		return nil
	}

	total, err := s.ledger.FindAndReplace(lctx, sheets.CellRef{
		Book:           tx.FeeType,
		Sheet:          sheet,
		IdentifyColumn: IdentifyColumn,
		IdentifyValue:  identifier,
		Column:         PaidColumn,
	}, tx.Amount)
	if err != nil {
		s.metrics.RecordLedgerFailure("find_and_replace")
		log.Error("ledger mirror failed; local settlement stands",
			zap.String("operation", "find_and_replace"), zap.String("sheet", sheet), zap.String("payer", identifier), zap.Error(err))
		return nil
	}
	log.Info("balance updated in external ledger", zap.String("sheet", sheet), zap.String("payer", identifier), zap.Int64("total", total))
	return &total
}

func (s *SettlementService) payerIdentifier(ctx context.Context, tx *model.Transaction, sheet string) (string, error) {
	if tx.MemberID != nil {
		m, err := s.memberRepo.GetByID(ctx, *tx.MemberID)
		if err != nil {
			return "", err
		}
		return m.Identifier(), nil
	}
	if tx.Payer.RegNo != "" {
		return tx.Payer.RegNo, nil
	}
	if tx.Payer.Name == "" {
		return "", errors.New("transaction has no payer identity")
	}
	return s.ledger.LookupIdentifier(ctx, tx.FeeType, sheet, tx.Payer.Name)
}

// localTotal sums the payer's completed amounts from the local ledger.
func (s *SettlementService) localTotal(ctx context.Context, tx *model.Transaction) *int64 {
	if tx.Donation {
		return nil
	}
	f := repository.PayerFilter{MemberID: tx.MemberID, RegNo: tx.Payer.RegNo, FeeType: tx.FeeType}
	if f.MemberID == nil && f.RegNo == "" {
		return nil
	}
	total, err := s.txRepo.SumCompleted(ctx, f)
	if err != nil {
		s.logger.Warn("payer total unavailable", zap.String("tx_ref", tx.TxRef), zap.Error(err))
		return nil
	}
	return &total
}

// SheetName maps a group tag to its ledger sheet title: "soprano" -> "Soprano".
func SheetName(part string) string {
	return cases.Title(language.English).String(strings.TrimSpace(part))
}

func positive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
