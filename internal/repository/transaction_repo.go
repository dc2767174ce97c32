package repository

import (
	"context"
	"errors"
	"time"

	"autopay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStatusConflict      = errors.New("transaction status changed concurrently")
	ErrInvalidTransition   = errors.New("transaction status transition not allowed")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Insert writes t unless a row with the same tx_ref exists. The unique index
// decides; created is false when another writer got there first.
func (r *TransactionRepository) Insert(ctx context.Context, tx *gorm.DB, t *model.Transaction) (bool, error) {
	if t.Status == "" {
		t.Status = model.TxStatusPending
	}
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_ref"}},
			DoNothing: true,
		}).
		Create(t)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreateIfAbsent inserts draft as pending or returns the row that already
// holds its tx_ref.
func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, draft *model.Transaction) (*model.Transaction, bool, error) {
	draft.Status = model.TxStatusPending
	created, err := r.Insert(ctx, nil, draft)
	if err != nil {
		return nil, false, err
	}
	if created {
		return draft, true, nil
	}

	existing, err := r.GetByTxRef(ctx, nil, draft.TxRef)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ErrTransactionNotFound
	}
	return existing, false, nil
}

// GetByTxRef returns nil, nil when no row holds txRef.
func (r *TransactionRepository) GetByTxRef(ctx context.Context, tx *gorm.DB, txRef string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("tx_ref = ?", txRef).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Transition moves txRef from one status to another with a compare-and-set on
// the current status. Extra columns are written in the same UPDATE.
// ErrStatusConflict means the row was not in status from.
func (r *TransactionRepository) Transition(ctx context.Context, tx *gorm.DB, txRef, from, to string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(from, to) {
		return ErrInvalidTransition
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("tx_ref = ? AND status = ?", txRef, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CompletedFields is the gateway-verified data written when a row settles.
// Zero values leave the stored column untouched.
type CompletedFields struct {
	GatewayTxID  int64
	GatewayTxRef string
	Amount       int64
	PayerName    string
	RegNo        string
	FeeType      string
	Donation     *bool
}

// Complete is Transition(pending -> completed) carrying the verified fields.
func (r *TransactionRepository) Complete(ctx context.Context, tx *gorm.DB, txRef string, f CompletedFields) error {
	extra := map[string]interface{}{}
	if f.GatewayTxID != 0 {
		extra["gateway_tx_id"] = f.GatewayTxID
	}
	if f.GatewayTxRef != "" {
		extra["gateway_tx_ref"] = f.GatewayTxRef
	}
	if f.Amount > 0 {
		extra["amount"] = f.Amount
	}
	if f.PayerName != "" {
		extra["payer_name"] = f.PayerName
	}
	if f.RegNo != "" {
		extra["reg_no"] = f.RegNo
	}
	if f.FeeType != "" {
		extra["fee_type"] = f.FeeType
	}
	if f.Donation != nil {
		extra["donation"] = *f.Donation
	}
	return r.Transition(ctx, tx, txRef, model.TxStatusPending, model.TxStatusCompleted, extra)
}

// ListPendingBefore returns pending rows created before the cutoff, oldest first.
func (r *TransactionRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var txs []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TxStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *TransactionRepository) CountPendingBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("status = ? AND created_at < ?", model.TxStatusPending, before).
		Count(&n).Error
	return n, err
}

// PayerFilter selects a payer's completed transactions, either by member or
// by registration id within one fee type.
type PayerFilter struct {
	MemberID *int64
	RegNo    string
	FeeType  string
}

// SumCompleted totals the amounts of a payer's completed transactions.
func (r *TransactionRepository) SumCompleted(ctx context.Context, f PayerFilter) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("status = ? AND donation = ?", model.TxStatusCompleted, false)

	switch {
	case f.MemberID != nil:
		query = query.Where("member_id = ?", *f.MemberID)
	case f.RegNo != "":
		query = query.Where("reg_no = ?", f.RegNo)
	default:
		return 0, nil
	}
	if f.FeeType != "" {
		query = query.Where("fee_type = ?", f.FeeType)
	}

	var total int64
	if err := query.Select("COALESCE(SUM(amount), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
