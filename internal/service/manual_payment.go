package service

import (
	"context"
	"errors"
	"fmt"

	"autopay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManualPaymentRequest records money received outside the gateway.
type ManualPaymentRequest struct {
	IssueRequest
}

// ManualPaymentService lets an administrator settle an offline payment. It
// goes through the same pending -> completed compare-and-set and the same
// single mirror as gateway settlements.
type ManualPaymentService struct {
	refs       *ReferenceService
	settlement *SettlementService
}

func NewManualPaymentService(refs *ReferenceService, settlement *SettlementService) *ManualPaymentService {
	return &ManualPaymentService{refs: refs, settlement: settlement}
}

func (s *ManualPaymentService) Record(ctx context.Context, req *ManualPaymentRequest) (*Result, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	tx, err := s.refs.Issue(ctx, &req.IssueRequest)
	if err != nil {
		return nil, err
	}

	st := s.settlement
	err = st.db.Transaction(func(dbtx *gorm.DB) error {
		if err := st.txRepo.Complete(ctx, dbtx, tx.TxRef, repository.CompletedFields{}); err != nil {
			return err
		}
		row, err := st.txRepo.GetByTxRef(ctx, dbtx, tx.TxRef)
		if err != nil {
			return err
		}
		tx = row
		return st.enqueueSettled(ctx, dbtx, row, ChannelManual)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return st.afterConflict(ctx, tx.TxRef)
		}
		return nil, fmt.Errorf("complete %s: %w", tx.TxRef, err)
	}

	st.metrics.RecordSettlement(ChannelManual, string(OutcomeSettled))
	st.metrics.RecordSettledAmount(tx.FeeType, tx.Amount)
	st.logger.Info("manual payment recorded",
		zap.String("tx_ref", tx.TxRef), zap.Int64("amount", tx.Amount))

	res := result(OutcomeSettled, tx, "")
	res.Total = st.propagate(ctx, tx)
	if res.Total == nil {
		res.Total = st.localTotal(ctx, tx)
	}
	return res, nil
}
