package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopay/internal/model"
	"autopay/internal/repository"
	"autopay/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrReferenceCollision = errors.New("reference already issued for this payer in this second")
)

// IssueRequest describes a payment attempt about to be sent to the gateway.
type IssueRequest struct {
	Part     string `json:"part"`
	FeeType  string `json:"fee_type" binding:"required"`
	Name     string `json:"name"`
	RegNo    string `json:"reg_no"`
	Contact  string `json:"contact"`
	Amount   int64  `json:"amount" binding:"gte=0"`
	Donation bool   `json:"donation"`
	MemberID *int64 `json:"member_id"`
}

// ReferenceService issues tx_refs and pre-creates their pending rows, so a
// trusted record exists before any notification arrives.
type ReferenceService struct {
	txRepo     *repository.TransactionRepository
	memberRepo *repository.MemberRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewReferenceService(db *gorm.DB, logger *zap.Logger) *ReferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferenceService{
		txRepo:     repository.NewTransactionRepository(db),
		memberRepo: repository.NewMemberRepository(db),
		logger:     logger.Named("reference"),
		now:        time.Now,
	}
}

// Issue returns the new pending transaction. ErrReferenceCollision is retryable.
func (s *ReferenceService) Issue(ctx context.Context, req *IssueRequest) (*model.Transaction, error) {
	part := idgen.NormalizeGroup(req.Part)
	if req.Donation {
		part = idgen.DonationGroup
	}
	if part == "" {
		return nil, fmt.Errorf("%w: part is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.FeeType) == "" {
		return nil, fmt.Errorf("%w: fee_type is required", ErrInvalidRequest)
	}
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}

	tx := &model.Transaction{
		Status:   model.TxStatusPending,
		Amount:   req.Amount,
		FeeType:  strings.TrimSpace(req.FeeType),
		Part:     part,
		Donation: req.Donation,
		Payer: model.Payer{
			Name:  strings.TrimSpace(req.Name),
			RegNo: strings.TrimSpace(req.RegNo),
		},
	}

	if !req.Donation {
		m, err := s.resolveMember(ctx, req, tx.Payer)
		if err != nil {
			return nil, err
		}
		if m != nil {
			tx.MemberID = &m.ID
			if tx.Payer.Name == "" {
				tx.Payer.Name = m.Name
			}
			if tx.Payer.RegNo == "" {
				tx.Payer.RegNo = m.RegNo
			}
		}
	}

	payer := tx.Payer.RegNo
	if req.Donation {
		payer = ""
	}
	ref, err := idgen.NewTxRef(part, payer, req.Donation, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	tx.TxRef = ref

	created, err := s.txRepo.Insert(ctx, nil, tx)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrReferenceCollision, ref)
	}

	s.logger.Info("reference issued", zap.String("tx_ref", ref), zap.String("fee_type", tx.FeeType), zap.Bool("donation", tx.Donation))
	return tx, nil
}

// resolveMember finds the payer's member record by id, or by contact creating
// it on first sight. No id and no contact means an anonymous payer.
func (s *ReferenceService) resolveMember(ctx context.Context, req *IssueRequest, payer model.Payer) (*model.Member, error) {
	if req.MemberID != nil {
		m, err := s.memberRepo.GetByID(ctx, *req.MemberID)
		if err != nil {
			if errors.Is(err, repository.ErrMemberNotFound) {
				return nil, fmt.Errorf("%w: member %d not found", ErrInvalidRequest, *req.MemberID)
			}
			return nil, fmt.Errorf("resolve member: %w", err)
		}
		return m, nil
	}
	contact := strings.TrimSpace(req.Contact)
	if contact == "" {
		return nil, nil
	}
	m, err := s.memberRepo.GetOrCreate(ctx, &model.Member{
		Name:    payer.Name,
		Part:    idgen.NormalizeGroup(req.Part),
		Contact: contact,
		RegNo:   payer.RegNo,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve member: %w", err)
	}
	return m, nil
}
