package service

import (
	"context"

	"autopay/internal/repository"

	"gorm.io/gorm"
)

// MemberService answers running-total questions. Totals are summed from
// completed transactions on every call and never stored.
type MemberService struct {
	memberRepo *repository.MemberRepository
	txRepo     *repository.TransactionRepository
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{
		memberRepo: repository.NewMemberRepository(db),
		txRepo:     repository.NewTransactionRepository(db),
	}
}

// Amount is Member.amount(): the sum of the member's completed payments.
func (s *MemberService) Amount(ctx context.Context, memberID int64) (int64, error) {
	if _, err := s.memberRepo.GetByID(ctx, memberID); err != nil {
		return 0, err
	}
	return s.txRepo.SumCompleted(ctx, repository.PayerFilter{MemberID: &memberID})
}

// PayerTotal is the same sum for a payer known only by registration id.
func (s *MemberService) PayerTotal(ctx context.Context, regNo, feeType string) (int64, error) {
	return s.txRepo.SumCompleted(ctx, repository.PayerFilter{RegNo: regNo, FeeType: feeType})
}
