package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autopay/internal/infrastructure/sheets"
	"autopay/internal/model"
	"autopay/internal/repository"
	"autopay/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrLedgerDisabled = errors.New("external ledger is not configured")

// AddNameRequest registers a payer on a group sheet with nothing paid yet.
type AddNameRequest struct {
	FeeType string `json:"fee_type" binding:"required"`
	Part    string `json:"part" binding:"required"`
	Name    string `json:"name" binding:"required"`
	RegNo   string `json:"reg_no" binding:"required"`
	Contact string `json:"contact"`
}

type RosterService struct {
	roster     Roster
	memberRepo *repository.MemberRepository
	logger     *zap.Logger
}

// NewRosterService accepts a nil roster; every call then fails with ErrLedgerDisabled.
func NewRosterService(db *gorm.DB, roster Roster, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		roster:     roster,
		memberRepo: repository.NewMemberRepository(db),
		logger:     logger.Named("roster"),
	}
}

func (s *RosterService) Names(ctx context.Context, feeType, part string) ([]sheets.Entry, error) {
	if s.roster == nil {
		return nil, ErrLedgerDisabled
	}
	if strings.TrimSpace(feeType) == "" || strings.TrimSpace(part) == "" {
		return nil, fmt.Errorf("%w: fee_type and part are required", ErrInvalidRequest)
	}
	return s.roster.Names(ctx, feeType, SheetName(part))
}

// AddName appends the payer row unless the name is already listed. A contact
// also records the payer as a member.
func (s *RosterService) AddName(ctx context.Context, req *AddNameRequest) (bool, error) {
	if s.roster == nil {
		return false, ErrLedgerDisabled
	}
	name := strings.TrimSpace(req.Name)
	regNo := strings.TrimSpace(req.RegNo)
	part := idgen.NormalizeGroup(req.Part)
	if name == "" || regNo == "" || part == "" || strings.TrimSpace(req.FeeType) == "" {
		return false, fmt.Errorf("%w: fee_type, part, name and reg_no are required", ErrInvalidRequest)
	}

	if contact := strings.TrimSpace(req.Contact); contact != "" {
		if _, err := s.memberRepo.GetOrCreate(ctx, &model.Member{Name: name, Part: part, Contact: contact, RegNo: regNo}); err != nil {
			return false, fmt.Errorf("record member: %w", err)
		}
	}

	added, err := s.roster.AddRecord(ctx, req.FeeType, SheetName(part), sheets.Record{
		Columns:    []string{NameColumn, IdentifyColumn, PaidColumn},
		Values:     []interface{}{strings.ToUpper(name), regNo, 0},
		SortColumn: NameColumn,
	}, false)
	if err != nil {
		return false, err
	}
	s.logger.Info("payer listed", zap.String("fee_type", req.FeeType), zap.String("part", part),
		zap.String("reg_no", regNo), zap.Bool("added", added))
	return added, nil
}
