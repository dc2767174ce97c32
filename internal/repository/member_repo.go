package repository

import (
	"context"
	"errors"

	"autopay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMemberNotFound = errors.New("member not found")

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var m model.Member
	err := r.db.WithContext(ctx).First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MemberRepository) GetByContact(ctx context.Context, contact string) (*model.Member, error) {
	var m model.Member
	err := r.db.WithContext(ctx).Where("contact = ?", contact).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetOrCreate returns the member holding m.Contact, inserting m if none does.
func (r *MemberRepository) GetOrCreate(ctx context.Context, m *model.Member) (*model.Member, error) {
	existing, err := r.GetByContact(ctx, m.Contact)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrMemberNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contact"}},
			DoNothing: true,
		}).
		Create(m).Error
	if err != nil {
		return nil, err
	}

	return r.GetByContact(ctx, m.Contact)
}
