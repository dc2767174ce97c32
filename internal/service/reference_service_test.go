package service

import (
	"context"
	"testing"
	"time"

	"autopay/internal/model"
	"autopay/internal/repository"
	"autopay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Unix(1700000000, 0)

func newReferenceService(t *testing.T) (*ReferenceService, *repository.TransactionRepository) {
	t.Helper()
	db := testutil.NewDB(t)
	s := NewReferenceService(db, nil)
	s.now = func() time.Time { return issuedAt }
	return s, repository.NewTransactionRepository(db)
}

func TestReferenceService_IssuePreCreatesPendingRow(t *testing.T) {
	s, repo := newReferenceService(t)
	ctx := context.Background()

	tx, err := s.Issue(ctx, &IssueRequest{Part: "Soprano", FeeType: "school", Name: "Ada Obi", RegNo: "2020/241781", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, "soprano-2020/241781-1700000000", tx.TxRef)

	row, err := repo.GetByTxRef(ctx, nil, tx.TxRef)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, model.TxStatusPending, row.Status)
	assert.Equal(t, "soprano", row.Part)
	assert.Equal(t, int64(5000), row.Amount)
}

func TestReferenceService_CollisionIsReported(t *testing.T) {
	s, _ := newReferenceService(t)
	ctx := context.Background()
	req := &IssueRequest{Part: "alto", FeeType: "school", RegNo: "2020/1"}

	_, err := s.Issue(ctx, req)
	require.NoError(t, err)
	_, err = s.Issue(ctx, req)
	assert.ErrorIs(t, err, ErrReferenceCollision)

	s.now = func() time.Time { return issuedAt.Add(time.Second) }
	_, err = s.Issue(ctx, req)
	assert.NoError(t, err)
}

func TestReferenceService_Donation(t *testing.T) {
	s, _ := newReferenceService(t)

	tx, err := s.Issue(context.Background(), &IssueRequest{FeeType: "school", Name: "Well Wisher", RegNo: "ignored", Donation: true})
	require.NoError(t, err)
	assert.Equal(t, "dont-1700000000", tx.TxRef)
	assert.True(t, tx.Donation)
	assert.Nil(t, tx.MemberID)
}

func TestReferenceService_ResolvesMember(t *testing.T) {
	s, _ := newReferenceService(t)
	ctx := context.Background()

	first, err := s.Issue(ctx, &IssueRequest{Part: "bass", FeeType: "school", Name: "Obi", RegNo: "2019/7", Contact: "0803"})
	require.NoError(t, err)
	require.NotNil(t, first.MemberID)

	s.now = func() time.Time { return issuedAt.Add(time.Minute) }
	second, err := s.Issue(ctx, &IssueRequest{Part: "bass", FeeType: "school", MemberID: first.MemberID})
	require.NoError(t, err)
	assert.Equal(t, *first.MemberID, *second.MemberID)
	assert.Equal(t, "Obi", second.Payer.Name)
	assert.Equal(t, "2019/7", second.Payer.RegNo)

	missing := int64(404)
	_, err = s.Issue(ctx, &IssueRequest{Part: "bass", FeeType: "school", MemberID: &missing})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReferenceService_RejectsInvalidRequests(t *testing.T) {
	s, _ := newReferenceService(t)
	ctx := context.Background()

	for name, req := range map[string]*IssueRequest{
		"no part":         {FeeType: "school"},
		"no fee type":     {Part: "alto"},
		"dash in part":    {Part: "mezzo-soprano", FeeType: "school"},
		"negative amount": {Part: "alto", FeeType: "school", Amount: -1},
	} {
		_, err := s.Issue(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}
}
