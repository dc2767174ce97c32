package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"autopay/internal/model"
	"autopay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(ref string) *model.Transaction {
	return &model.Transaction{
		TxRef:   ref,
		Amount:  5000,
		FeeType: "school",
		Part:    "soprano",
		Payer:   model.Payer{Name: "Ada", RegNo: "2020/241781"},
	}
}

func TestTransactionRepository_InsertEnforcesUniqueTxRef(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))

	created, err := repo.Insert(ctx, nil, newTx("soprano-2020/241781-1700000000"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Insert(ctx, nil, newTx("soprano-2020/241781-1700000000"))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetByTxRef(ctx, nil, "soprano-2020/241781-1700000000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.TxStatusPending, got.Status)
	assert.Equal(t, "2020/241781", got.Payer.RegNo)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestTransactionRepository_GetByTxRefAbsent(t *testing.T) {
	repo := NewTransactionRepository(testutil.NewDB(t))

	got, err := repo.GetByTxRef(context.Background(), nil, "nope-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransactionRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))

	first, created, err := repo.CreateIfAbsent(ctx, newTx("alto-1700000000"))
	require.NoError(t, err)
	assert.True(t, created)

	draft := newTx("alto-1700000000")
	draft.Amount = 1
	second, created, err := repo.CreateIfAbsent(ctx, draft)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(5000), second.Amount)
}

func TestTransactionRepository_CreateIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[int64]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, ok, err := repo.CreateIfAbsent(ctx, newTx("tenor-1700000000"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[row.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestTransactionRepository_Transition(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))
	_, err := repo.Insert(ctx, nil, newTx("bass-1700000000"))
	require.NoError(t, err)

	err = repo.Transition(ctx, nil, "bass-1700000000", model.TxStatusPending, "failed", nil)
	require.NoError(t, err)

	got, err := repo.GetByTxRef(ctx, nil, "bass-1700000000")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)

	err = repo.Transition(ctx, nil, "bass-1700000000", model.TxStatusPending, model.TxStatusCompleted, nil)
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = repo.Transition(ctx, nil, "bass-1700000000", "failed", model.TxStatusCompleted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransactionRepository_CompleteOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))
	_, err := repo.Insert(ctx, nil, newTx("soprano-x-1700000000"))
	require.NoError(t, err)

	donation := false
	fields := CompletedFields{
		GatewayTxID:  288200108,
		GatewayTxRef: "FLW-MOCK-123",
		Amount:       7000,
		PayerName:    "Ada Lovelace",
		Donation:     &donation,
	}
	require.NoError(t, repo.Complete(ctx, nil, "soprano-x-1700000000", fields))
	assert.ErrorIs(t, repo.Complete(ctx, nil, "soprano-x-1700000000", fields), ErrStatusConflict)

	got, err := repo.GetByTxRef(ctx, nil, "soprano-x-1700000000")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, got.Status)
	assert.Equal(t, int64(7000), got.Amount)
	assert.Equal(t, "Ada Lovelace", got.Payer.Name)
	assert.Equal(t, "school", got.FeeType)
	require.NotNil(t, got.GatewayTxID)
	assert.Equal(t, int64(288200108), *got.GatewayTxID)
	require.NotNil(t, got.GatewayTxRef)
	assert.Equal(t, "FLW-MOCK-123", *got.GatewayTxRef)
}

func TestTransactionRepository_CompleteRacesToOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))
	_, err := repo.Insert(ctx, nil, newTx("alto-y-1700000000"))
	require.NoError(t, err)

	const workers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Complete(ctx, nil, "alto-y-1700000000", CompletedFields{Amount: 5000})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrStatusConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTransactionRepository_PendingBefore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewTransactionRepository(db)

	old := newTx("alto-old-1600000000")
	_, err := repo.Insert(ctx, nil, old)
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.Transaction{}).Where("tx_ref = ?", old.TxRef).
		UpdateColumn("created_at", time.Now().Add(-2*time.Hour)).Error)

	_, err = repo.Insert(ctx, nil, newTx("alto-new-1700000000"))
	require.NoError(t, err)

	cutoff := time.Now().Add(-time.Hour)
	rows, err := repo.ListPendingBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.TxRef, rows[0].TxRef)

	n, err := repo.CountPendingBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactionRepository_SumCompleted(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(testutil.NewDB(t))

	memberID := int64(42)
	rows := []*model.Transaction{
		{TxRef: "s-a-1", Amount: 1000, FeeType: "school", Payer: model.Payer{RegNo: "r1"}},
		{TxRef: "s-a-2", Amount: 2500, FeeType: "school", Payer: model.Payer{RegNo: "r1"}},
		{TxRef: "s-a-3", Amount: 9999, FeeType: "school", Payer: model.Payer{RegNo: "r1"}},
		{TxRef: "s-a-4", Amount: 700, FeeType: "dues", Payer: model.Payer{RegNo: "r1"}},
		{TxRef: "s-m-5", Amount: 300, FeeType: "dues", MemberID: &memberID},
	}
	for _, row := range rows {
		_, err := repo.Insert(ctx, nil, row)
		require.NoError(t, err)
	}
	for _, ref := range []string{"s-a-1", "s-a-2", "s-a-4", "s-m-5"} {
		require.NoError(t, repo.Complete(ctx, nil, ref, CompletedFields{}))
	}

	total, err := repo.SumCompleted(ctx, PayerFilter{RegNo: "r1", FeeType: "school"})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), total)

	total, err = repo.SumCompleted(ctx, PayerFilter{RegNo: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4200), total)

	total, err = repo.SumCompleted(ctx, PayerFilter{MemberID: &memberID})
	require.NoError(t, err)
	assert.Equal(t, int64(300), total)

	total, err = repo.SumCompleted(ctx, PayerFilter{RegNo: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, total)
}
