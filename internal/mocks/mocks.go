// Package mocks holds testify mocks for the settlement service's ports.
package mocks

import (
	"context"

	"autopay/internal/infrastructure/gateway"
	"autopay/internal/infrastructure/sheets"

	"github.com/stretchr/testify/mock"
)

type Verifier struct {
	mock.Mock
}

func (m *Verifier) Verify(ctx context.Context, gatewayTxID int64) (*gateway.Verification, error) {
	args := m.Called(ctx, gatewayTxID)
	v, _ := args.Get(0).(*gateway.Verification)
	return v, args.Error(1)
}

type BalanceLedger struct {
	mock.Mock
}

func (m *BalanceLedger) FindAndReplace(ctx context.Context, ref sheets.CellRef, delta int64) (int64, error) {
	args := m.Called(ctx, ref, delta)
	return args.Get(0).(int64), args.Error(1)
}

func (m *BalanceLedger) AddRecord(ctx context.Context, book, sheet string, rec sheets.Record, isDonation bool) (bool, error) {
	args := m.Called(ctx, book, sheet, rec, isDonation)
	return args.Bool(0), args.Error(1)
}

func (m *BalanceLedger) LookupIdentifier(ctx context.Context, book, sheet, name string) (string, error) {
	args := m.Called(ctx, book, sheet, name)
	return args.String(0), args.Error(1)
}

func (m *BalanceLedger) Names(ctx context.Context, book, sheet string) ([]sheets.Entry, error) {
	args := m.Called(ctx, book, sheet)
	entries, _ := args.Get(0).([]sheets.Entry)
	return entries, args.Error(1)
}

// Locker expects a matching On("Release", txRef) for every successful Acquire.
type Locker struct {
	mock.Mock
}

func (m *Locker) Acquire(ctx context.Context, txRef string) (func(), error) {
	args := m.Called(ctx, txRef)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func() { m.MethodCalled("Release", txRef) }, nil
}
