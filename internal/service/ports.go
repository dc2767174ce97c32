package service

import (
	"context"

	"autopay/internal/infrastructure/gateway"
	"autopay/internal/infrastructure/sheets"
)

// Verifier confirms a gateway transaction id with the gateway itself.
type Verifier interface {
	Verify(ctx context.Context, gatewayTxID int64) (*gateway.Verification, error)
}

// BalanceLedger is the external ledger settled payments are mirrored to.
// Both writes create the target sheet when it is missing.
type BalanceLedger interface {
	FindAndReplace(ctx context.Context, ref sheets.CellRef, delta int64) (int64, error)
	AddRecord(ctx context.Context, book, sheet string, rec sheets.Record, isDonation bool) (bool, error)
	LookupIdentifier(ctx context.Context, book, sheet, name string) (string, error)
}

// Locker serializes settlement of one tx_ref across processes.
type Locker interface {
	Acquire(ctx context.Context, txRef string) (release func(), err error)
}

// Roster lists and extends the payer rows of the external ledger.
type Roster interface {
	Names(ctx context.Context, book, sheet string) ([]sheets.Entry, error)
	AddRecord(ctx context.Context, book, sheet string, rec sheets.Record, isDonation bool) (bool, error)
}
