package model

import "strings"

// ============================================================================
// Transaction status
// ============================================================================

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusRejected  = "rejected"
	TxStatusError     = "error"
)

// Statuses the gateway uses for a paid charge. Anything else reported on a
// notification is stored verbatim as a terminal status.
var successStatuses = map[string]struct{}{
	"successful": {},
	"success":    {},
	"completed":  {},
}

// IsSuccessStatus reports whether a gateway-reported status claims payment.
// It only decides whether verification is attempted.
func IsSuccessStatus(status string) bool {
	_, ok := successStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// CanTransitionTo allows pending -> any other non-empty status and nothing else.
func CanTransitionTo(currentStatus, targetStatus string) bool {
	if currentStatus != TxStatusPending {
		return false
	}
	return targetStatus != "" && targetStatus != TxStatusPending
}

// ============================================================================
// Transaction entity
// ============================================================================

// Payer is the free-text payer identity used when no Member row is linked.
type Payer struct {
	Name  string `gorm:"column:payer_name;type:varchar(128)" json:"name"`
	RegNo string `gorm:"column:reg_no;type:varchar(64);index" json:"reg_no"`
}

// Transaction is one payment attempt, keyed by its tx_ref.
//
// Status, GatewayTxID and GatewayTxRef are written only by settlement.
// Amount, FeeType and Payer are fixed at creation unless overwritten by
// gateway-verified data when the row is completed.
type Transaction struct {
	ID           int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	TxRef        string  `gorm:"type:varchar(128);uniqueIndex;not null" json:"tx_ref"`
	Status       string  `gorm:"type:varchar(32);index;not null" json:"status"`
	Amount       int64   `gorm:"not null;default:0" json:"amount"`
	FeeType      string  `gorm:"type:varchar(64);index" json:"fee_type"`
	Part         string  `gorm:"type:varchar(64)" json:"part"`
	Donation     bool    `gorm:"not null;default:false" json:"donation"`
	Payer        Payer   `gorm:"embedded" json:"payer"`
	MemberID     *int64  `gorm:"index" json:"member_id,omitempty"`
	GatewayTxID  *int64  `json:"gateway_tx_id,omitempty"`
	GatewayTxRef *string `gorm:"type:varchar(128)" json:"gateway_tx_ref,omitempty"`
	Audit
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) IsCompleted() bool {
	return t.Status == TxStatusCompleted
}

func (t *Transaction) IsPending() bool {
	return t.Status == TxStatusPending
}
