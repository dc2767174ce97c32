package service

import (
	"autopay/internal/model"
)

// Outcome is the settlement decision for one notification.
type Outcome string

const (
	OutcomeSettled           Outcome = "settled"
	OutcomeAlreadySettled    Outcome = "already_settled"
	OutcomeRejected          Outcome = "rejected"
	OutcomeVerificationError Outcome = "verification_error"
	OutcomeValidationError   Outcome = "validation_error"
)

// Success is true for outcomes the notifier should treat as delivered.
func (o Outcome) Success() bool {
	return o == OutcomeSettled || o == OutcomeAlreadySettled
}

// Notification channels.
const (
	ChannelWebhook  = "webhook"
	ChannelCallback = "callback"
	ChannelManual   = "manual"
)

// Notification is one report from the gateway, from either channel.
type Notification struct {
	Channel     string
	TxRef       string
	Status      string
	GatewayTxID int64
	// Draft carries payload fields used only when no row exists yet.
	Draft Draft
}

// Draft is the untrusted payload view of a transaction.
type Draft struct {
	PayerName string
	RegNo     string
	Amount    int64
	FeeType   string
	Part      string
	Donation  bool
}

// Result reports what Settle decided.
type Result struct {
	Outcome     Outcome
	Transaction *model.Transaction
	// Total is the payer's running paid amount when it is known.
	Total  *int64
	Reason string
}

func result(o Outcome, tx *model.Transaction, reason string) *Result {
	return &Result{Outcome: o, Transaction: tx, Reason: reason}
}
