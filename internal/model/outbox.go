package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is written in the same database transaction as the state
// change it announces and relayed to Kafka by job.OutboxSender.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// PaymentSettledEvent is the outbox payload for a completed transaction.
type PaymentSettledEvent struct {
	TxRef        string `json:"tx_ref"`
	Channel      string `json:"channel"`
	Amount       int64  `json:"amount"`
	FeeType      string `json:"fee_type"`
	Part         string `json:"part"`
	Donation     bool   `json:"donation"`
	PayerName    string `json:"payer_name"`
	PayerID      string `json:"payer_id"`
	GatewayTxID  int64  `json:"gateway_tx_id,omitempty"`
	GatewayTxRef string `json:"gateway_tx_ref,omitempty"`
	SettledAt    string `json:"settled_at"`
}
