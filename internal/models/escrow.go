// internal/models/escrow.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentHold is the escrow reservation backing one transaction. Funds stay
// with the payment rail until the hold is released to the host or returned
// to the payer.
type PaymentHold struct {
	BaseModel
	TransactionID  uuid.UUID  `json:"transaction_id" gorm:"type:uuid;not null;uniqueIndex"`
	PayerRef       string     `json:"payer_ref" gorm:"size:255;not null"`
	Amount         float64    `json:"amount" gorm:"type:decimal(10,2);not null"`
	RefundedAmount float64    `json:"refunded_amount" gorm:"type:decimal(10,2);default:0"`
	Currency       string     `json:"currency" gorm:"size:3;default:'usd'"`
	Status         HoldStatus `json:"status" gorm:"type:varchar(20);default:'held';index"`
	RailRef        string     `json:"rail_ref" gorm:"size:255;index"`
	ReleasedAt     *time.Time `json:"released_at"`
	RefundedAt     *time.Time `json:"refunded_at"`
}

// LedgerEntry is an append-only record of every escrow movement, kept for
// audit and for deriving the host payable balance.
type LedgerEntry struct {
	BaseModel
	HoldID        uuid.UUID       `json:"hold_id" gorm:"type:uuid;not null;index"`
	TransactionID uuid.UUID       `json:"transaction_id" gorm:"type:uuid;not null;index"`
	HostID        uuid.UUID       `json:"host_id" gorm:"type:uuid;not null;index"`
	EntryType     LedgerEntryType `json:"entry_type" gorm:"type:varchar(20);not null;index"`
	Amount        float64         `json:"amount" gorm:"type:decimal(10,2);not null"`
}
