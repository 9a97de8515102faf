// internal/models/token.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationToken is the single-use barcode credential proving physical
// presence. It moves issued -> redeemed_entry -> redeemed_exit and never
// backwards; a failed redemption leaves it untouched.
type VerificationToken struct {
	BaseModel
	TransactionID   uuid.UUID   `json:"transaction_id" gorm:"type:uuid;not null;uniqueIndex"`
	// The value is a bearer credential: handed out once at issuance and
	// never serialized again.
	TokenValue      string      `json:"-" gorm:"size:64;not null;uniqueIndex"`
	Status          TokenStatus `json:"status" gorm:"type:varchar(20);default:'issued';index"`
	ExpiresAt       time.Time   `json:"expires_at" gorm:"not null"`
	EntryRedeemedAt *time.Time  `json:"entry_redeemed_at"`
	ExitRedeemedAt  *time.Time  `json:"exit_redeemed_at"`
}
