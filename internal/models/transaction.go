// internal/models/transaction.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PricingJustification is informational context attached by the host. It is
// displayed to the guest and kept for dispute review; it never feeds into the
// computed price.
type PricingJustification struct {
	Complexity     string `json:"complexity"`
	IngredientTier string `json:"ingredient_tier"`
	PrepMinutes    int    `json:"prep_minutes"`
	Narrative      string `json:"narrative"`
}

func (p PricingJustification) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PricingJustification) Scan(value interface{}) error {
	if value == nil {
		*p = PricingJustification{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if s, isStr := value.(string); isStr {
			bytes = []byte(s)
		} else {
			return errors.New("unsupported pricing justification column type")
		}
	}

	return json.Unmarshal(bytes, p)
}

// Transaction is the aggregate root of the settlement protocol. Its token and
// payment hold are created with it and settled with its terminal state.
type Transaction struct {
	BaseModel
	TransactionType  TransactionType      `json:"transaction_type" gorm:"type:varchar(20);not null;index"`
	HostID           uuid.UUID            `json:"host_id" gorm:"type:uuid;not null;index"`
	PayerRef         string               `json:"payer_ref" gorm:"size:255;not null"`
	ContactEmail     string               `json:"contact_email,omitempty" gorm:"size:255"`
	Justification    PricingJustification `json:"pricing_justification" gorm:"type:jsonb"`
	SelectedServices pq.StringArray       `json:"selected_services" gorm:"type:text[]"`
	PackagePrice     float64              `json:"package_price" gorm:"type:decimal(10,2);not null"`
	ServiceFeeTotal  float64              `json:"service_fee_total" gorm:"type:decimal(10,2);not null"`
	HoldAmount       float64              `json:"hold_amount" gorm:"type:decimal(10,2);not null"`

	// Expected meeting point captured at creation.
	AnchorLatitude  float64 `json:"anchor_latitude" gorm:"type:decimal(10,7);not null"`
	AnchorLongitude float64 `json:"anchor_longitude" gorm:"type:decimal(10,7);not null"`
	AnchorAccuracy  float64 `json:"anchor_accuracy" gorm:"type:decimal(8,2);not null"`

	State         TransactionState `json:"state" gorm:"type:varchar(20);default:'created';index"`
	ExpiresAt     time.Time        `json:"expires_at" gorm:"not null;index"`
	CheckedInAt   *time.Time       `json:"checked_in_at"`
	CheckedOutAt  *time.Time       `json:"checked_out_at"`
	SettledAt     *time.Time       `json:"settled_at"`
	CancelledAt   *time.Time       `json:"cancelled_at"`
	DisputedAt    *time.Time       `json:"disputed_at"`
	DisputeReason string           `json:"dispute_reason,omitempty" gorm:"type:text"`
	EvidenceURL   string           `json:"evidence_url,omitempty" gorm:"size:512"`

	HoldID *uuid.UUID `json:"hold_id" gorm:"type:uuid;index"`

	// Relationships
	Components  []MealComponent         `json:"meal_components,omitempty" gorm:"foreignKey:TransactionID"`
	ServiceFees []TransactionServiceFee `json:"service_fees,omitempty" gorm:"foreignKey:TransactionID"`
	Token       *VerificationToken      `json:"token,omitempty" gorm:"foreignKey:TransactionID"`
	Hold        *PaymentHold            `json:"hold,omitempty" gorm:"foreignKey:TransactionID"`
}

// MealComponent is one priced course of the bundled package.
type MealComponent struct {
	BaseModel
	TransactionID uuid.UUID `json:"transaction_id" gorm:"type:uuid;not null;index"`
	Slot          MealSlot  `json:"slot" gorm:"type:varchar(20);not null"`
	Name          string    `json:"name" gorm:"size:255;not null"`
	UnitPrice     float64   `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	Description   string    `json:"description,omitempty" gorm:"type:text"`
}

// TransactionServiceFee records the fee charged per selected service after
// cap scaling, so the breakdown shown at creation survives schedule changes.
type TransactionServiceFee struct {
	BaseModel
	TransactionID uuid.UUID `json:"transaction_id" gorm:"type:uuid;not null;index"`
	ServiceID     string    `json:"service_id" gorm:"size:50;not null"`
	Fee           float64   `json:"fee" gorm:"type:decimal(10,2);not null"`
}
