// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if s, isStr := value.(string); isStr {
			bytes = []byte(s)
		} else {
			return nil
		}
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type TransactionType string

const (
	TransactionTypeHomeRestaurant TransactionType = "home_restaurant"
	TransactionTypeQuickEats      TransactionType = "quick_eats"
)

type TransactionState string

const (
	StateCreated         TransactionState = "created"
	StateAwaitingArrival TransactionState = "awaiting_arrival"
	StateCheckedIn       TransactionState = "checked_in"
	StateInService       TransactionState = "in_service"
	StateCheckedOut      TransactionState = "checked_out"
	StateSettled         TransactionState = "settled"
	StateExpired         TransactionState = "expired"
	StateDisputed        TransactionState = "disputed"
	StateCancelled       TransactionState = "cancelled"
)

// IsTerminal reports whether no further automatic transitions are possible.
func (s TransactionState) IsTerminal() bool {
	switch s {
	case StateSettled, StateExpired, StateDisputed, StateCancelled:
		return true
	}
	return false
}

type MealSlot string

const (
	MealSlotEntree     MealSlot = "entree"
	MealSlotMainCourse MealSlot = "main_course"
	MealSlotDessert    MealSlot = "dessert"
	MealSlotBeverage   MealSlot = "beverage"
)

// RequiredMealSlots lists the components a home_restaurant package must
// price, in serving order.
var RequiredMealSlots = []MealSlot{
	MealSlotEntree,
	MealSlotMainCourse,
	MealSlotDessert,
	MealSlotBeverage,
}

type TokenStatus string

const (
	TokenStatusIssued        TokenStatus = "issued"
	TokenStatusRedeemedEntry TokenStatus = "redeemed_entry"
	TokenStatusRedeemedExit  TokenStatus = "redeemed_exit"
	TokenStatusExpired       TokenStatus = "expired"
	TokenStatusRevoked       TokenStatus = "revoked"
)

type HoldStatus string

const (
	HoldStatusHeld              HoldStatus = "held"
	HoldStatusReleased          HoldStatus = "released"
	HoldStatusPartiallyRefunded HoldStatus = "partially_refunded"
	HoldStatusReversed          HoldStatus = "reversed"
)

type LedgerEntryType string

const (
	LedgerEntryHold    LedgerEntryType = "hold"
	LedgerEntryRelease LedgerEntryType = "release"
	LedgerEntryRefund  LedgerEntryType = "refund"
	LedgerEntryReverse LedgerEntryType = "reverse"
)
