// internal/models/audit.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Action       string     `json:"action" gorm:"size:100;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id" gorm:"type:uuid;index"`
	NewValues    JSONB      `json:"new_values" gorm:"type:jsonb"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
}

// TransitionNotification is the persisted copy of a state-change event
// dispatched to the notification collaborator.
type TransitionNotification struct {
	BaseModel
	TransactionID uuid.UUID        `json:"transaction_id" gorm:"type:uuid;not null;index"`
	OldState      TransactionState `json:"old_state" gorm:"type:varchar(20);not null"`
	NewState      TransactionState `json:"new_state" gorm:"type:varchar(20);not null;index"`
	OccurredAt    time.Time        `json:"occurred_at" gorm:"not null"`
	EmailedTo     string           `json:"emailed_to,omitempty" gorm:"size:255"`
}
