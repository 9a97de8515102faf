// internal/models/fee_schedule.go
package models

import (
	"github.com/google/uuid"
)

// FeeScheduleVersion is the regulated pricing configuration in force for new
// transactions. Exactly one version is active at a time; versions are never
// edited in place.
type FeeScheduleVersion struct {
	BaseModel
	Version int `json:"version" gorm:"not null;uniqueIndex"`

	// Schedule-wide ceiling on total service fees as a fraction of the
	// package price.
	MaxFeeFraction float64 `json:"max_fee_fraction" gorm:"type:decimal(5,4);not null"`

	// Bundled-meal discount applied to the component sum.
	PackageDiscount float64 `json:"package_discount" gorm:"type:decimal(5,4);not null"`

	Active bool `json:"active" gorm:"default:false;index"`

	// Relationships
	Entries []ServiceFeeEntry `json:"entries,omitempty" gorm:"foreignKey:VersionID"`
}

// ServiceFeeEntry prices one catalog service under a schedule version.
type ServiceFeeEntry struct {
	BaseModel
	VersionID uuid.UUID `json:"version_id" gorm:"type:uuid;not null;index"`
	ServiceID string    `json:"service_id" gorm:"size:50;not null"`
	BaseFee   float64   `json:"base_fee" gorm:"type:decimal(10,2);not null"`
	Label     string    `json:"label" gorm:"size:100"`
}
