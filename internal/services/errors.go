// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

// Input errors: rejected synchronously, nothing is mutated.
var (
	ErrIncompleteMealPackage = errors.New("meal package is missing a required component")
	ErrInvalidServiceID      = errors.New("service identifier is not in the fee schedule")
	ErrInvalidCoordinate     = errors.New("coordinate outside valid range")
)

// Presence errors: the transaction stays in its prior state and the caller
// may retry with a fresh scan.
var (
	ErrGeofenceMismatch = errors.New("observed location outside geofence")
	ErrTokenExpired     = errors.New("verification token expired")
	ErrTokenReplay      = errors.New("verification token already redeemed")
	ErrTokenOutOfOrder  = errors.New("verification token redeemed out of order")
	ErrTokenNotFound    = errors.New("verification token not found")
)

// Financial errors: abort the operation that caused them.
var (
	ErrInsufficientFunds = errors.New("payer has insufficient funds")
	ErrPaymentGateway    = errors.New("payment gateway error")
	ErrAlreadySettled    = errors.New("hold already settled")
)

var (
	ErrOperationNotAllowed  = errors.New("operation not allowed in current state")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrFeeScheduleNotLoaded = errors.New("no active fee schedule")
)

// GeofenceError carries the computed distance for audit and dispute review.
// It matches ErrGeofenceMismatch under errors.Is.
type GeofenceError struct {
	DistanceMeters float64
	AllowedMeters  float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("observed location %.1fm from anchor, allowed %.1fm", e.DistanceMeters, e.AllowedMeters)
}

func (e *GeofenceError) Is(target error) bool {
	return target == ErrGeofenceMismatch
}
