// internal/services/token_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/models"
	"github.com/homeplate/homeplate-backend/internal/utils"
)

// TokenService issues and redeems the single-use barcode tokens tying a
// transaction to physical presence. It holds no payment rules; the
// orchestrator drives the surrounding lifecycle.
type TokenService struct {
	db       *gorm.DB
	geofence *GeofenceValidator
}

func NewTokenService(db *gorm.DB, geofence *GeofenceValidator) *TokenService {
	return &TokenService{
		db:       db,
		geofence: geofence,
	}
}

// Issue mints a cryptographically unguessable token bound to the
// transaction, expiring at the arrival deadline.
func (s *TokenService) Issue(tx *gorm.DB, transactionID uuid.UUID, expiresAt time.Time) (*models.VerificationToken, error) {
	value, err := utils.GenerateTokenValue()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token value: %w", err)
	}

	token := &models.VerificationToken{
		TransactionID: transactionID,
		TokenValue:    value,
		Status:        models.TokenStatusIssued,
		ExpiresAt:     expiresAt,
	}

	if err := tx.Create(token).Error; err != nil {
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}

	return token, nil
}

// Lookup resolves a token by its opaque value.
func (s *TokenService) Lookup(tokenValue string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := s.db.Where("token_value = ?", tokenValue).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return &token, nil
}

// RedeemEntry moves an issued token to redeemed_entry after the geofence
// check passes. A failed attempt never mutates the token, so a retry with a
// fresh scan is always safe; a second identical scan is rejected as replay.
func (s *TokenService) RedeemEntry(tx *gorm.DB, tokenValue string, anchor, observed Location) (*models.VerificationToken, error) {
	token, err := s.lookupForUpdate(tx, tokenValue)
	if err != nil {
		return nil, err
	}

	switch token.Status {
	case models.TokenStatusRedeemedEntry:
		return nil, ErrTokenReplay
	case models.TokenStatusRedeemedExit, models.TokenStatusExpired, models.TokenStatusRevoked:
		return nil, ErrTokenExpired
	}

	if time.Now().After(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if _, err := s.geofence.Validate(anchor, observed); err != nil {
		return nil, err
	}

	now := time.Now()
	token.Status = models.TokenStatusRedeemedEntry
	token.EntryRedeemedAt = &now
	if err := tx.Save(token).Error; err != nil {
		return nil, fmt.Errorf("failed to redeem entry: %w", err)
	}

	return token, nil
}

// RedeemExit is symmetric to RedeemEntry and only valid from
// redeemed_entry. No arrival deadline applies once service has begun.
func (s *TokenService) RedeemExit(tx *gorm.DB, tokenValue string, anchor, observed Location) (*models.VerificationToken, error) {
	token, err := s.lookupForUpdate(tx, tokenValue)
	if err != nil {
		return nil, err
	}

	switch token.Status {
	case models.TokenStatusIssued:
		return nil, ErrTokenOutOfOrder
	case models.TokenStatusRedeemedExit:
		return nil, ErrTokenReplay
	case models.TokenStatusExpired, models.TokenStatusRevoked:
		return nil, ErrTokenExpired
	}

	if _, err := s.geofence.Validate(anchor, observed); err != nil {
		return nil, err
	}

	now := time.Now()
	token.Status = models.TokenStatusRedeemedExit
	token.ExitRedeemedAt = &now
	if err := tx.Save(token).Error; err != nil {
		return nil, fmt.Errorf("failed to redeem exit: %w", err)
	}

	return token, nil
}

// MarkExpired stamps the token when the arrival deadline sweep fires.
func (s *TokenService) MarkExpired(tx *gorm.DB, transactionID uuid.UUID) error {
	return tx.Model(&models.VerificationToken{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.TokenStatusIssued).
		Update("status", models.TokenStatusExpired).Error
}

// Revoke invalidates the token on cancellation or dispute so no further
// scans can move the transaction.
func (s *TokenService) Revoke(tx *gorm.DB, transactionID uuid.UUID) error {
	return tx.Model(&models.VerificationToken{}).
		Where("transaction_id = ? AND status IN ?", transactionID,
			[]models.TokenStatus{models.TokenStatusIssued, models.TokenStatusRedeemedEntry}).
		Update("status", models.TokenStatusRevoked).Error
}

func (s *TokenService) lookupForUpdate(tx *gorm.DB, tokenValue string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := tx.Where("token_value = ?", tokenValue).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return &token, nil
}
