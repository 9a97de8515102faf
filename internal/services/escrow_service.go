// internal/services/escrow_service.go
package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/models"
)

// EscrowService owns the payment hold lifecycle: held funds are released to
// the host payable balance, refunded to the payer, or reversed in full.
// Every movement appends a ledger entry.
type EscrowService struct {
	db       *gorm.DB
	rail     PaymentRail
	currency string
}

func NewEscrowService(db *gorm.DB, rail PaymentRail, currency string) *EscrowService {
	return &EscrowService{
		db:       db,
		rail:     rail,
		currency: currency,
	}
}

// Hold authorizes the amount with the payment rail and records the hold
// inside the caller's transaction. A rail failure leaves no partial state:
// the caller rolls back and the transaction record never exists.
func (s *EscrowService) Hold(tx *gorm.DB, transactionID, hostID uuid.UUID, payerRef string, amount float64) (*models.PaymentHold, error) {
	railRef, err := s.rail.Authorize(payerRef, toCents(amount), s.currency, map[string]string{
		"transaction_id": transactionID.String(),
	})
	if err != nil {
		return nil, err
	}

	hold := &models.PaymentHold{
		TransactionID: transactionID,
		PayerRef:      payerRef,
		Amount:        amount,
		Currency:      s.currency,
		Status:        models.HoldStatusHeld,
		RailRef:       railRef,
	}
	if err := tx.Create(hold).Error; err != nil {
		s.CancelAuthorization(railRef)
		return nil, fmt.Errorf("failed to store payment hold: %w", err)
	}

	entry := &models.LedgerEntry{
		HoldID:        hold.ID,
		TransactionID: transactionID,
		HostID:        hostID,
		EntryType:     models.LedgerEntryHold,
		Amount:        amount,
	}
	if err := tx.Create(entry).Error; err != nil {
		s.CancelAuthorization(railRef)
		return nil, fmt.Errorf("failed to record hold ledger entry: %w", err)
	}

	return hold, nil
}

// CancelAuthorization voids a rail authorization that never got a committed
// hold row. Best effort: if the void itself fails, cleanup falls to the
// rail's own authorization expiry.
func (s *EscrowService) CancelAuthorization(railRef string) {
	if err := s.rail.Cancel(railRef); err != nil {
		logrus.WithError(err).WithField("rail_ref", railRef).
			Warn("Failed to void dangling authorization")
	}
}

// Release captures the held amount to the host payable balance. Idempotent:
// releasing an already-released hold is a no-op success so the orchestrator
// can retry freely, and the balance is credited exactly once.
func (s *EscrowService) Release(holdID uuid.UUID) error {
	hold, err := s.loadHold(holdID)
	if err != nil {
		return err
	}

	switch hold.Status {
	case models.HoldStatusReleased:
		return nil
	case models.HoldStatusReversed, models.HoldStatusPartiallyRefunded:
		return ErrAlreadySettled
	}

	if err := s.rail.Capture(hold.RailRef); err != nil {
		return err
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		// Compare-and-swap on status guards the exactly-once ledger credit
		// against concurrent retries.
		res := tx.Model(&models.PaymentHold{}).
			Where("id = ? AND status = ?", hold.ID, models.HoldStatusHeld).
			Updates(map[string]interface{}{
				"status":      models.HoldStatusReleased,
				"released_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race; the winner wrote the ledger entry.
			return nil
		}

		return s.appendEntry(tx, hold, models.LedgerEntryRelease, hold.Amount)
	})
}

// Refund returns fraction of the held amount to the payer; used on no-show
// and dispute resolution. fraction must be in [0,1].
func (s *EscrowService) Refund(holdID uuid.UUID, fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("refund fraction %.4f outside [0,1]", fraction)
	}

	hold, err := s.loadHold(holdID)
	if err != nil {
		return err
	}
	if hold.Status != models.HoldStatusHeld {
		return ErrAlreadySettled
	}

	amount := hold.Amount * fraction
	if err := s.rail.Refund(hold.RailRef, toCents(amount)); err != nil {
		return err
	}

	status := models.HoldStatusPartiallyRefunded
	if fraction == 1 {
		status = models.HoldStatusReversed
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentHold{}).
			Where("id = ? AND status = ?", hold.ID, models.HoldStatusHeld).
			Updates(map[string]interface{}{
				"status":          status,
				"refunded_amount": amount,
				"refunded_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadySettled
		}

		return s.appendEntry(tx, hold, models.LedgerEntryRefund, amount)
	})
}

// Reverse returns the full held amount to the payer, used on cancellation
// and expiry. Calling it on an already-reversed hold is a no-op success so
// the expiry sweep can safely re-run after a partial failure.
func (s *EscrowService) Reverse(holdID uuid.UUID) error {
	hold, err := s.loadHold(holdID)
	if err != nil {
		return err
	}

	switch hold.Status {
	case models.HoldStatusReversed:
		return nil
	case models.HoldStatusReleased, models.HoldStatusPartiallyRefunded:
		return ErrAlreadySettled
	}

	if err := s.rail.Cancel(hold.RailRef); err != nil {
		return err
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentHold{}).
			Where("id = ? AND status = ?", hold.ID, models.HoldStatusHeld).
			Updates(map[string]interface{}{
				"status":          models.HoldStatusReversed,
				"refunded_amount": hold.Amount,
				"refunded_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return s.appendEntry(tx, hold, models.LedgerEntryReverse, hold.Amount)
	})
}

// HostPayableBalance sums released funds for a host. The actual payout rail
// is external; this is the amount owed.
func (s *EscrowService) HostPayableBalance(hostID uuid.UUID) (float64, error) {
	var balance float64
	err := s.db.Model(&models.LedgerEntry{}).
		Where("host_id = ? AND entry_type = ?", hostID, models.LedgerEntryRelease).
		Select("COALESCE(SUM(amount), 0)").Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute payable balance: %w", err)
	}
	return balance, nil
}

func (s *EscrowService) loadHold(holdID uuid.UUID) (*models.PaymentHold, error) {
	var hold models.PaymentHold
	err := s.db.First(&hold, "id = ?", holdID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment hold %s not found", holdID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment hold: %w", err)
	}
	return &hold, nil
}

func (s *EscrowService) appendEntry(tx *gorm.DB, hold *models.PaymentHold, entryType models.LedgerEntryType, amount float64) error {
	var holdEntry models.LedgerEntry
	err := tx.Where("hold_id = ? AND entry_type = ?", hold.ID, models.LedgerEntryHold).
		First(&holdEntry).Error
	if err != nil {
		logrus.WithError(err).WithField("hold_id", hold.ID).Warn("Hold ledger entry missing")
	}

	entry := &models.LedgerEntry{
		HoldID:        hold.ID,
		TransactionID: hold.TransactionID,
		HostID:        holdEntry.HostID,
		EntryType:     entryType,
		Amount:        amount,
	}
	return tx.Create(entry).Error
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
