// internal/services/transaction_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/config"
	"github.com/homeplate/homeplate-backend/internal/database"
	"github.com/homeplate/homeplate-backend/internal/models"
	"github.com/homeplate/homeplate-backend/internal/utils"
)

// TransitionEvent is dispatched to the notification collaborator on every
// state change, fire-and-forget.
type TransitionEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	OldState      models.TransactionState `json:"old_state"`
	NewState      models.TransactionState `json:"new_state"`
	Timestamp     time.Time               `json:"timestamp"`
}

type Notifier interface {
	NotifyTransition(event TransitionEvent)
}

// Caller is the authenticated principal behind a party-scoped operation.
// Hosts match by user id, guests by the payer reference in their claims.
type Caller struct {
	UserID   uuid.UUID
	PayerRef string
}

func (c Caller) isParty(t *models.Transaction) bool {
	if c.UserID != uuid.Nil && c.UserID == t.HostID {
		return true
	}
	return c.PayerRef != "" && c.PayerRef == t.PayerRef
}

// TransactionService coordinates fees, token issuance and the escrow hold
// into the settlement lifecycle. It is the only component that mutates
// transaction state, and it does so only after every pre-condition for a
// transition has passed.
type TransactionService struct {
	db       *gorm.DB
	cfg      *config.Config
	fees     *FeeService
	tokens   *TokenService
	escrow   *EscrowService
	notifier Notifier

	locks keyedMutex
}

func NewTransactionService(db *gorm.DB, cfg *config.Config, fees *FeeService, tokens *TokenService, escrow *EscrowService, notifier Notifier) *TransactionService {
	return &TransactionService{
		db:       db,
		cfg:      cfg,
		fees:     fees,
		tokens:   tokens,
		escrow:   escrow,
		notifier: notifier,
		locks:    keyedMutex{entries: make(map[uuid.UUID]*lockEntry)},
	}
}

type MealComponentInput struct {
	Slot        string  `json:"slot" validate:"required,oneof=entree main_course dessert beverage"`
	Name        string  `json:"name" validate:"required,max=255"`
	UnitPrice   float64 `json:"unit_price" validate:"required,gt=0"`
	Description string  `json:"description,omitempty"`
}

type LocationInput struct {
	Latitude       float64 `json:"latitude" validate:"latitude"`
	Longitude      float64 `json:"longitude" validate:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters" validate:"gte=0"`
}

func (l LocationInput) toLocation() Location {
	return Location{Latitude: l.Latitude, Longitude: l.Longitude, Accuracy: l.AccuracyMeters}
}

type CreateTransactionRequest struct {
	TransactionType  string                      `json:"transaction_type" validate:"required,oneof=home_restaurant quick_eats"`
	MealComponents   []MealComponentInput        `json:"meal_components" validate:"required,min=1,dive"`
	Justification    models.PricingJustification `json:"pricing_justification"`
	SelectedServices []string                    `json:"selected_services" validate:"dive,service_id"`
	LocationAnchor   LocationInput               `json:"location_anchor" validate:"required"`
	ContactEmail     string                      `json:"contact_email,omitempty" validate:"omitempty,email"`
}

type CreateTransactionResponse struct {
	TransactionID   uuid.UUID               `json:"transaction_id"`
	TokenValue      string                  `json:"token_value"`
	State           models.TransactionState `json:"state"`
	PackagePrice    float64                 `json:"package_price"`
	ServiceFeeTotal float64                 `json:"service_fee_total"`
	HoldAmount      float64                 `json:"hold_amount"`
	ExpiresAt       time.Time               `json:"expires_at"`
}

// Create validates the meal package, prices it, opens the escrow hold and
// issues the token in one atomic step. A failed hold aborts creation: no
// orphaned transaction record is left behind.
func (s *TransactionService) Create(hostID uuid.UUID, payerRef string, req *CreateTransactionRequest) (*CreateTransactionResponse, error) {
	anchor := req.LocationAnchor.toLocation()
	if err := ValidateCoordinates(anchor.Latitude, anchor.Longitude); err != nil {
		return nil, err
	}

	components, componentSum, err := buildComponents(models.TransactionType(req.TransactionType), req.MealComponents)
	if err != nil {
		return nil, err
	}

	packagePrice := s.fees.PackagePrice(componentSum)
	breakdown, err := s.fees.Compute(packagePrice, req.SelectedServices)
	if err != nil {
		return nil, err
	}
	holdAmount := packagePrice + breakdown.TotalServiceFee

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.cfg.Settlement.ArrivalDeadlineMinutes) * time.Minute)

	transaction := &models.Transaction{
		TransactionType:  models.TransactionType(req.TransactionType),
		HostID:           hostID,
		PayerRef:         payerRef,
		ContactEmail:     req.ContactEmail,
		Justification:    req.Justification,
		SelectedServices: pq.StringArray(req.SelectedServices),
		PackagePrice:     packagePrice,
		ServiceFeeTotal:  breakdown.TotalServiceFee,
		HoldAmount:       holdAmount,
		AnchorLatitude:   anchor.Latitude,
		AnchorLongitude:  anchor.Longitude,
		AnchorAccuracy:   anchor.Accuracy,
		State:            models.StateCreated,
		ExpiresAt:        expiresAt,
		Components:       components,
	}

	var tokenValue string
	var railRef string
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Create(transaction).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		for serviceID, fee := range breakdown.PerServiceFee {
			row := &models.TransactionServiceFee{
				TransactionID: transaction.ID,
				ServiceID:     serviceID,
				Fee:           fee,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to record service fee: %w", err)
			}
		}

		hold, err := s.escrow.Hold(tx, transaction.ID, hostID, payerRef, holdAmount)
		if err != nil {
			return err
		}
		transaction.HoldID = &hold.ID
		railRef = hold.RailRef

		token, err := s.tokens.Issue(tx, transaction.ID, expiresAt)
		if err != nil {
			return err
		}
		tokenValue = token.TokenValue

		transaction.State = models.StateAwaitingArrival
		return tx.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
			Updates(map[string]interface{}{
				"state":   models.StateAwaitingArrival,
				"hold_id": hold.ID,
			}).Error
	})
	if err != nil {
		// The rail authorization precedes the commit; a rollback must not
		// leave it dangling.
		if railRef != "" {
			s.escrow.CancelAuthorization(railRef)
		}
		return nil, err
	}

	s.emit(transaction.ID, models.StateCreated, models.StateAwaitingArrival)

	return &CreateTransactionResponse{
		TransactionID:   transaction.ID,
		TokenValue:      tokenValue,
		State:           transaction.State,
		PackagePrice:    packagePrice,
		ServiceFeeTotal: breakdown.TotalServiceFee,
		HoldAmount:      holdAmount,
		ExpiresAt:       expiresAt,
	}, nil
}

// OnEntryScan redeems the token for entry at the physical meeting. Success
// moves the transaction through CheckedIn into InService; any presence
// failure leaves it in AwaitingArrival for a retry with a fresh scan.
func (s *TransactionService) OnEntryScan(tokenValue string, observed LocationInput) (*models.Transaction, error) {
	token, err := s.tokens.Lookup(tokenValue)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(token.TransactionID)
	defer unlock()

	transaction, err := s.load(token.TransactionID)
	if err != nil {
		return nil, err
	}

	switch transaction.State {
	case models.StateAwaitingArrival:
		// proceed
	case models.StateExpired:
		// An expired transaction is never resurrected; the guest must
		// create a new one.
		return nil, ErrTokenExpired
	default:
		return nil, ErrOperationNotAllowed
	}

	anchor := anchorOf(transaction)
	now := time.Now()
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if _, err := s.tokens.RedeemEntry(tx, tokenValue, anchor, observed.toLocation()); err != nil {
			return err
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
			Updates(map[string]interface{}{
				"state":         models.StateInService,
				"checked_in_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.emit(transaction.ID, models.StateAwaitingArrival, models.StateCheckedIn)
	// Service begins at entry.
	s.emit(transaction.ID, models.StateCheckedIn, models.StateInService)

	return s.load(transaction.ID)
}

// OnExitScan redeems the token for exit, checks the transaction out and
// synchronously settles the hold. A transient release failure parks the
// transaction in CheckedOut and hands it to the background retrier.
func (s *TransactionService) OnExitScan(tokenValue string, observed LocationInput) (*models.Transaction, error) {
	token, err := s.tokens.Lookup(tokenValue)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(token.TransactionID)
	defer unlock()

	transaction, err := s.load(token.TransactionID)
	if err != nil {
		return nil, err
	}

	if transaction.State != models.StateInService {
		return nil, ErrOperationNotAllowed
	}

	anchor := anchorOf(transaction)
	now := time.Now()
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if _, err := s.tokens.RedeemExit(tx, tokenValue, anchor, observed.toLocation()); err != nil {
			return err
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
			Updates(map[string]interface{}{
				"state":          models.StateCheckedOut,
				"checked_out_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.emit(transaction.ID, models.StateInService, models.StateCheckedOut)

	if err := s.settle(transaction.ID, *transaction.HoldID); err != nil {
		logrus.WithError(err).WithField("transaction_id", transaction.ID).
			Warn("Release failed at checkout, scheduling retries")
		go s.retrySettle(transaction.ID, *transaction.HoldID)
		return nil, err
	}

	return s.load(transaction.ID)
}

// OnDispute freezes the hold pending out-of-band resolution. Terminal from
// the orchestrator's perspective. Only a party to the transaction may open
// a dispute.
func (s *TransactionService) OnDispute(caller Caller, transactionID uuid.UUID, reason, evidenceURL string) (*models.Transaction, error) {
	unlock := s.locks.lock(transactionID)
	defer unlock()

	transaction, err := s.load(transactionID)
	if err != nil {
		return nil, err
	}
	if !caller.isParty(transaction) {
		return nil, ErrTransactionNotFound
	}

	switch transaction.State {
	case models.StateCheckedIn, models.StateInService, models.StateCheckedOut:
		// proceed
	default:
		return nil, ErrOperationNotAllowed
	}

	oldState := transaction.State
	now := time.Now()
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := s.tokens.Revoke(tx, transactionID); err != nil {
			return err
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", transactionID).
			Updates(map[string]interface{}{
				"state":          models.StateDisputed,
				"disputed_at":    now,
				"dispute_reason": reason,
				"evidence_url":   evidenceURL,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.emit(transactionID, oldState, models.StateDisputed)
	return s.load(transactionID)
}

// OnCancel reverses the hold in full. Only allowed before arrival, and only
// to a party to the transaction.
func (s *TransactionService) OnCancel(caller Caller, transactionID uuid.UUID) (*models.Transaction, error) {
	unlock := s.locks.lock(transactionID)
	defer unlock()

	transaction, err := s.load(transactionID)
	if err != nil {
		return nil, err
	}
	if !caller.isParty(transaction) {
		return nil, ErrTransactionNotFound
	}

	switch transaction.State {
	case models.StateCreated, models.StateAwaitingArrival:
		// proceed
	default:
		return nil, ErrOperationNotAllowed
	}

	if transaction.HoldID != nil {
		if err := s.escrow.Reverse(*transaction.HoldID); err != nil && !errors.Is(err, ErrAlreadySettled) {
			return nil, err
		}
	}

	oldState := transaction.State
	now := time.Now()
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := s.tokens.Revoke(tx, transactionID); err != nil {
			return err
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", transactionID).
			Updates(map[string]interface{}{
				"state":        models.StateCancelled,
				"cancelled_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.emit(transactionID, oldState, models.StateCancelled)
	return s.load(transactionID)
}

// SweepExpired expires every transaction still awaiting arrival past its
// deadline and reverses its hold. The state is re-checked inside the
// per-transaction critical section, not trusted from the query, so a scan
// racing the sweep can never be clobbered. Returns the number expired.
func (s *TransactionService) SweepExpired() int {
	var ids []uuid.UUID
	err := s.db.Model(&models.Transaction{}).
		Where("state = ? AND expires_at < ?", models.StateAwaitingArrival, time.Now()).
		Pluck("id", &ids).Error
	if err != nil {
		logrus.WithError(err).Error("Expiry sweep query failed")
		return 0
	}

	expired := 0
	for _, id := range ids {
		if s.expireOne(id) {
			expired++
		}
	}
	return expired
}

func (s *TransactionService) expireOne(transactionID uuid.UUID) bool {
	unlock := s.locks.lock(transactionID)
	defer unlock()

	transaction, err := s.load(transactionID)
	if err != nil {
		logrus.WithError(err).WithField("transaction_id", transactionID).Error("Expiry sweep load failed")
		return false
	}

	if transaction.State != models.StateAwaitingArrival || time.Now().Before(transaction.ExpiresAt) {
		return false
	}

	// Reverse first: the compare-and-swap inside the escrow makes the
	// refund exactly-once even if the state write below fails and the
	// sweep re-runs.
	if transaction.HoldID != nil {
		if err := s.escrow.Reverse(*transaction.HoldID); err != nil && !errors.Is(err, ErrAlreadySettled) {
			logrus.WithError(err).WithField("transaction_id", transactionID).Error("Expiry reversal failed")
			return false
		}
	}

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := s.tokens.MarkExpired(tx, transactionID); err != nil {
			return err
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", transactionID).
			Update("state", models.StateExpired).Error
	})
	if err != nil {
		logrus.WithError(err).WithField("transaction_id", transactionID).Error("Expiry transition failed")
		return false
	}

	s.emit(transactionID, models.StateAwaitingArrival, models.StateExpired)
	return true
}

// StartExpirySweeper runs the time-driven expiry check until the context is
// cancelled.
func (s *TransactionService) StartExpirySweeper(ctx context.Context) {
	interval := time.Duration(s.cfg.Settlement.ExpirySweepSeconds) * time.Second
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.SweepExpired(); n > 0 {
					logrus.WithField("count", n).Info("Expired overdue transactions")
				}
			}
		}
	}()
}

// Get returns a transaction with its companions loaded. A caller that is
// not a party learns nothing, not even that the id exists.
func (s *TransactionService) Get(caller Caller, transactionID uuid.UUID) (*models.Transaction, error) {
	var transaction models.Transaction
	err := s.db.Preload("Components").Preload("ServiceFees").
		Preload("Token").Preload("Hold").
		First(&transaction, "id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if !caller.isParty(&transaction) {
		return nil, ErrTransactionNotFound
	}
	return &transaction, nil
}

// List returns a host's transactions, newest first by default.
func (s *TransactionService) List(hostID uuid.UUID, params utils.PaginationParams) ([]models.Transaction, int64, error) {
	query := s.db.Model(&models.Transaction{}).Where("host_id = ?", hostID)
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "expires_at", "hold_amount"})

	var transactions []models.Transaction
	err := utils.ApplyPagination(query, params).
		Preload("Components").
		Find(&transactions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	return transactions, total, nil
}

func (s *TransactionService) settle(transactionID, holdID uuid.UUID) error {
	if err := s.escrow.Release(holdID); err != nil {
		return err
	}

	now := time.Now()
	err := s.db.Model(&models.Transaction{}).
		Where("id = ? AND state = ?", transactionID, models.StateCheckedOut).
		Updates(map[string]interface{}{
			"state":      models.StateSettled,
			"settled_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark transaction settled: %w", err)
	}

	s.emit(transactionID, models.StateCheckedOut, models.StateSettled)
	return nil
}

// retrySettle re-attempts the idempotent release on an exponential backoff
// schedule rather than dropping funds in limbo.
func (s *TransactionService) retrySettle(transactionID, holdID uuid.UUID) {
	base := time.Duration(s.cfg.Payment.ReleaseRetryBase) * time.Second
	delay := base

	for attempt := 1; attempt <= s.cfg.Payment.ReleaseRetryMax; attempt++ {
		time.Sleep(delay)
		delay *= 2

		unlock := s.locks.lock(transactionID)
		transaction, err := s.load(transactionID)
		if err != nil || transaction.State != models.StateCheckedOut {
			unlock()
			return
		}

		err = s.settle(transactionID, holdID)
		unlock()
		if err == nil {
			return
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"transaction_id": transactionID,
			"attempt":        attempt,
		}).Warn("Release retry failed")
	}

	logrus.WithField("transaction_id", transactionID).
		Error("Release retries exhausted, hold requires manual settlement")
}

func (s *TransactionService) load(transactionID uuid.UUID) (*models.Transaction, error) {
	var transaction models.Transaction
	err := s.db.First(&transaction, "id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &transaction, nil
}

func (s *TransactionService) emit(transactionID uuid.UUID, oldState, newState models.TransactionState) {
	if s.notifier == nil {
		return
	}
	event := TransitionEvent{
		TransactionID: transactionID,
		OldState:      oldState,
		NewState:      newState,
		Timestamp:     time.Now(),
	}
	go s.notifier.NotifyTransition(event)
}

func buildComponents(transactionType models.TransactionType, inputs []MealComponentInput) ([]models.MealComponent, float64, error) {
	bySlot := make(map[models.MealSlot]MealComponentInput, len(inputs))
	for _, input := range inputs {
		slot := models.MealSlot(input.Slot)
		if _, dup := bySlot[slot]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate %s", ErrIncompleteMealPackage, slot)
		}
		bySlot[slot] = input
	}

	if transactionType == models.TransactionTypeHomeRestaurant {
		for _, slot := range models.RequiredMealSlots {
			if _, ok := bySlot[slot]; !ok {
				return nil, 0, fmt.Errorf("%w: missing %s", ErrIncompleteMealPackage, slot)
			}
		}
	}

	components := make([]models.MealComponent, 0, len(inputs))
	sum := 0.0
	for _, input := range inputs {
		components = append(components, models.MealComponent{
			Slot:        models.MealSlot(input.Slot),
			Name:        input.Name,
			UnitPrice:   input.UnitPrice,
			Description: input.Description,
		})
		sum += input.UnitPrice
	}

	return components, sum, nil
}

// keyedMutex serializes all transitions of one transaction without
// cross-transaction contention.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}

func anchorOf(t *models.Transaction) Location {
	return Location{
		Latitude:  t.AnchorLatitude,
		Longitude: t.AnchorLongitude,
		Accuracy:  t.AnchorAccuracy,
	}
}
