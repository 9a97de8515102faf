// internal/services/testutil_test.go
package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/homeplate/homeplate-backend/internal/config"
	"github.com/homeplate/homeplate-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache database so every pooled connection sees the
	// same in-memory store.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Transaction{},
		&models.MealComponent{},
		&models.TransactionServiceFee{},
		&models.VerificationToken{},
		&models.PaymentHold{},
		&models.LedgerEntry{},
		&models.FeeScheduleVersion{},
		&models.ServiceFeeEntry{},
		&models.AuditLog{},
		&models.TransitionNotification{},
	)
	require.NoError(t, err)

	seedTestSchedule(t, db)
	return db
}

func seedTestSchedule(t *testing.T, db *gorm.DB) {
	t.Helper()

	schedule := &models.FeeScheduleVersion{
		Version:         1,
		MaxFeeFraction:  0.20,
		PackageDiscount: 0.15,
		Active:          true,
		Entries: []models.ServiceFeeEntry{
			{ServiceID: "table_setting", BaseFee: 5.00, Label: "Table setting"},
			{ServiceID: "cleanup_service", BaseFee: 3.00, Label: "Cleanup service"},
			{ServiceID: "grocery_shopping", BaseFee: 6.00, Label: "Grocery shopping"},
			{ServiceID: "beverage_pairing", BaseFee: 4.00, Label: "Beverage pairing"},
			{ServiceID: "custom_menu_card", BaseFee: 2.00, Label: "Custom menu card"},
		},
	}
	require.NoError(t, db.Create(schedule).Error)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Payment: config.PaymentConfig{
			Currency:         "usd",
			ReleaseRetryMax:  3,
			ReleaseRetryBase: 0,
		},
		Settlement: config.SettlementConfig{
			GeofenceRadiusMeters:   50,
			ArrivalDeadlineMinutes: 120,
			ExpirySweepSeconds:     60,
		},
	}
}

// fakeRail stands in for the payment processor. It hands out deterministic
// references and can be told to fail specific operations.
type fakeRail struct {
	mu sync.Mutex

	authorizes int
	captures   int
	refunds    int
	cancels    int

	failAuthorize bool
	failCaptures  int // fail this many captures, then succeed
}

func (r *fakeRail) Authorize(payerRef string, amountCents int64, currency string, metadata map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAuthorize {
		return "", fmt.Errorf("%w: authorize: card declined", ErrInsufficientFunds)
	}
	r.authorizes++
	return fmt.Sprintf("pi_test_%d", r.authorizes), nil
}

func (r *fakeRail) Capture(railRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCaptures > 0 {
		r.failCaptures--
		return fmt.Errorf("%w: capture: timeout", ErrPaymentGateway)
	}
	r.captures++
	return nil
}

func (r *fakeRail) Refund(railRef string, amountCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds++
	return nil
}

func (r *fakeRail) Cancel(railRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	return nil
}

func (r *fakeRail) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorizes, r.captures, r.refunds, r.cancels
}

// fakeNotifier records emitted transition events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (n *fakeNotifier) NotifyTransition(event TransitionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) transitions() []TransitionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]TransitionEvent, len(n.events))
	copy(out, n.events)
	return out
}
