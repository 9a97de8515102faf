// internal/services/escrow_service_test.go
package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/models"
)

type EscrowServiceTestSuite struct {
	suite.Suite
	db     *gorm.DB
	rail   *fakeRail
	escrow *EscrowService
	hostID uuid.UUID
}

func (suite *EscrowServiceTestSuite) SetupTest() {
	suite.db = newTestDB(suite.T())
	suite.rail = &fakeRail{}
	suite.escrow = NewEscrowService(suite.db, suite.rail, "usd")
	suite.hostID = uuid.New()
}

func (suite *EscrowServiceTestSuite) openHold(amount float64) *models.PaymentHold {
	hold, err := suite.escrow.Hold(suite.db, uuid.New(), suite.hostID, "cus_test", amount)
	require.NoError(suite.T(), err)
	return hold
}

func (suite *EscrowServiceTestSuite) ledgerEntries(holdID uuid.UUID, entryType models.LedgerEntryType) []models.LedgerEntry {
	var entries []models.LedgerEntry
	require.NoError(suite.T(),
		suite.db.Where("hold_id = ? AND entry_type = ?", holdID, entryType).Find(&entries).Error)
	return entries
}

func (suite *EscrowServiceTestSuite) TestHoldAuthorizesAndRecords() {
	hold := suite.openHold(40.80)

	assert.Equal(suite.T(), models.HoldStatusHeld, hold.Status)
	assert.Equal(suite.T(), "pi_test_1", hold.RailRef)

	entries := suite.ledgerEntries(hold.ID, models.LedgerEntryHold)
	require.Len(suite.T(), entries, 1)
	assert.InDelta(suite.T(), 40.80, entries[0].Amount, 1e-9)
	assert.Equal(suite.T(), suite.hostID, entries[0].HostID)
}

func (suite *EscrowServiceTestSuite) TestHoldFailsWhenRailDeclines() {
	suite.rail.failAuthorize = true

	_, err := suite.escrow.Hold(suite.db, uuid.New(), suite.hostID, "cus_test", 10)
	require.Error(suite.T(), err)
	assert.True(suite.T(), errors.Is(err, ErrInsufficientFunds))

	var count int64
	suite.db.Model(&models.PaymentHold{}).Count(&count)
	assert.Zero(suite.T(), count)
}

func (suite *EscrowServiceTestSuite) TestHoldVoidsAuthorizationWhenPersistFails() {
	// Break ledger persistence so the hold fails after the rail already
	// authorized the charge.
	require.NoError(suite.T(), suite.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err := suite.escrow.Hold(suite.db, uuid.New(), suite.hostID, "cus_test", 10)
	require.Error(suite.T(), err)

	authorizes, _, _, cancels := suite.rail.counts()
	assert.Equal(suite.T(), 1, authorizes)
	assert.Equal(suite.T(), 1, cancels)
}

func (suite *EscrowServiceTestSuite) TestReleaseIsIdempotent() {
	hold := suite.openHold(40.80)

	require.NoError(suite.T(), suite.escrow.Release(hold.ID))
	require.NoError(suite.T(), suite.escrow.Release(hold.ID))

	// Credited exactly once despite the double release.
	entries := suite.ledgerEntries(hold.ID, models.LedgerEntryRelease)
	assert.Len(suite.T(), entries, 1)

	_, captures, _, _ := suite.rail.counts()
	assert.Equal(suite.T(), 1, captures)

	balance, err := suite.escrow.HostPayableBalance(suite.hostID)
	require.NoError(suite.T(), err)
	assert.InDelta(suite.T(), 40.80, balance, 1e-9)
}

func (suite *EscrowServiceTestSuite) TestReverseIsIdempotent() {
	hold := suite.openHold(25)

	require.NoError(suite.T(), suite.escrow.Reverse(hold.ID))
	require.NoError(suite.T(), suite.escrow.Reverse(hold.ID))

	entries := suite.ledgerEntries(hold.ID, models.LedgerEntryReverse)
	assert.Len(suite.T(), entries, 1)
	assert.InDelta(suite.T(), 25.0, entries[0].Amount, 1e-9)

	var reloaded models.PaymentHold
	require.NoError(suite.T(), suite.db.First(&reloaded, "id = ?", hold.ID).Error)
	assert.Equal(suite.T(), models.HoldStatusReversed, reloaded.Status)
}

func (suite *EscrowServiceTestSuite) TestReleaseAfterReverseRejected() {
	hold := suite.openHold(25)
	require.NoError(suite.T(), suite.escrow.Reverse(hold.ID))

	err := suite.escrow.Release(hold.ID)
	assert.True(suite.T(), errors.Is(err, ErrAlreadySettled))
}

func (suite *EscrowServiceTestSuite) TestReverseAfterReleaseRejected() {
	hold := suite.openHold(25)
	require.NoError(suite.T(), suite.escrow.Release(hold.ID))

	err := suite.escrow.Reverse(hold.ID)
	assert.True(suite.T(), errors.Is(err, ErrAlreadySettled))
}

func (suite *EscrowServiceTestSuite) TestPartialRefund() {
	hold := suite.openHold(40)

	require.NoError(suite.T(), suite.escrow.Refund(hold.ID, 0.5))

	var reloaded models.PaymentHold
	require.NoError(suite.T(), suite.db.First(&reloaded, "id = ?", hold.ID).Error)
	assert.Equal(suite.T(), models.HoldStatusPartiallyRefunded, reloaded.Status)
	assert.InDelta(suite.T(), 20.0, reloaded.RefundedAmount, 1e-9)

	entries := suite.ledgerEntries(hold.ID, models.LedgerEntryRefund)
	require.Len(suite.T(), entries, 1)
	assert.InDelta(suite.T(), 20.0, entries[0].Amount, 1e-9)
}

func (suite *EscrowServiceTestSuite) TestRefundFractionValidated() {
	hold := suite.openHold(40)
	assert.Error(suite.T(), suite.escrow.Refund(hold.ID, 1.5))
	assert.Error(suite.T(), suite.escrow.Refund(hold.ID, -0.1))
}

func (suite *EscrowServiceTestSuite) TestFullRefundMarksReversed() {
	hold := suite.openHold(40)

	require.NoError(suite.T(), suite.escrow.Refund(hold.ID, 1))

	var reloaded models.PaymentHold
	require.NoError(suite.T(), suite.db.First(&reloaded, "id = ?", hold.ID).Error)
	assert.Equal(suite.T(), models.HoldStatusReversed, reloaded.Status)
}

func TestEscrowServiceTestSuite(t *testing.T) {
	suite.Run(t, new(EscrowServiceTestSuite))
}
