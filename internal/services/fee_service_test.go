// internal/services/fee_service_test.go
package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FeeServiceTestSuite struct {
	suite.Suite
	fees *FeeService
}

func (suite *FeeServiceTestSuite) SetupTest() {
	db := newTestDB(suite.T())
	fees, err := NewFeeService(db)
	require.NoError(suite.T(), err)
	suite.fees = fees
}

func (suite *FeeServiceTestSuite) TestPackagePriceDiscount() {
	assert.InDelta(suite.T(), 34.0, suite.fees.PackagePrice(40.0), 1e-9)
	assert.InDelta(suite.T(), 85.0, suite.fees.PackagePrice(100.0), 1e-9)
}

func (suite *FeeServiceTestSuite) TestComputeUnderCap() {
	breakdown, err := suite.fees.Compute(100.0, []string{"table_setting", "cleanup_service"})
	require.NoError(suite.T(), err)

	assert.InDelta(suite.T(), 8.0, breakdown.TotalServiceFee, 1e-9)
	assert.InDelta(suite.T(), 5.0, breakdown.PerServiceFee["table_setting"], 1e-9)
	assert.InDelta(suite.T(), 3.0, breakdown.PerServiceFee["cleanup_service"], 1e-9)
}

func (suite *FeeServiceTestSuite) TestComputeCapScalesProportionally() {
	// Raw fees 5 + 3 = 8 against a cap of 34 * 0.20 = 6.8.
	breakdown, err := suite.fees.Compute(34.0, []string{"table_setting", "cleanup_service"})
	require.NoError(suite.T(), err)

	assert.InDelta(suite.T(), 6.8, breakdown.TotalServiceFee, 1e-9)
	assert.InDelta(suite.T(), 4.25, breakdown.PerServiceFee["table_setting"], 1e-9)
	assert.InDelta(suite.T(), 2.55, breakdown.PerServiceFee["cleanup_service"], 1e-9)

	// Relative weighting survives the scaling.
	ratio := breakdown.PerServiceFee["table_setting"] / breakdown.PerServiceFee["cleanup_service"]
	assert.InDelta(suite.T(), 5.0/3.0, ratio, 1e-9)
}

func (suite *FeeServiceTestSuite) TestComputeFullCatalogCapped() {
	// All five services raw-sum to 20 against a cap of 50 * 0.20 = 10.
	all := []string{"table_setting", "cleanup_service", "grocery_shopping", "beverage_pairing", "custom_menu_card"}
	breakdown, err := suite.fees.Compute(50.0, all)
	require.NoError(suite.T(), err)

	assert.InDelta(suite.T(), 10.0, breakdown.TotalServiceFee, 1e-9)
	assert.InDelta(suite.T(), 3.0, breakdown.PerServiceFee["grocery_shopping"], 1e-9)
}

func (suite *FeeServiceTestSuite) TestComputeDeduplicatesSelection() {
	breakdown, err := suite.fees.Compute(100.0, []string{"table_setting", "table_setting"})
	require.NoError(suite.T(), err)
	assert.InDelta(suite.T(), 5.0, breakdown.TotalServiceFee, 1e-9)
	assert.Len(suite.T(), breakdown.PerServiceFee, 1)
}

func (suite *FeeServiceTestSuite) TestComputeEmptySelection() {
	breakdown, err := suite.fees.Compute(100.0, nil)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), breakdown.TotalServiceFee)
	assert.Empty(suite.T(), breakdown.PerServiceFee)
}

func (suite *FeeServiceTestSuite) TestComputeUnknownService() {
	_, err := suite.fees.Compute(100.0, []string{"valet_parking"})
	require.Error(suite.T(), err)
	assert.True(suite.T(), errors.Is(err, ErrInvalidServiceID))
}

func (suite *FeeServiceTestSuite) TestCatalogServiceIDsSorted() {
	ids := suite.fees.CatalogServiceIDs()
	assert.Equal(suite.T(), []string{
		"beverage_pairing", "cleanup_service", "custom_menu_card",
		"grocery_shopping", "table_setting",
	}, ids)
}

func TestFeeServiceTestSuite(t *testing.T) {
	suite.Run(t, new(FeeServiceTestSuite))
}
