// internal/handlers/fee_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/homeplate/homeplate-backend/internal/models"
	"github.com/homeplate/homeplate-backend/internal/services"
)

type FeeHandlerTestSuite struct {
	suite.Suite
	router *gin.Engine
}

func (suite *FeeHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), db.AutoMigrate(&models.FeeScheduleVersion{}, &models.ServiceFeeEntry{}))

	schedule := &models.FeeScheduleVersion{
		Version:         1,
		MaxFeeFraction:  0.20,
		PackageDiscount: 0.15,
		Active:          true,
		Entries: []models.ServiceFeeEntry{
			{ServiceID: "table_setting", BaseFee: 5.00, Label: "Table setting"},
			{ServiceID: "cleanup_service", BaseFee: 3.00, Label: "Cleanup service"},
		},
	}
	require.NoError(suite.T(), db.Create(schedule).Error)

	feeService, err := services.NewFeeService(db)
	require.NoError(suite.T(), err)
	feeHandler := NewFeeHandler(feeService)

	suite.router = gin.New()
	fees := suite.router.Group("/v1/fees")
	{
		fees.POST("/quote", feeHandler.Quote)
		fees.GET("/catalog", feeHandler.Catalog)
	}
}

func (suite *FeeHandlerTestSuite) postQuote(body map[string]interface{}) *httptest.ResponseRecorder {
	jsonData, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", "/v1/fees/quote", bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *FeeHandlerTestSuite) TestQuoteCapsFees() {
	w := suite.postQuote(map[string]interface{}{
		"meal_component_sum": 40,
		"selected_services":  []string{"table_setting", "cleanup_service"},
	})

	assert.Equal(suite.T(), http.StatusOK, w.Code)

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			PackagePrice    float64            `json:"package_price"`
			PerServiceFee   map[string]float64 `json:"per_service_fee"`
			TotalServiceFee float64            `json:"total_service_fee"`
			HoldAmount      float64            `json:"hold_amount"`
		} `json:"data"`
	}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(suite.T(), response.Success)
	assert.InDelta(suite.T(), 34.0, response.Data.PackagePrice, 1e-6)
	assert.InDelta(suite.T(), 6.8, response.Data.TotalServiceFee, 1e-6)
	assert.InDelta(suite.T(), 40.8, response.Data.HoldAmount, 1e-6)
	assert.InDelta(suite.T(), 4.25, response.Data.PerServiceFee["table_setting"], 1e-6)
}

func (suite *FeeHandlerTestSuite) TestQuoteRejectsUnknownService() {
	w := suite.postQuote(map[string]interface{}{
		"meal_component_sum": 40,
		"selected_services":  []string{"valet_parking"},
	})

	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *FeeHandlerTestSuite) TestQuoteRequiresComponentSum() {
	w := suite.postQuote(map[string]interface{}{
		"selected_services": []string{"table_setting"},
	})

	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *FeeHandlerTestSuite) TestCatalog() {
	req, _ := http.NewRequest("GET", "/v1/fees/catalog", nil)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	assert.Equal(suite.T(), http.StatusOK, w.Code)

	var response struct {
		Data struct {
			Version         int                `json:"version"`
			MaxFeeFraction  float64            `json:"max_fee_fraction"`
			PackageDiscount float64            `json:"package_discount"`
			BaseFees        map[string]float64 `json:"base_fees"`
		} `json:"data"`
	}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(suite.T(), 1, response.Data.Version)
	assert.InDelta(suite.T(), 0.20, response.Data.MaxFeeFraction, 1e-9)
	assert.Len(suite.T(), response.Data.BaseFees, 2)
}

func TestFeeHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(FeeHandlerTestSuite))
}
