// internal/handlers/fee.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/homeplate/homeplate-backend/internal/services"
	"github.com/homeplate/homeplate-backend/internal/utils"
)

type FeeHandler struct {
	feeService *services.FeeService
}

func NewFeeHandler(feeService *services.FeeService) *FeeHandler {
	return &FeeHandler{
		feeService: feeService,
	}
}

type feeQuoteRequest struct {
	MealComponentSum float64  `json:"meal_component_sum" validate:"required,gt=0"`
	SelectedServices []string `json:"selected_services" validate:"dive,service_id"`
}

// POST /fees/quote
// Prices a prospective package without creating anything, so clients can
// show the final hold amount before checkout.
func (h *FeeHandler) Quote(c *gin.Context) {
	var req feeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	packagePrice := h.feeService.PackagePrice(req.MealComponentSum)
	breakdown, err := h.feeService.Compute(packagePrice, req.SelectedServices)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"package_price":     packagePrice,
		"per_service_fee":   breakdown.PerServiceFee,
		"total_service_fee": breakdown.TotalServiceFee,
		"hold_amount":       packagePrice + breakdown.TotalServiceFee,
	})
}

// GET /fees/catalog
func (h *FeeHandler) Catalog(c *gin.Context) {
	schedule := h.feeService.Schedule()
	if schedule == nil {
		utils.InternalErrorResponse(c, "Fee schedule not loaded")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"version":          schedule.Version,
		"max_fee_fraction": schedule.MaxFeeFraction,
		"package_discount": schedule.PackageDiscount,
		"base_fees":        schedule.BaseFees,
	})
}
