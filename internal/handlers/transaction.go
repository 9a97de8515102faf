// internal/handlers/transaction.go
package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/homeplate/homeplate-backend/internal/services"
	"github.com/homeplate/homeplate-backend/internal/utils"
)

const evidenceAccessTTL = 15 * time.Minute

type TransactionHandler struct {
	transactionService *services.TransactionService
	escrowService      *services.EscrowService
	storageService     *services.StorageService
}

func NewTransactionHandler(transactionService *services.TransactionService, escrowService *services.EscrowService, storageService *services.StorageService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		escrowService:      escrowService,
		storageService:     storageService,
	}
}

// POST /transactions
func (h *TransactionHandler) Create(c *gin.Context) {
	hostID, ok := requireHostID(c)
	if !ok {
		return
	}

	payerRef, exists := utils.GetPayerRefFromContext(c)
	if !exists || payerRef == "" {
		utils.BadRequestResponse(c, "Payer reference missing from credentials", nil)
		return
	}

	var req services.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	response, err := h.transactionService.Create(hostID, payerRef, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, response)
}

// GET /transactions/:id
func (h *TransactionHandler) Get(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid transaction ID", nil)
		return
	}

	transaction, err := h.transactionService.Get(caller, transactionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, transaction)
}

// GET /transactions
func (h *TransactionHandler) List(c *gin.Context) {
	hostID, ok := requireHostID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	transactions, total, err := h.transactionService.List(hostID, params)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(transactions, total, params))
}

type scanRequest struct {
	TokenValue string                 `json:"token_value" validate:"required,len=32"`
	Location   services.LocationInput `json:"location" validate:"required"`
}

// POST /scans/entry
func (h *TransactionHandler) ScanEntry(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	transaction, err := h.transactionService.OnEntryScan(req.TokenValue, req.Location)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, transaction)
}

// POST /scans/exit
func (h *TransactionHandler) ScanExit(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	transaction, err := h.transactionService.OnExitScan(req.TokenValue, req.Location)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, transaction)
}

// POST /transactions/:id/dispute
// Multipart form: reason (required) plus an optional evidence attachment.
func (h *TransactionHandler) Dispute(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid transaction ID", nil)
		return
	}

	reason := c.PostForm("reason")
	if reason == "" {
		utils.BadRequestResponse(c, "Dispute reason is required", nil)
		return
	}

	evidenceURL := ""
	evidenceKey := ""
	if file, header, err := c.Request.FormFile("evidence"); err == nil {
		defer file.Close()
		result, err := h.storageService.UploadEvidence(transactionID, file, header)
		if err != nil {
			utils.BadRequestResponse(c, "Failed to upload evidence", err.Error())
			return
		}
		evidenceURL = result.URL
		evidenceKey = result.Key
	}

	transaction, err := h.transactionService.OnDispute(caller, transactionID, reason, evidenceURL)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := gin.H{"transaction": transaction}
	if evidenceKey != "" {
		// Evidence objects are private; hand back a time-limited link.
		if signed, err := h.storageService.GeneratePresignedURL(evidenceKey, evidenceAccessTTL); err == nil {
			response["evidence_access_url"] = signed
		} else {
			response["evidence_access_url"] = evidenceURL
		}
	}

	utils.SuccessResponse(c, response)
}

// POST /transactions/:id/cancel
func (h *TransactionHandler) Cancel(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid transaction ID", nil)
		return
	}

	transaction, err := h.transactionService.OnCancel(caller, transactionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, transaction)
}

// GET /hosts/balance
func (h *TransactionHandler) Balance(c *gin.Context) {
	hostID, ok := requireHostID(c)
	if !ok {
		return
	}

	balance, err := h.escrowService.HostPayableBalance(hostID)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to compute balance")
		return
	}

	utils.SuccessResponse(c, gin.H{"host_id": hostID, "payable_balance": balance})
}

func requireCaller(c *gin.Context) (services.Caller, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return services.Caller{}, false
	}

	callerID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return services.Caller{}, false
	}

	payerRef, _ := utils.GetPayerRefFromContext(c)
	return services.Caller{UserID: callerID, PayerRef: payerRef}, true
}

func requireHostID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}

	hostID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return uuid.Nil, false
	}

	return hostID, true
}

// respondServiceError maps service sentinels onto HTTP statuses. Input
// problems are 400, presence failures 422, ordering and lifecycle conflicts
// 409, money problems 402.
func respondServiceError(c *gin.Context, err error) {
	var geoErr *services.GeofenceError

	switch {
	case errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrTokenNotFound):
		utils.NotFoundResponse(c, "Transaction")
	case errors.Is(err, services.ErrIncompleteMealPackage),
		errors.Is(err, services.ErrInvalidServiceID),
		errors.Is(err, services.ErrInvalidCoordinate):
		utils.BadRequestResponse(c, err.Error(), nil)
	case errors.As(err, &geoErr):
		utils.UnprocessableResponse(c, "OUTSIDE_GEOFENCE", geoErr.Error(), gin.H{
			"distance_meters": geoErr.DistanceMeters,
			"allowed_meters":  geoErr.AllowedMeters,
		})
	case errors.Is(err, services.ErrGeofenceMismatch):
		utils.UnprocessableResponse(c, "OUTSIDE_GEOFENCE", err.Error(), nil)
	case errors.Is(err, services.ErrTokenReplay):
		utils.ConflictResponse(c, "TOKEN_REPLAY", err.Error())
	case errors.Is(err, services.ErrTokenOutOfOrder):
		utils.ConflictResponse(c, "TOKEN_OUT_OF_ORDER", err.Error())
	case errors.Is(err, services.ErrTokenExpired):
		utils.ConflictResponse(c, "TOKEN_EXPIRED", err.Error())
	case errors.Is(err, services.ErrOperationNotAllowed),
		errors.Is(err, services.ErrAlreadySettled):
		utils.ConflictResponse(c, "OPERATION_NOT_ALLOWED", err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		utils.PaymentRequiredResponse(c, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, services.ErrPaymentGateway):
		utils.ErrorResponse(c, 502, "PAYMENT_GATEWAY", "Payment processor unavailable", nil)
	default:
		utils.InternalErrorResponse(c, "")
	}
}
