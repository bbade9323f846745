package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wafra/backend/internal/services"
)

// WalletHandler exposes the compliance fund movements and balance reads.
type WalletHandler struct {
	wallet    *services.WalletService
	funds     *services.FundsService
	validator *services.ValidationHelper
}

func NewWalletHandler(wallet *services.WalletService, funds *services.FundsService) *WalletHandler {
	return &WalletHandler{
		wallet:    wallet,
		funds:     funds,
		validator: services.NewValidationHelper(),
	}
}

type depositRequest struct {
	UserID         string  `json:"user_id" validate:"required,uuid4"`
	Currency       string  `json:"currency" validate:"required,len=3"`
	Amount         string  `json:"amount" validate:"required,amount"`
	TransactionID  *string `json:"transaction_id,omitempty" validate:"omitempty,uuid4"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// RecordDeposit credits a user's blocked compartment pending compliance.
func (h *WalletHandler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	userID, amount, err := parseUserAmount(req.UserID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	var transactionID *uuid.UUID
	if req.TransactionID != nil {
		id, err := uuid.Parse(*req.TransactionID)
		if err != nil {
			services.SendErrorResponse(w, "Invalid transaction_id", http.StatusBadRequest, nil)
			return
		}
		transactionID = &id
	}

	op, err := h.funds.RecordDepositBlocked(userID, req.Currency, amount, transactionID, req.IdempotencyKey, actorFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, op)
}

type releaseRequest struct {
	UserID   string `json:"user_id" validate:"required,uuid4"`
	Currency string `json:"currency" validate:"required,len=3"`
	Amount   string `json:"amount" validate:"required,amount"`
	Reason   string `json:"reason" validate:"required"`
}

// ReleaseFunds moves cleared funds from blocked to available.
func (h *WalletHandler) ReleaseFunds(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	userID, amount, err := parseUserAmount(req.UserID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	op, err := h.funds.ReleaseComplianceFunds(userID, req.Currency, amount, req.Reason, actorFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, op)
}

// RejectDeposit reverses a blocked deposit back to the omnibus account.
func (h *WalletHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	userID, amount, err := parseUserAmount(req.UserID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	op, err := h.funds.RejectDeposit(userID, req.Currency, amount, req.Reason, actorFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, op)
}

// GetBalances returns the per-compartment ledger-derived balances.
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid user_id", http.StatusBadRequest, nil)
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		services.SendErrorResponse(w, "currency is required", http.StatusBadRequest, nil)
		return
	}

	balances, err := h.wallet.GetWalletBalances(userID, currency)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balances)
}

// GetLockReconciliation compares display locks to the locked ledger balance.
func (h *WalletHandler) GetLockReconciliation(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid user_id", http.StatusBadRequest, nil)
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		services.SendErrorResponse(w, "currency is required", http.StatusBadRequest, nil)
		return
	}

	rec, err := h.wallet.ReconcileWalletLocks(userID, currency)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func parseUserAmount(rawUser, rawAmount string) (uuid.UUID, decimal.Decimal, error) {
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return uuid.Nil, decimal.Zero, err
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return uuid.Nil, decimal.Zero, err
	}
	return userID, amount, nil
}
