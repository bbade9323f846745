package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wafra/backend/internal/services"
)

// VaultHandler exposes vault deposits, withdrawals, the pending-withdrawal
// processor, and the vesting release trigger.
type VaultHandler struct {
	vaults    *services.VaultService
	vesting   *services.VestingService
	validator *services.ValidationHelper
}

func NewVaultHandler(vaults *services.VaultService, vesting *services.VestingService) *VaultHandler {
	return &VaultHandler{
		vaults:    vaults,
		vesting:   vesting,
		validator: services.NewValidationHelper(),
	}
}

type vaultDepositRequest struct {
	UserID         string  `json:"user_id" validate:"required,uuid4"`
	Currency       string  `json:"currency" validate:"required,len=3"`
	Amount         string  `json:"amount" validate:"required,amount"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// Deposit moves available funds into a vault.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	vaultCode := chi.URLParam(r, "code")

	var req vaultDepositRequest
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

	op, err := h.vaults.Deposit(userID, vaultCode, req.Currency, amount, req.IdempotencyKey)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, op)
}

type vaultWithdrawRequest struct {
	UserID   string  `json:"user_id" validate:"required,uuid4"`
	Currency string  `json:"currency" validate:"required,len=3"`
	Amount   string  `json:"amount" validate:"required,amount"`
	Reason   *string `json:"reason,omitempty"`
}

// RequestWithdrawal asks to pull funds out; executes now or queues PENDING.
func (h *VaultHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	vaultCode := chi.URLParam(r, "code")

	var req vaultWithdrawRequest
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

	request, err := h.vaults.RequestWithdrawal(userID, vaultCode, req.Currency, amount, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, request)
}

type processRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

// ProcessPending drains the vault's PENDING withdrawal queue FIFO.
func (h *VaultHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	vaultCode := chi.URLParam(r, "code")

	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.vaults.ProcessPendingWithdrawals(vaultCode, req.Currency)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type vestingReleaseRequest struct {
	AsOf     *string `json:"as_of,omitempty"` // RFC 3339; defaults to now
	Currency string  `json:"currency" validate:"required,len=3"`
	DryRun   bool    `json:"dry_run"`
	TraceID  string  `json:"trace_id"`
	MaxLots  int     `json:"max_lots"`
}

// ReleaseVesting triggers one vesting release run. The scheduled job calls
// the same service; this endpoint exists for manual runs and dry-run audits.
func (h *VaultHandler) ReleaseVesting(w http.ResponseWriter, r *http.Request) {
	var req vestingReleaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	params := services.ReleaseParams{
		Currency: req.Currency,
		DryRun:   req.DryRun,
		TraceID:  req.TraceID,
		MaxLots:  req.MaxLots,
	}
	if req.AsOf != nil {
		asOf, err := time.Parse(time.RFC3339, *req.AsOf)
		if err != nil {
			services.SendErrorResponse(w, "Invalid as_of timestamp", http.StatusBadRequest, nil)
			return
		}
		params.AsOf = asOf
	}
	if params.TraceID == "" {
		params.TraceID = uuid.NewString()
	}

	summary, err := h.vesting.ReleaseAvenirVestingLots(params)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
