package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/wafra/backend/internal/models"
	"github.com/wafra/backend/internal/services"
)

// InvestHandler exposes the offer investment allocator.
type InvestHandler struct {
	offers    *services.OfferService
	redis     *redis.Client // optional idempotency fast path; nil-safe
	validator *services.ValidationHelper
}

func NewInvestHandler(offers *services.OfferService, redisClient *redis.Client) *InvestHandler {
	return &InvestHandler{
		offers:    offers,
		redis:     redisClient,
		validator: services.NewValidationHelper(),
	}
}

type investRequest struct {
	UserID         string  `json:"user_id" validate:"required,uuid4"`
	Amount         string  `json:"amount" validate:"required,amount"`
	Currency       string  `json:"currency" validate:"required,len=3"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// Invest allocates part of an offer to a user. Replays with the same
// idempotency key return the original result; the redis entry only short
// circuits the lookup, the DB unique key stays authoritative.
func (h *InvestHandler) Invest(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid offer id", http.StatusBadRequest, nil)
		return
	}

	var req investRequest
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

	if cached := h.cachedResult(r.Context(), req.IdempotencyKey); cached != nil {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	result, err := h.offers.Invest(offerID, userID, amount, req.Currency, req.IdempotencyKey)
	if err != nil && (result == nil || result.Intent == nil) {
		respondError(w, err)
		return
	}

	// A rejected intent is a committed outcome: surface the record with the
	// conflict status rather than a bare error.
	status := http.StatusCreated
	if err != nil {
		status = statusForError(err)
	} else {
		h.cacheResult(r.Context(), req.IdempotencyKey, result)
	}
	respondJSON(w, status, result)
}

func (h *InvestHandler) cachedResult(ctx context.Context, key *string) *services.InvestResult {
	if h.redis == nil || key == nil {
		return nil
	}
	raw, err := h.redis.Get(ctx, "invest:idem:"+*key).Bytes()
	if err != nil {
		return nil
	}
	var result services.InvestResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return &result
}

func (h *InvestHandler) cacheResult(ctx context.Context, key *string, result *services.InvestResult) {
	if h.redis == nil || key == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	h.redis.Set(ctx, "invest:idem:"+*key, raw, 24*time.Hour)
}

// GetCapacity reports an offer's remaining allocation room.
func (h *InvestHandler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid offer id", http.StatusBadRequest, nil)
		return
	}

	remaining, err := h.offers.RemainingCapacity(offerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"remaining": remaining.String()})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=DRAFT LIVE PAUSED CLOSED"`
	Reason string `json:"reason" validate:"required"`
}

// TransitionStatus moves an offer through its lifecycle.
func (h *InvestHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid offer id", http.StatusBadRequest, nil)
		return
	}

	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	offer, err := h.offers.TransitionStatus(offerID, models.OfferStatus(req.Status), actorFrom(r), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, offer)
}
