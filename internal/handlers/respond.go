package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/wafra/backend/internal/middleware"
	"github.com/wafra/backend/internal/services"
)

const maxBodyBytes = 1_048_576 // 1 MB

// decodeJSON enforces the single-object, known-fields request contract.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// statusForError maps the core's typed errors onto boundary status codes:
// 404 not-found, 409 state conflicts, 403 forbidden transitions, 400
// validation failures.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrOfferNotFound),
		errors.Is(err, services.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrVaultPaused),
		errors.Is(err, services.ErrVaultLocked):
		return http.StatusForbidden
	case errors.Is(err, services.ErrOfferFull),
		errors.Is(err, services.ErrOfferNotLive),
		errors.Is(err, services.ErrOfferClosed),
		errors.Is(err, services.ErrOfferCurrencyMismatch),
		errors.Is(err, services.ErrInsufficientAvailableFunds),
		errors.Is(err, services.ErrInsufficientUserBalance),
		errors.Is(err, services.ErrInsufficientVaultBalance),
		errors.Is(err, services.ErrInvalidStatusTransition):
		return http.StatusConflict
	default:
		if _, ok := services.IsInsufficientBalance(err); ok {
			return http.StatusConflict
		}
		if _, ok := services.IsValidationError(err); ok {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// actorFrom builds the audit actor from the authenticated caller.
func actorFrom(r *http.Request) services.Actor {
	raw, _ := r.Context().Value(middleware.UserIDKey).(string)
	if id, err := uuid.Parse(raw); err == nil {
		return services.Actor{UserID: &id, Role: "USER"}
	}
	return services.Actor{Role: "API"}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	respondJSON(w, status, map[string]string{"error": message})
}
