package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferStatus is the lifecycle of an investment product.
// DRAFT -> LIVE <-> PAUSED -> CLOSED; CLOSED is terminal.
type OfferStatus string

const (
	OfferDraft  OfferStatus = "DRAFT"
	OfferLive   OfferStatus = "LIVE"
	OfferPaused OfferStatus = "PAUSED"
	OfferClosed OfferStatus = "CLOSED"
)

// ValidOfferTransition reports whether from -> to is an allowed lifecycle move.
func ValidOfferTransition(from, to OfferStatus) bool {
	switch from {
	case OfferDraft:
		return to == OfferLive
	case OfferLive:
		return to == OfferPaused || to == OfferClosed
	case OfferPaused:
		return to == OfferLive || to == OfferClosed
	default: // CLOSED is terminal
		return false
	}
}

// Offer is an investment product with a hard cap.
// InvestedAmount and CommittedAmount are two historically named columns kept
// in sync; both only change under the offer row lock during allocation.
type Offer struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Code            string          `json:"code" db:"code"`
	Name            string          `json:"name" db:"name"`
	Currency        string          `json:"currency" db:"currency"`
	MaxAmount       decimal.Decimal `json:"max_amount" db:"max_amount"`
	InvestedAmount  decimal.Decimal `json:"invested_amount" db:"invested_amount"`
	CommittedAmount decimal.Decimal `json:"committed_amount" db:"committed_amount"`
	Status          OfferStatus     `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining is the capacity still open for allocation, floored at zero.
func (o *Offer) Remaining() decimal.Decimal {
	r := o.MaxAmount.Sub(o.InvestedAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// IntentStatus is the state of one investment attempt.
// PENDING -> CONFIRMED | REJECTED; both outcomes are terminal.
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentConfirmed IntentStatus = "CONFIRMED"
	IntentRejected  IntentStatus = "REJECTED"
)

// InvestmentIntent is one user's attempt against an Offer. Immutable once
// terminal; idempotency-key replays return the stored row unchanged.
type InvestmentIntent struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OfferID         uuid.UUID       `json:"offer_id" db:"offer_id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
	Currency        string          `json:"currency" db:"currency"`
	Status          IntentStatus    `json:"status" db:"status"`
	RejectReason    *string         `json:"reject_reason,omitempty" db:"reject_reason"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	OperationID     *uuid.UUID      `json:"operation_id,omitempty" db:"operation_id"` // set iff CONFIRMED
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
