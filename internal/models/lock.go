package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LockReason string

const (
	LockReasonOfferInvest  LockReason = "OFFER_INVEST"
	LockReasonVaultVesting LockReason = "VAULT_AVENIR_VESTING"
)

type LockStatus string

const (
	LockActive   LockStatus = "ACTIVE"
	LockReleased LockStatus = "RELEASED"
)

// Reference types a WalletLock can point at.
const (
	LockRefOffer = "OFFER"
	LockRefVault = "VAULT"
)

// WalletLock is a display-side bookkeeping record tying a slice of the
// WALLET_LOCKED ledger balance to the instrument that caused it. The
// authoritative locked balance is always the ledger sum; the invariant
// SUM(ACTIVE locks) == WALLET_LOCKED balance is checked and logged, never
// hard-failed.
type WalletLock struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	Currency      string          `json:"currency" db:"currency"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Reason        LockReason      `json:"reason" db:"reason"`
	ReferenceType string          `json:"reference_type" db:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id" db:"reference_id"`
	Status        LockStatus      `json:"status" db:"status"`
	IntentID      *uuid.UUID      `json:"intent_id,omitempty" db:"intent_id"`
	OperationID   *uuid.UUID      `json:"operation_id,omitempty" db:"operation_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty" db:"released_at"`
}
