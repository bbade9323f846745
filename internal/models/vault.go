package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vault codes with distinct deposit/withdrawal behavior.
const (
	VaultCodeFlex   = "FLEX"   // instant liquidity
	VaultCodeAvenir = "AVENIR" // 365-day vesting lock
)

type VaultStatus string

const (
	VaultActive VaultStatus = "ACTIVE"
	VaultPaused VaultStatus = "PAUSED"
	VaultClosed VaultStatus = "CLOSED"
)

// Vault is a pooled savings product. CashBalance and TotalAUM are
// denormalized caches updated in lockstep with postings; the ledger account
// balance is the source of truth and is what invariant checks read.
type Vault struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Code        string          `json:"code" db:"code"`
	Currency    string          `json:"currency" db:"currency"`
	Status      VaultStatus     `json:"status" db:"status"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalAUM    decimal.Decimal `json:"total_aum" db:"total_aum"`
	LockedUntil *time.Time      `json:"locked_until,omitempty" db:"locked_until"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// VaultAccount is one user's position in a Vault. Unique per (vault, user).
type VaultAccount struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	VaultID          uuid.UUID       `json:"vault_id" db:"vault_id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	Principal        decimal.Decimal `json:"principal" db:"principal"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	LockedUntil      *time.Time      `json:"locked_until,omitempty" db:"locked_until"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalExecuted  WithdrawalStatus = "EXECUTED"
	WithdrawalCancelled WithdrawalStatus = "CANCELLED"
)

// WithdrawalRequest is a user's ask to pull funds out of a vault.
// Created PENDING when vault cash cannot cover it; the batch processor
// executes or cancels it later, strictly FIFO by created_at.
type WithdrawalRequest struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	VaultID      uuid.UUID        `json:"vault_id" db:"vault_id"`
	UserID       uuid.UUID        `json:"user_id" db:"user_id"`
	Amount       decimal.Decimal  `json:"amount" db:"amount"`
	Currency     string           `json:"currency" db:"currency"`
	Status       WithdrawalStatus `json:"status" db:"status"`
	Reason       *string          `json:"reason,omitempty" db:"reason"`
	CancelReason *string          `json:"cancel_reason,omitempty" db:"cancel_reason"`
	ExecutedAt   *time.Time       `json:"executed_at,omitempty" db:"executed_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

type VestingLotStatus string

const (
	LotVested   VestingLotStatus = "VESTED"
	LotReleased VestingLotStatus = "RELEASED"
)

// VestingLot is a deposit-derived vesting tranche (AVENIR only).
// SourceOperationID is unique, which makes lot creation idempotent per
// deposit operation.
type VestingLot struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	VaultID           uuid.UUID        `json:"vault_id" db:"vault_id"`
	UserID            uuid.UUID        `json:"user_id" db:"user_id"`
	Currency          string           `json:"currency" db:"currency"`
	DepositDay        time.Time        `json:"deposit_day" db:"deposit_day"`
	ReleaseDay        time.Time        `json:"release_day" db:"release_day"`
	Amount            decimal.Decimal  `json:"amount" db:"amount"`
	ReleasedAmount    decimal.Decimal  `json:"released_amount" db:"released_amount"`
	Status            VestingLotStatus `json:"status" db:"status"`
	SourceOperationID uuid.UUID        `json:"source_operation_id" db:"source_operation_id"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}
