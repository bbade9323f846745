package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "INITIATED"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// Transaction is the user-facing record of a fund movement. Its status
// derivation is owned by the boundary layer; the core only creates it
// INITIATED and asks a collaborator to recompute after each movement.
type Transaction struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	UserID    uuid.UUID         `json:"user_id" db:"user_id"`
	Kind      string            `json:"kind" db:"kind"`
	Amount    decimal.Decimal   `json:"amount" db:"amount"`
	Currency  string            `json:"currency" db:"currency"`
	Status    TransactionStatus `json:"status" db:"status"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}
