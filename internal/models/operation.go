package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OperationType classifies an atomic unit of ledger work.
type OperationType string

const (
	OpDeposit             OperationType = "DEPOSIT_AED"
	OpReleaseFunds        OperationType = "RELEASE_FUNDS"
	OpInvestExclusive     OperationType = "INVEST_EXCLUSIVE"
	OpReversalDeposit     OperationType = "REVERSAL_DEPOSIT"
	OpVaultDeposit        OperationType = "VAULT_DEPOSIT"
	OpVaultWithdraw       OperationType = "VAULT_WITHDRAW_EXECUTED"
	OpVaultVestingRelease OperationType = "VAULT_VESTING_RELEASE"
	OpAdjustment          OperationType = "ADJUSTMENT"
)

// OperationStatus is always COMPLETED: postings are synchronous and atomic,
// an operation either commits fully or is never created.
type OperationStatus string

const OperationCompleted OperationStatus = "COMPLETED"

// Operation is an atomic unit of double-entry work. Immutable after creation.
type Operation struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Type           OperationType   `json:"type" db:"type"`
	Status         OperationStatus `json:"status" db:"status"`
	TransactionID  *uuid.UUID      `json:"transaction_id,omitempty" db:"transaction_id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Metadata       Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
