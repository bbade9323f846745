package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType records the side of a posting. The sign of Amount is
// authoritative; the entry type is kept redundantly for reporting.
type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// LedgerEntry is one leg of a double-entry posting. Entries are append-only:
// no update or delete path exists anywhere in the codebase.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OperationID uuid.UUID       `json:"operation_id" db:"operation_id"`
	AccountID   uuid.UUID       `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // positive = CREDIT, negative = DEBIT
	EntryType   EntryType       `json:"entry_type" db:"entry_type"`
	Currency    string          `json:"currency" db:"currency"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// EntryTypeForAmount derives the redundant entry side from the signed amount.
func EntryTypeForAmount(amount decimal.Decimal) EntryType {
	if amount.IsNegative() {
		return EntryDebit
	}
	return EntryCredit
}
