package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountType identifies a balance bucket in the ledger.
type AccountType string

const (
	AccountWalletAvailable AccountType = "WALLET_AVAILABLE"
	AccountWalletLocked    AccountType = "WALLET_LOCKED"
	AccountWalletBlocked   AccountType = "WALLET_BLOCKED"

	AccountInternalOmnibus AccountType = "INTERNAL_OMNIBUS"

	AccountOfferPoolAvailable AccountType = "OFFER_POOL_AVAILABLE"
	AccountOfferPoolLocked    AccountType = "OFFER_POOL_LOCKED"
	AccountOfferPoolBlocked   AccountType = "OFFER_POOL_BLOCKED"

	AccountVaultPoolCash    AccountType = "VAULT_POOL_CASH"
	AccountVaultPoolLocked  AccountType = "VAULT_POOL_LOCKED"
	AccountVaultPoolBlocked AccountType = "VAULT_POOL_BLOCKED"
)

// WalletCompartments are the per-user account types ensured for every
// (user, currency) pair.
var WalletCompartments = []AccountType{
	AccountWalletAvailable,
	AccountWalletLocked,
	AccountWalletBlocked,
}

// Account is a named balance bucket. It never stores a balance column;
// the balance is always the sum of its ledger entries.
type Account struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	OwnerID   *uuid.UUID  `json:"owner_id,omitempty" db:"owner_id"` // nil for system/pool accounts
	Type      AccountType `json:"type" db:"type"`
	Currency  string      `json:"currency" db:"currency"`
	OfferID   *uuid.UUID  `json:"offer_id,omitempty" db:"offer_id"`
	VaultID   *uuid.UUID  `json:"vault_id,omitempty" db:"vault_id"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
