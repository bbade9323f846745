package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wafra/backend/internal/models"
)

// WalletService manages the per-user AVAILABLE/LOCKED/BLOCKED compartments
// and their system-pool analogues, and reads balances back from the ledger.
type WalletService struct {
	db     *sql.DB
	ledger *LedgerService
	log    zerolog.Logger
}

func NewWalletService(db *sql.DB, ledger *LedgerService, log zerolog.Logger) *WalletService {
	return &WalletService{db: db, ledger: ledger, log: log.With().Str("service", "wallet").Logger()}
}

// WalletBalances is the per-compartment view of one user's wallet, each
// figure computed from the ledger.
type WalletBalances struct {
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`
	BlockedBalance   decimal.Decimal `json:"blocked_balance"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
}

// ensureAccountTx is the single get-or-create path for every account tuple.
// At most one account exists per (owner, type, currency, offer, vault).
func (s *WalletService) ensureAccountTx(tx *sql.Tx, owner *uuid.UUID, acctType models.AccountType, currency string, offerID, vaultID *uuid.UUID) (uuid.UUID, error) {
	if currency == "" {
		return uuid.Nil, &ValidationError{Kind: KindCurrencyRequired, Message: "currency is required"}
	}

	var id uuid.UUID
	err := tx.QueryRow(`
		SELECT id FROM accounts
		WHERE type = $1 AND currency = $2
		  AND owner_id IS NOT DISTINCT FROM $3
		  AND offer_id IS NOT DISTINCT FROM $4
		  AND vault_id IS NOT DISTINCT FROM $5`,
		acctType, currency, owner, offerID, vaultID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("lookup account: %w", err)
	}

	id = uuid.New()
	_, err = tx.Exec(`
		INSERT INTO accounts (id, owner_id, type, currency, offer_id, vault_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, owner, acctType, currency, offerID, vaultID, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create %s account: %w", acctType, err)
	}
	return id, nil
}

// EnsureWalletAccountsTx idempotently get-or-creates the three wallet
// compartments for a user and currency. Side-effect free when all exist.
func (s *WalletService) EnsureWalletAccountsTx(tx *sql.Tx, userID uuid.UUID, currency string) (map[models.AccountType]uuid.UUID, error) {
	accounts := make(map[models.AccountType]uuid.UUID, len(models.WalletCompartments))
	for _, acctType := range models.WalletCompartments {
		id, err := s.ensureAccountTx(tx, &userID, acctType, currency, nil, nil)
		if err != nil {
			return nil, err
		}
		accounts[acctType] = id
	}
	return accounts, nil
}

// EnsureOmnibusAccountTx get-or-creates the shared system omnibus account.
func (s *WalletService) EnsureOmnibusAccountTx(tx *sql.Tx, currency string) (uuid.UUID, error) {
	return s.ensureAccountTx(tx, nil, models.AccountInternalOmnibus, currency, nil, nil)
}

// EnsureOfferPoolAccountsTx get-or-creates the per-offer pool accounts.
func (s *WalletService) EnsureOfferPoolAccountsTx(tx *sql.Tx, offerID uuid.UUID, currency string) (map[models.AccountType]uuid.UUID, error) {
	types := []models.AccountType{
		models.AccountOfferPoolAvailable,
		models.AccountOfferPoolLocked,
		models.AccountOfferPoolBlocked,
	}
	accounts := make(map[models.AccountType]uuid.UUID, len(types))
	for _, acctType := range types {
		id, err := s.ensureAccountTx(tx, nil, acctType, currency, &offerID, nil)
		if err != nil {
			return nil, err
		}
		accounts[acctType] = id
	}
	return accounts, nil
}

// EnsureVaultPoolAccountsTx get-or-creates the per-vault pool accounts.
func (s *WalletService) EnsureVaultPoolAccountsTx(tx *sql.Tx, vaultID uuid.UUID, currency string) (map[models.AccountType]uuid.UUID, error) {
	types := []models.AccountType{
		models.AccountVaultPoolCash,
		models.AccountVaultPoolLocked,
		models.AccountVaultPoolBlocked,
	}
	accounts := make(map[models.AccountType]uuid.UUID, len(types))
	for _, acctType := range types {
		id, err := s.ensureAccountTx(tx, nil, acctType, currency, nil, &vaultID)
		if err != nil {
			return nil, err
		}
		accounts[acctType] = id
	}
	return accounts, nil
}

// GetWalletBalances ensures the compartments exist and returns their
// ledger-derived balances.
func (s *WalletService) GetWalletBalances(userID uuid.UUID, currency string) (*WalletBalances, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	accounts, err := s.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	balances := &WalletBalances{Currency: currency}
	if balances.AvailableBalance, err = s.ledger.AccountBalanceTx(tx, accounts[models.AccountWalletAvailable]); err != nil {
		return nil, err
	}
	if balances.LockedBalance, err = s.ledger.AccountBalanceTx(tx, accounts[models.AccountWalletLocked]); err != nil {
		return nil, err
	}
	if balances.BlockedBalance, err = s.ledger.AccountBalanceTx(tx, accounts[models.AccountWalletBlocked]); err != nil {
		return nil, err
	}
	balances.TotalBalance = balances.AvailableBalance.Add(balances.LockedBalance).Add(balances.BlockedBalance)

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return balances, nil
}

// LockReconciliation compares the display-side wallet locks against the
// authoritative WALLET_LOCKED ledger balance.
type LockReconciliation struct {
	Currency      string          `json:"currency"`
	LedgerLocked  decimal.Decimal `json:"ledger_locked"`
	ActiveLockSum decimal.Decimal `json:"active_lock_sum"`
	Balanced      bool            `json:"balanced"`
}

// ReconcileWalletLocks checks SUM(ACTIVE wallet_locks) == WALLET_LOCKED
// balance for one user. A mismatch is logged, never hard-failed.
func (s *WalletService) ReconcileWalletLocks(userID uuid.UUID, currency string) (*LockReconciliation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	accounts, err := s.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	ledgerLocked, err := s.ledger.AccountBalanceTx(tx, accounts[models.AccountWalletLocked])
	if err != nil {
		return nil, err
	}

	var lockSum decimal.Decimal
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM wallet_locks
		WHERE user_id = $1 AND currency = $2 AND status = $3`,
		userID, currency, models.LockActive).Scan(&lockSum)
	if err != nil {
		return nil, fmt.Errorf("sum active wallet locks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec := &LockReconciliation{
		Currency:      currency,
		LedgerLocked:  ledgerLocked,
		ActiveLockSum: lockSum,
		Balanced:      ledgerLocked.Equal(lockSum),
	}
	if !rec.Balanced {
		s.log.Warn().
			Str("user_id", userID.String()).
			Str("currency", currency).
			Str("ledger_locked", ledgerLocked.String()).
			Str("active_lock_sum", lockSum.String()).
			Msg("wallet lock ledger mismatch")
	}
	return rec, nil
}
