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

// VaultService implements the pooled savings products. FLEX offers instant
// liquidity through the vault's pool cash account; AVENIR deposits vest for
// a fixed period in the user's WALLET_LOCKED compartment, tracked by vesting
// lots and display-side wallet locks.
type VaultService struct {
	db          *sql.DB
	ledger      *LedgerService
	wallet      *WalletService
	funds       *FundsService
	log         zerolog.Logger
	vestingDays int
}

func NewVaultService(db *sql.DB, ledger *LedgerService, wallet *WalletService, funds *FundsService, vestingDays int, log zerolog.Logger) *VaultService {
	return &VaultService{
		db:          db,
		ledger:      ledger,
		wallet:      wallet,
		funds:       funds,
		log:         log.With().Str("service", "vault").Logger(),
		vestingDays: vestingDays,
	}
}

// Deposit moves funds from the user's WALLET_AVAILABLE into a vault. For
// FLEX the funds land in the vault pool cash account; for AVENIR they move
// to the user's WALLET_LOCKED compartment and a vesting lot plus wallet lock
// record the tranche. Idempotent on key.
func (s *VaultService) Deposit(userID uuid.UUID, vaultCode, currency string, amount decimal.Decimal, idempotencyKey *string) (*models.Operation, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Kind: KindAmountNotPositive, Message: "deposit amount must be positive"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	vault, err := s.lockVaultByCodeTx(tx, vaultCode, currency)
	if err != nil {
		return nil, err
	}
	if vault.Status != models.VaultActive {
		return nil, ErrVaultPaused
	}

	if idempotencyKey != nil {
		existing, err := s.ledger.FindOperationByKeyTx(tx, *idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, tx.Commit()
		}
	}

	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	destID, err := s.depositDestinationTx(tx, vault, accounts)
	if err != nil {
		return nil, err
	}

	op, err := s.funds.ApplyTx(tx, Movement{
		Type:           models.OpVaultDeposit,
		SourceID:       accounts[models.AccountWalletAvailable],
		SourceType:     models.AccountWalletAvailable,
		DestID:         destID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: idempotencyKey,
		Metadata:       models.Metadata{"vault_code": vault.Code},
		Actor:          Actor{UserID: &userID, Role: "USER"},
		Action:         "VAULT_DEPOSIT",
		Reason:         fmt.Sprintf("deposit to vault %s", vault.Code),

		CheckSourceBalance: true,
	})
	if err != nil {
		return nil, err
	}

	account, err := s.ensureVaultAccountTx(tx, vault.ID, userID)
	if err != nil {
		return nil, err
	}

	availableDelta := amount
	if vault.Code == models.VaultCodeAvenir {
		availableDelta = decimal.Zero
	}
	_, err = tx.Exec(`
		UPDATE vault_accounts
		SET principal = principal + $1, available_balance = available_balance + $2, updated_at = $3
		WHERE id = $4`,
		amount, availableDelta, time.Now().UTC(), account.ID)
	if err != nil {
		return nil, fmt.Errorf("update vault account: %w", err)
	}

	if vault.Code == models.VaultCodeAvenir {
		if err := s.applyVestingLockTx(tx, vault, account, userID, currency, amount, op.ID); err != nil {
			return nil, err
		}
	}

	// Denormalized caches, maintained in lockstep with the posting. The
	// ledger sums stay the source of truth for every invariant check.
	cashDelta := amount
	if vault.Code == models.VaultCodeAvenir {
		cashDelta = decimal.Zero
	}
	_, err = tx.Exec(`
		UPDATE vaults SET cash_balance = cash_balance + $1, total_aum = total_aum + $2, updated_at = $3
		WHERE id = $4`,
		cashDelta, amount, time.Now().UTC(), vault.ID)
	if err != nil {
		return nil, fmt.Errorf("update vault caches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("vault_code", vault.Code).
		Str("user_id", userID.String()).
		Str("amount", amount.String()).
		Msg("vault deposit posted")
	return op, nil
}

// depositDestinationTx resolves where deposited funds land per vault type.
func (s *VaultService) depositDestinationTx(tx *sql.Tx, vault *models.Vault, wallet map[models.AccountType]uuid.UUID) (uuid.UUID, error) {
	if vault.Code == models.VaultCodeAvenir {
		return wallet[models.AccountWalletLocked], nil
	}
	pool, err := s.wallet.EnsureVaultPoolAccountsTx(tx, vault.ID, vault.Currency)
	if err != nil {
		return uuid.Nil, err
	}
	return pool[models.AccountVaultPoolCash], nil
}

// applyVestingLockTx extends locked_until on both the account and the vault
// to max(existing, now + vesting window), records the vesting lot, and
// creates the display-side wallet lock. Both inserts are idempotent on the
// deposit operation id.
func (s *VaultService) applyVestingLockTx(tx *sql.Tx, vault *models.Vault, account *models.VaultAccount, userID uuid.UUID, currency string, amount decimal.Decimal, operationID uuid.UUID) error {
	now := time.Now().UTC()
	depositDay := now.Truncate(24 * time.Hour)
	releaseDay := depositDay.AddDate(0, 0, s.vestingDays)

	lockedUntil := releaseDay
	if account.LockedUntil != nil && account.LockedUntil.After(lockedUntil) {
		lockedUntil = *account.LockedUntil
	}
	if _, err := tx.Exec(`
		UPDATE vault_accounts SET locked_until = $1, updated_at = $2 WHERE id = $3`,
		lockedUntil, now, account.ID); err != nil {
		return fmt.Errorf("extend account lock: %w", err)
	}

	vaultLockedUntil := releaseDay
	if vault.LockedUntil != nil && vault.LockedUntil.After(vaultLockedUntil) {
		vaultLockedUntil = *vault.LockedUntil
	}
	if _, err := tx.Exec(`
		UPDATE vaults SET locked_until = $1, updated_at = $2 WHERE id = $3`,
		vaultLockedUntil, now, vault.ID); err != nil {
		return fmt.Errorf("extend vault lock: %w", err)
	}

	_, err := tx.Exec(`
		INSERT INTO vesting_lots (id, vault_id, user_id, currency, deposit_day, release_day,
			amount, released_amount, status, source_operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_operation_id) DO NOTHING`,
		uuid.New(), vault.ID, userID, currency, depositDay, releaseDay,
		amount, decimal.Zero, models.LotVested, operationID, now)
	if err != nil {
		return fmt.Errorf("create vesting lot: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO wallet_locks (id, user_id, currency, amount, reason, reference_type, reference_id,
			status, operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (operation_id) DO NOTHING`,
		uuid.New(), userID, currency, amount, models.LockReasonVaultVesting,
		models.LockRefVault, vault.ID, models.LockActive, operationID, now)
	if err != nil {
		return fmt.Errorf("create wallet lock: %w", err)
	}
	return nil
}

// RequestWithdrawal asks to pull funds out of a vault. When the funding
// balance covers the amount the withdrawal executes immediately; otherwise a
// PENDING request is queued for the FIFO batch processor.
func (s *VaultService) RequestWithdrawal(userID uuid.UUID, vaultCode, currency string, amount decimal.Decimal, reason *string) (*models.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Kind: KindAmountNotPositive, Message: "withdrawal amount must be positive"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	vault, err := s.lockVaultByCodeTx(tx, vaultCode, currency)
	if err != nil {
		return nil, err
	}
	if vault.Status == models.VaultPaused {
		return nil, ErrVaultPaused
	}

	account, err := s.lockVaultAccountTx(tx, vault.ID, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInsufficientUserBalance
	}
	// The maturity lock wins over the principal check: a locked position is
	// refused as locked regardless of its balance.
	if account.LockedUntil != nil && time.Now().UTC().Before(*account.LockedUntil) {
		return nil, ErrVaultLocked
	}
	if account.Principal.LessThan(amount) {
		return nil, ErrInsufficientUserBalance
	}

	fundingID, fundingType, err := s.fundingAccountTx(tx, vault, userID)
	if err != nil {
		return nil, err
	}
	fundingBalance, err := s.ledger.AccountBalanceTx(tx, fundingID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	request := &models.WithdrawalRequest{
		ID:        uuid.New(),
		VaultID:   vault.ID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
		CreatedAt: now,
	}

	if fundingBalance.GreaterThanOrEqual(amount) {
		request.Status = models.WithdrawalExecuted
		request.ExecutedAt = &now
		if err := s.insertWithdrawalTx(tx, request); err != nil {
			return nil, err
		}
		if err := s.executeWithdrawalTx(tx, vault, account, request, fundingID, fundingType); err != nil {
			return nil, err
		}
	} else {
		request.Status = models.WithdrawalPending
		if err := s.insertWithdrawalTx(tx, request); err != nil {
			return nil, err
		}
		s.log.Info().
			Str("vault_code", vault.Code).
			Str("user_id", userID.String()).
			Str("amount", amount.String()).
			Msg("withdrawal queued pending funds")
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return request, nil
}

// fundingAccountTx resolves the account a withdrawal draws from: the vault
// pool cash for FLEX, the user's WALLET_LOCKED compartment for AVENIR.
func (s *VaultService) fundingAccountTx(tx *sql.Tx, vault *models.Vault, userID uuid.UUID) (uuid.UUID, models.AccountType, error) {
	if vault.Code == models.VaultCodeAvenir {
		accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, vault.Currency)
		if err != nil {
			return uuid.Nil, "", err
		}
		return accounts[models.AccountWalletLocked], models.AccountWalletLocked, nil
	}
	pool, err := s.wallet.EnsureVaultPoolAccountsTx(tx, vault.ID, vault.Currency)
	if err != nil {
		return uuid.Nil, "", err
	}
	return pool[models.AccountVaultPoolCash], models.AccountVaultPoolCash, nil
}

// executeWithdrawalTx posts the reverse double-entry, decrements the
// position, maintains the vault caches, and releases display locks FIFO.
func (s *VaultService) executeWithdrawalTx(tx *sql.Tx, vault *models.Vault, account *models.VaultAccount, request *models.WithdrawalRequest, fundingID uuid.UUID, fundingType models.AccountType) error {
	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, request.UserID, request.Currency)
	if err != nil {
		return err
	}

	_, err = s.funds.ApplyTx(tx, Movement{
		Type:       models.OpVaultWithdraw,
		SourceID:   fundingID,
		SourceType: fundingType,
		DestID:     accounts[models.AccountWalletAvailable],
		Amount:     request.Amount,
		Currency:   request.Currency,
		Metadata:   models.Metadata{"vault_code": vault.Code, "withdrawal_request_id": request.ID.String()},
		Actor:      Actor{UserID: &request.UserID, Role: "USER"},
		Action:     "VAULT_WITHDRAW_EXECUTED",
		Reason:     fmt.Sprintf("withdrawal from vault %s", vault.Code),

		CheckSourceBalance: true,
	})
	if err != nil {
		return err
	}

	availableDelta := request.Amount
	if vault.Code == models.VaultCodeAvenir {
		availableDelta = decimal.Zero
	}
	_, err = tx.Exec(`
		UPDATE vault_accounts
		SET principal = principal - $1, available_balance = available_balance - $2, updated_at = $3
		WHERE id = $4`,
		request.Amount, availableDelta, time.Now().UTC(), account.ID)
	if err != nil {
		return fmt.Errorf("decrement vault account: %w", err)
	}

	cashDelta := request.Amount
	if vault.Code == models.VaultCodeAvenir {
		cashDelta = decimal.Zero
	}
	_, err = tx.Exec(`
		UPDATE vaults SET cash_balance = cash_balance - $1, total_aum = total_aum - $2, updated_at = $3
		WHERE id = $4`,
		cashDelta, request.Amount, time.Now().UTC(), vault.ID)
	if err != nil {
		return fmt.Errorf("update vault caches: %w", err)
	}

	if vault.Code == models.VaultCodeAvenir {
		if err := s.consumeVestingLotsFIFOTx(tx, request.UserID, vault.ID, request.Amount); err != nil {
			return err
		}
		if err := s.releaseLocksFIFOTx(tx, request.UserID, vault.ID, request.Amount); err != nil {
			return err
		}
	}
	return nil
}

// consumeVestingLotsFIFOTx advances vesting lots oldest-first when vested
// funds leave through a withdrawal, so the release engine never pays out an
// amount the user already withdrew.
func (s *VaultService) consumeVestingLotsFIFOTx(tx *sql.Tx, userID, vaultID uuid.UUID, amount decimal.Decimal) error {
	rows, err := tx.Query(`
		SELECT id, amount, released_amount
		FROM vesting_lots
		WHERE vault_id = $1 AND user_id = $2 AND status = $3 AND released_amount < amount
		ORDER BY release_day ASC, created_at ASC
		FOR UPDATE`,
		vaultID, userID, models.LotVested)
	if err != nil {
		return fmt.Errorf("select vesting lots: %w", err)
	}

	type openLot struct {
		id       uuid.UUID
		amount   decimal.Decimal
		released decimal.Decimal
	}
	var lots []openLot
	for rows.Next() {
		var l openLot
		if err := rows.Scan(&l.id, &l.amount, &l.released); err != nil {
			rows.Close()
			return fmt.Errorf("scan vesting lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	remaining := amount
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		open := lot.amount.Sub(lot.released)
		if open.LessThanOrEqual(remaining) {
			if _, err := tx.Exec(`
				UPDATE vesting_lots SET released_amount = amount, status = $1 WHERE id = $2`,
				models.LotReleased, lot.id); err != nil {
				return fmt.Errorf("close vesting lot: %w", err)
			}
			remaining = remaining.Sub(open)
			continue
		}
		if _, err := tx.Exec(`
			UPDATE vesting_lots SET released_amount = released_amount + $1 WHERE id = $2`,
			remaining, lot.id); err != nil {
			return fmt.Errorf("advance vesting lot: %w", err)
		}
		remaining = decimal.Zero
	}

	if remaining.IsPositive() {
		// Lot bookkeeping drifted from the ledger; logged, not fatal.
		s.log.Warn().
			Str("user_id", userID.String()).
			Str("vault_id", vaultID.String()).
			Str("unconsumed", remaining.String()).
			Msg("withdrawal exceeded open vesting lots")
	}
	return nil
}

// releaseLocksFIFOTx consumes ACTIVE wallet locks oldest-first. A lock only
// partially consumed is split: the consumed part is closed, the remainder
// stays ACTIVE under the original created_at so FIFO order is preserved.
func (s *VaultService) releaseLocksFIFOTx(tx *sql.Tx, userID, vaultID uuid.UUID, amount decimal.Decimal) error {
	rows, err := tx.Query(`
		SELECT id, amount, reason, currency, operation_id, created_at
		FROM wallet_locks
		WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3 AND status = $4
		ORDER BY created_at ASC
		FOR UPDATE`,
		userID, models.LockRefVault, vaultID, models.LockActive)
	if err != nil {
		return fmt.Errorf("select active locks: %w", err)
	}

	type activeLock struct {
		id          uuid.UUID
		amount      decimal.Decimal
		reason      models.LockReason
		currency    string
		operationID *uuid.UUID
		createdAt   time.Time
	}
	var locks []activeLock
	for rows.Next() {
		var l activeLock
		if err := rows.Scan(&l.id, &l.amount, &l.reason, &l.currency, &l.operationID, &l.createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	remaining := amount
	now := time.Now().UTC()
	for _, lock := range locks {
		if !remaining.IsPositive() {
			break
		}
		if lock.amount.LessThanOrEqual(remaining) {
			if _, err := tx.Exec(`
				UPDATE wallet_locks SET status = $1, released_at = $2 WHERE id = $3`,
				models.LockReleased, now, lock.id); err != nil {
				return fmt.Errorf("release lock: %w", err)
			}
			remaining = remaining.Sub(lock.amount)
			continue
		}

		// Split: close the consumed part, keep the rest ACTIVE.
		leftover := lock.amount.Sub(remaining)
		if _, err := tx.Exec(`
			UPDATE wallet_locks SET amount = $1, status = $2, released_at = $3 WHERE id = $4`,
			remaining, models.LockReleased, now, lock.id); err != nil {
			return fmt.Errorf("close consumed lock part: %w", err)
		}
		// operation_id is unique per deposit; the consumed row keeps the
		// link, the remainder row carries none.
		_, err := tx.Exec(`
			INSERT INTO wallet_locks (id, user_id, currency, amount, reason, reference_type, reference_id,
				status, operation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.New(), userID, lock.currency, leftover, lock.reason,
			models.LockRefVault, vaultID, models.LockActive, nil, lock.createdAt)
		if err != nil {
			return fmt.Errorf("insert lock remainder: %w", err)
		}
		remaining = decimal.Zero
	}

	if remaining.IsPositive() {
		// Display bookkeeping drifted from the ledger; logged, not fatal.
		s.log.Warn().
			Str("user_id", userID.String()).
			Str("vault_id", vaultID.String()).
			Str("unreleased", remaining.String()).
			Msg("withdrawal exceeded active wallet locks")
	}
	return nil
}

// WithdrawalBatchResult summarizes one run of the pending processor.
type WithdrawalBatchResult struct {
	Processed int `json:"processed"`
	Cancelled int `json:"cancelled"`
	Remaining int `json:"remaining"`
}

// ProcessPendingWithdrawals drains PENDING requests strictly FIFO by
// created_at. A request whose principal no longer covers it is CANCELLED;
// the first request the funding balance cannot cover stops the run entirely,
// so later smaller requests never jump the queue.
func (s *VaultService) ProcessPendingWithdrawals(vaultCode, currency string) (*WithdrawalBatchResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	vault, err := s.lockVaultByCodeTx(tx, vaultCode, currency)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`
		SELECT id, vault_id, user_id, amount, currency, status, reason, created_at
		FROM withdrawal_requests
		WHERE vault_id = $1 AND status = $2
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED`,
		vault.ID, models.WithdrawalPending)
	if err != nil {
		return nil, fmt.Errorf("select pending withdrawals: %w", err)
	}

	var pending []models.WithdrawalRequest
	for rows.Next() {
		var r models.WithdrawalRequest
		if err := rows.Scan(&r.ID, &r.VaultID, &r.UserID, &r.Amount, &r.Currency, &r.Status, &r.Reason, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan withdrawal request: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	result := &WithdrawalBatchResult{}
	now := time.Now().UTC()

	for i := range pending {
		request := &pending[i]

		account, err := s.lockVaultAccountTx(tx, vault.ID, request.UserID)
		if err != nil {
			return nil, err
		}
		if account == nil || account.Principal.LessThan(request.Amount) {
			cancelReason := "insufficient principal"
			_, err := tx.Exec(`
				UPDATE withdrawal_requests SET status = $1, cancel_reason = $2 WHERE id = $3`,
				models.WithdrawalCancelled, cancelReason, request.ID)
			if err != nil {
				return nil, fmt.Errorf("cancel withdrawal: %w", err)
			}
			result.Cancelled++
			continue
		}

		fundingID, fundingType, err := s.fundingAccountTx(tx, vault, request.UserID)
		if err != nil {
			return nil, err
		}
		fundingBalance, err := s.ledger.AccountBalanceTx(tx, fundingID)
		if err != nil {
			return nil, err
		}
		if fundingBalance.LessThan(request.Amount) {
			// Strict FIFO: stop entirely, no backfilling with later requests.
			result.Remaining = len(pending) - i
			break
		}

		if err := s.executeWithdrawalTx(tx, vault, account, request, fundingID, fundingType); err != nil {
			return nil, err
		}
		_, err = tx.Exec(`
			UPDATE withdrawal_requests SET status = $1, executed_at = $2 WHERE id = $3`,
			models.WithdrawalExecuted, now, request.ID)
		if err != nil {
			return nil, fmt.Errorf("mark withdrawal executed: %w", err)
		}
		result.Processed++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("vault_code", vaultCode).
		Int("processed", result.Processed).
		Int("cancelled", result.Cancelled).
		Int("remaining", result.Remaining).
		Msg("pending withdrawals processed")
	return result, nil
}

func (s *VaultService) lockVaultByCodeTx(tx *sql.Tx, code, currency string) (*models.Vault, error) {
	if currency == "" {
		return nil, &ValidationError{Kind: KindCurrencyRequired, Message: "currency is required"}
	}

	var v models.Vault
	err := tx.QueryRow(`
		SELECT id, code, currency, status, cash_balance, total_aum, locked_until, created_at, updated_at
		FROM vaults
		WHERE code = $1 AND currency = $2
		FOR UPDATE`, code, currency).
		Scan(&v.ID, &v.Code, &v.Currency, &v.Status, &v.CashBalance, &v.TotalAUM,
			&v.LockedUntil, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock vault: %w", err)
	}
	return &v, nil
}

// lockVaultAccountTx returns the locked position row, or nil when the user
// has none.
func (s *VaultService) lockVaultAccountTx(tx *sql.Tx, vaultID, userID uuid.UUID) (*models.VaultAccount, error) {
	var a models.VaultAccount
	err := tx.QueryRow(`
		SELECT id, vault_id, user_id, principal, available_balance, locked_until, created_at, updated_at
		FROM vault_accounts
		WHERE vault_id = $1 AND user_id = $2
		FOR UPDATE`, vaultID, userID).
		Scan(&a.ID, &a.VaultID, &a.UserID, &a.Principal, &a.AvailableBalance,
			&a.LockedUntil, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock vault account: %w", err)
	}
	return &a, nil
}

func (s *VaultService) ensureVaultAccountTx(tx *sql.Tx, vaultID, userID uuid.UUID) (*models.VaultAccount, error) {
	account, err := s.lockVaultAccountTx(tx, vaultID, userID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	now := time.Now().UTC()
	account = &models.VaultAccount{
		ID:               uuid.New(),
		VaultID:          vaultID,
		UserID:           userID,
		Principal:        decimal.Zero,
		AvailableBalance: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = tx.Exec(`
		INSERT INTO vault_accounts (id, vault_id, user_id, principal, available_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.VaultID, account.UserID, account.Principal,
		account.AvailableBalance, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create vault account: %w", err)
	}
	return account, nil
}

func (s *VaultService) insertWithdrawalTx(tx *sql.Tx, r *models.WithdrawalRequest) error {
	_, err := tx.Exec(`
		INSERT INTO withdrawal_requests (id, vault_id, user_id, amount, currency, status, reason, executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.VaultID, r.UserID, r.Amount, r.Currency, r.Status, r.Reason, r.ExecutedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create withdrawal request: %w", err)
	}
	return nil
}
