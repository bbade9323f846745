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

// LedgerService owns the Account/Operation/LedgerEntry substrate. All other
// services create postings exclusively through it (via FundsService), never
// by direct insertion, so the double-entry invariant is enforced in one place.
type LedgerService struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewLedgerService(db *sql.DB, log zerolog.Logger) *LedgerService {
	return &LedgerService{db: db, log: log.With().Str("service", "ledger").Logger()}
}

// CreateOperationTx inserts an Operation. Operations are created already
// COMPLETED: postings are synchronous, and an operation that cannot complete
// is never created.
func (s *LedgerService) CreateOperationTx(tx *sql.Tx, opType models.OperationType, transactionID *uuid.UUID, idempotencyKey *string, metadata models.Metadata) (*models.Operation, error) {
	op := &models.Operation{
		ID:             uuid.New(),
		Type:           opType,
		Status:         models.OperationCompleted,
		TransactionID:  transactionID,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := tx.Exec(`
		INSERT INTO operations (id, type, status, transaction_id, idempotency_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		op.ID, op.Type, op.Status, op.TransactionID, op.IdempotencyKey, op.Metadata, op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}
	return op, nil
}

// FindOperationByKeyTx returns the operation stored under an idempotency key,
// or nil when the key has never been used.
func (s *LedgerService) FindOperationByKeyTx(tx *sql.Tx, key string) (*models.Operation, error) {
	var op models.Operation
	err := tx.QueryRow(`
		SELECT id, type, status, transaction_id, idempotency_key, metadata, created_at
		FROM operations
		WHERE idempotency_key = $1`, key).
		Scan(&op.ID, &op.Type, &op.Status, &op.TransactionID, &op.IdempotencyKey, &op.Metadata, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup operation by key: %w", err)
	}
	return &op, nil
}

// CreateEntryTx appends one leg of a posting. The entry side is derived from
// the sign of amount. There is no update or delete counterpart.
func (s *LedgerService) CreateEntryTx(tx *sql.Tx, operationID, accountID uuid.UUID, amount decimal.Decimal, currency string) (*models.LedgerEntry, error) {
	if amount.IsZero() {
		return nil, &ValidationError{Kind: KindAmountNotPositive, Message: "ledger entry amount must be non-zero"}
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		OperationID: operationID,
		AccountID:   accountID,
		Amount:      amount,
		EntryType:   models.EntryTypeForAmount(amount),
		Currency:    currency,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := tx.Exec(`
		INSERT INTO ledger_entries (id, operation_id, account_id, amount, entry_type, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.OperationID, entry.AccountID, entry.Amount, entry.EntryType, entry.Currency, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	return entry, nil
}

// LockAccountTx takes the row lock on an account for the duration of tx.
func (s *LedgerService) LockAccountTx(tx *sql.Tx, accountID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(`SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return nil
}

// AccountBalanceTx computes an account balance as the sum of its ledger
// entries. This is the canonical path: no cached balance column exists.
func (s *LedgerService) AccountBalanceTx(tx *sql.Tx, accountID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, accountID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum account balance: %w", err)
	}
	return balance, nil
}

// AccountBalance is the non-transactional read of AccountBalanceTx.
func (s *LedgerService) AccountBalance(accountID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, accountID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum account balance: %w", err)
	}
	return balance, nil
}

// ValidateDoubleEntryTx checks that the entries of an operation sum to zero.
// It must pass before any transaction containing new entries commits. A
// failure is a programming bug, not a business error.
func (s *LedgerService) ValidateDoubleEntryTx(tx *sql.Tx, operationID uuid.UUID) error {
	var sum decimal.Decimal
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE operation_id = $1`, operationID).
		Scan(&sum)
	if err != nil {
		return fmt.Errorf("sum operation entries: %w", err)
	}

	if !sum.IsZero() {
		s.log.Error().
			Str("operation_id", operationID.String()).
			Str("sum", sum.String()).
			Msg("double-entry invariant violated")
		return &ValidationError{
			Kind:    KindLedgerInvariantViolation,
			Message: fmt.Sprintf("entries for operation %s sum to %s, want 0", operationID, sum),
		}
	}
	return nil
}
