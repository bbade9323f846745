package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wafra/backend/internal/models"
)

// TransactionStatusService is the default TransactionRecomputer: a
// transaction with at least one completed operation is COMPLETED. The real
// derivation rules live outside the core; this stands in as the collaborator
// the fund movement service calls and whose failures are swallowed.
type TransactionStatusService struct {
	db *sql.DB
}

func NewTransactionStatusService(db *sql.DB) *TransactionStatusService {
	return &TransactionStatusService{db: db}
}

func (s *TransactionStatusService) Recompute(transactionID uuid.UUID) error {
	var operations int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM operations WHERE transaction_id = $1 AND status = $2`,
		transactionID, models.OperationCompleted).Scan(&operations)
	if err != nil {
		return fmt.Errorf("count operations: %w", err)
	}
	if operations == 0 {
		return nil
	}

	_, err = s.db.Exec(`
		UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.TransactionCompleted, time.Now().UTC(), transactionID, models.TransactionInitiated)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	return nil
}

// createTransactionTx inserts a user-facing Transaction in INITIATED state.
func createTransactionTx(tx *sql.Tx, userID uuid.UUID, kind string, amount decimal.Decimal, currency string) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	_, err := tx.Exec(`
		INSERT INTO transactions (id, user_id, kind, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, userID, kind, amount, currency, models.TransactionInitiated, now, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create transaction: %w", err)
	}
	return id, nil
}

// markTransactionTx flips a transaction to a terminal status.
func markTransactionTx(tx *sql.Tx, id uuid.UUID, status models.TransactionStatus) error {
	_, err := tx.Exec(`
		UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark transaction %s: %w", status, err)
	}
	return nil
}
