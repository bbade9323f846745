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

// Actor identifies who triggered a fund movement, for the audit trail.
type Actor struct {
	UserID *uuid.UUID // nil for system jobs
	Role   string
}

// SystemActor is used by batch jobs and internal maintenance.
var SystemActor = Actor{Role: "SYSTEM"}

// TransactionRecomputer derives a user-facing Transaction's status after a
// movement. The core does not own the derivation rules; failures here are
// logged and ignored.
type TransactionRecomputer interface {
	Recompute(transactionID uuid.UUID) error
}

// Movement describes one atomic transfer between two accounts: one
// Operation, one DEBIT leg on Source, one CREDIT leg on Dest, one audit row.
type Movement struct {
	Type           models.OperationType
	SourceID       uuid.UUID
	SourceType     models.AccountType
	DestID         uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	TransactionID  *uuid.UUID
	IdempotencyKey *string
	Metadata       models.Metadata
	Actor          Actor
	Action         string
	Reason         string

	// CheckSourceBalance is off for movements funded by the omnibus
	// contra account, which is allowed to run negative.
	CheckSourceBalance bool
}

// FundsService is the single write path for fund movements. Every transfer
// follows the same template: lock accounts, check the source balance, create
// one Operation plus two balanced entries, write the audit row, validate the
// double-entry invariant, then ask the collaborator to recompute the linked
// Transaction's status.
type FundsService struct {
	db        *sql.DB
	ledger    *LedgerService
	wallet    *WalletService
	recompute TransactionRecomputer
	log       zerolog.Logger
}

func NewFundsService(db *sql.DB, ledger *LedgerService, wallet *WalletService, recompute TransactionRecomputer, log zerolog.Logger) *FundsService {
	return &FundsService{
		db:        db,
		ledger:    ledger,
		wallet:    wallet,
		recompute: recompute,
		log:       log.With().Str("service", "funds").Logger(),
	}
}

// ApplyTx executes a Movement inside the caller's transaction. No commit
// happens here; on any error the caller must roll back.
func (s *FundsService) ApplyTx(tx *sql.Tx, m Movement) (*models.Operation, error) {
	if !m.Amount.IsPositive() {
		return nil, &ValidationError{Kind: KindAmountNotPositive, Message: "amount must be positive"}
	}

	// Lock both account rows in a stable order to avoid lock-order deadlocks.
	first, second := m.SourceID, m.DestID
	if first.String() > second.String() {
		first, second = second, first
	}
	if err := s.ledger.LockAccountTx(tx, first); err != nil {
		return nil, err
	}
	if err := s.ledger.LockAccountTx(tx, second); err != nil {
		return nil, err
	}

	sourceBefore, err := s.ledger.AccountBalanceTx(tx, m.SourceID)
	if err != nil {
		return nil, err
	}
	if m.CheckSourceBalance && sourceBefore.LessThan(m.Amount) {
		return nil, &InsufficientBalanceError{
			AccountType: m.SourceType,
			Available:   sourceBefore,
			Requested:   m.Amount,
		}
	}

	op, err := s.ledger.CreateOperationTx(tx, m.Type, m.TransactionID, m.IdempotencyKey, m.Metadata)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.CreateEntryTx(tx, op.ID, m.SourceID, m.Amount.Neg(), m.Currency); err != nil {
		return nil, err
	}
	if _, err := s.ledger.CreateEntryTx(tx, op.ID, m.DestID, m.Amount, m.Currency); err != nil {
		return nil, err
	}

	if err := s.writeAuditTx(tx, m, op.ID, sourceBefore); err != nil {
		return nil, err
	}

	if err := s.ledger.ValidateDoubleEntryTx(tx, op.ID); err != nil {
		return nil, err
	}

	return op, nil
}

// recomputeTransaction asks the collaborator to rederive a transaction's
// status after a movement committed. The collaborator runs on its own
// connection, so this must only be called once the movement is visible.
// Failures are non-critical and are logged, never propagated.
func (s *FundsService) recomputeTransaction(transactionID *uuid.UUID) {
	if transactionID == nil || s.recompute == nil {
		return
	}
	if err := s.recompute.Recompute(*transactionID); err != nil {
		s.log.Warn().Err(err).
			Str("transaction_id", transactionID.String()).
			Msg("transaction status recompute failed")
	}
}

func (s *FundsService) writeAuditTx(tx *sql.Tx, m Movement, operationID uuid.UUID, sourceBefore decimal.Decimal) error {
	before := models.Metadata{"source_balance": sourceBefore.String()}
	after := models.Metadata{
		"source_balance": sourceBefore.Sub(m.Amount).String(),
		"amount":         m.Amount.String(),
		"currency":       m.Currency,
	}

	_, err := tx.Exec(`
		INSERT INTO audit_logs (id, actor_user_id, actor_role, action, entity_type, entity_id, before, after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(), m.Actor.UserID, m.Actor.Role, m.Action, "OPERATION", operationID.String(),
		before, after, m.Reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// RecordDepositBlockedTx credits a user's WALLET_BLOCKED compartment from the
// internal omnibus account. Idempotent on key: a replay returns the stored
// operation and creates no new entries.
func (s *FundsService) RecordDepositBlockedTx(tx *sql.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, transactionID *uuid.UUID, idempotencyKey *string, actor Actor) (*models.Operation, error) {
	if idempotencyKey != nil {
		existing, err := s.ledger.FindOperationByKeyTx(tx, *idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}
	omnibus, err := s.wallet.EnsureOmnibusAccountTx(tx, currency)
	if err != nil {
		return nil, err
	}

	return s.ApplyTx(tx, Movement{
		Type:           models.OpDeposit,
		SourceID:       omnibus,
		SourceType:     models.AccountInternalOmnibus,
		DestID:         accounts[models.AccountWalletBlocked],
		Amount:         amount,
		Currency:       currency,
		TransactionID:  transactionID,
		IdempotencyKey: idempotencyKey,
		Actor:          actor,
		Action:         "DEPOSIT_BLOCKED",
		Reason:         "deposit pending compliance review",
	})
}

// RecordDepositBlocked runs RecordDepositBlockedTx in its own transaction.
func (s *FundsService) RecordDepositBlocked(userID uuid.UUID, currency string, amount decimal.Decimal, transactionID *uuid.UUID, idempotencyKey *string, actor Actor) (*models.Operation, error) {
	var op *models.Operation
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		op, err = s.RecordDepositBlockedTx(tx, userID, currency, amount, transactionID, idempotencyKey, actor)
		return err
	})
	if err == nil {
		s.recomputeTransaction(transactionID)
	}
	return op, err
}

// ReleaseComplianceFundsTx moves funds from WALLET_BLOCKED to
// WALLET_AVAILABLE once compliance clears a deposit.
func (s *FundsService) ReleaseComplianceFundsTx(tx *sql.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, reason string, actor Actor) (*models.Operation, error) {
	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	return s.ApplyTx(tx, Movement{
		Type:               models.OpReleaseFunds,
		SourceID:           accounts[models.AccountWalletBlocked],
		SourceType:         models.AccountWalletBlocked,
		DestID:             accounts[models.AccountWalletAvailable],
		Amount:             amount,
		Currency:           currency,
		Actor:              actor,
		Action:             "RELEASE_COMPLIANCE_FUNDS",
		Reason:             reason,
		CheckSourceBalance: true,
	})
}

// ReleaseComplianceFunds runs ReleaseComplianceFundsTx in its own transaction.
func (s *FundsService) ReleaseComplianceFunds(userID uuid.UUID, currency string, amount decimal.Decimal, reason string, actor Actor) (*models.Operation, error) {
	var op *models.Operation
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		op, err = s.ReleaseComplianceFundsTx(tx, userID, currency, amount, reason, actor)
		return err
	})
	return op, err
}

// LockFundsForInvestmentTx moves funds from WALLET_AVAILABLE to
// WALLET_LOCKED ahead of an investment allocation.
func (s *FundsService) LockFundsForInvestmentTx(tx *sql.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, transactionID *uuid.UUID, reason string, actor Actor) (*models.Operation, error) {
	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	return s.ApplyTx(tx, Movement{
		Type:               models.OpInvestExclusive,
		SourceID:           accounts[models.AccountWalletAvailable],
		SourceType:         models.AccountWalletAvailable,
		DestID:             accounts[models.AccountWalletLocked],
		Amount:             amount,
		Currency:           currency,
		TransactionID:      transactionID,
		Actor:              actor,
		Action:             "LOCK_FUNDS_FOR_INVESTMENT",
		Reason:             reason,
		CheckSourceBalance: true,
	})
}

// RejectDepositTx reverses a blocked deposit back to the omnibus account.
// Immutability is preserved by posting new offsetting entries, never by
// touching the original ones. A reason is mandatory.
func (s *FundsService) RejectDepositTx(tx *sql.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, reason string, actor Actor) (*models.Operation, error) {
	if reason == "" {
		return nil, &ValidationError{Kind: KindReasonRequired, Message: "deposit rejection requires a reason"}
	}

	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, userID, currency)
	if err != nil {
		return nil, err
	}
	omnibus, err := s.wallet.EnsureOmnibusAccountTx(tx, currency)
	if err != nil {
		return nil, err
	}

	return s.ApplyTx(tx, Movement{
		Type:               models.OpReversalDeposit,
		SourceID:           accounts[models.AccountWalletBlocked],
		SourceType:         models.AccountWalletBlocked,
		DestID:             omnibus,
		Amount:             amount,
		Currency:           currency,
		Actor:              actor,
		Action:             "REJECT_DEPOSIT",
		Reason:             reason,
		CheckSourceBalance: true,
	})
}

// RejectDeposit runs RejectDepositTx in its own transaction.
func (s *FundsService) RejectDeposit(userID uuid.UUID, currency string, amount decimal.Decimal, reason string, actor Actor) (*models.Operation, error) {
	var op *models.Operation
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		op, err = s.RejectDepositTx(tx, userID, currency, amount, reason, actor)
		return err
	})
	return op, err
}

func (s *FundsService) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
