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

// OfferService is the concurrency-safe investment allocator. All competing
// investors against one offer serialize on the offer row lock; the cap is
// enforced by auto-capping the allocation to the remaining capacity.
type OfferService struct {
	db     *sql.DB
	ledger *LedgerService
	wallet *WalletService
	funds  *FundsService
	log    zerolog.Logger
}

func NewOfferService(db *sql.DB, ledger *LedgerService, wallet *WalletService, funds *FundsService, log zerolog.Logger) *OfferService {
	return &OfferService{
		db:     db,
		ledger: ledger,
		wallet: wallet,
		funds:  funds,
		log:    log.With().Str("service", "offer").Logger(),
	}
}

// InvestResult is the tagged outcome of an investment attempt. When the
// intent is REJECTED, Invest also returns the typed precondition error, but
// the rejection record itself is already committed.
type InvestResult struct {
	Intent    *models.InvestmentIntent `json:"intent"`
	Remaining decimal.Decimal          `json:"remaining"`
}

// Invest allocates min(amount, remaining capacity) of an offer to a user
// inside one transaction, with the offer row locked for the duration.
// Replays on the same idempotency key return the stored terminal intent
// unchanged, with zero additional side effects.
func (s *OfferService) Invest(offerID, userID uuid.UUID, amount decimal.Decimal, currency string, idempotencyKey *string) (*InvestResult, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Kind: KindAmountNotPositive, Message: "investment amount must be positive"}
	}
	if currency == "" {
		return nil, &ValidationError{Kind: KindCurrencyRequired, Message: "currency is required"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	offer, err := s.lockOfferTx(tx, offerID)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != nil {
		existing, err := s.findIntentByKeyTx(tx, *idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return &InvestResult{Intent: existing, Remaining: offer.Remaining()}, nil
		}
	}

	switch {
	case offer.Status == models.OfferClosed:
		return s.rejectTx(tx, offer, userID, amount, currency, idempotencyKey, "OFFER_CLOSED", ErrOfferClosed)
	case offer.Status != models.OfferLive:
		return s.rejectTx(tx, offer, userID, amount, currency, idempotencyKey, "OFFER_NOT_LIVE", ErrOfferNotLive)
	case offer.Currency != currency:
		return s.rejectTx(tx, offer, userID, amount, currency, idempotencyKey, "CURRENCY_MISMATCH", ErrOfferCurrencyMismatch)
	}

	remaining := offer.Remaining()
	if remaining.IsZero() {
		return s.rejectTx(tx, offer, userID, amount, currency, idempotencyKey, "OFFER_FULL", ErrOfferFull)
	}

	// Auto-cap: the last investor gets what is left, silently.
	allocated := decimal.Min(amount, remaining)

	transactionID, err := createTransactionTx(tx, userID, "OFFER_INVESTMENT", allocated, currency)
	if err != nil {
		return nil, err
	}

	actor := Actor{UserID: &userID, Role: "USER"}
	op, err := s.funds.LockFundsForInvestmentTx(tx, userID, currency, allocated, &transactionID,
		fmt.Sprintf("invest in offer %s", offer.Code), actor)
	if err != nil {
		if _, ok := IsInsufficientBalance(err); ok {
			if merr := markTransactionTx(tx, transactionID, models.TransactionFailed); merr != nil {
				return nil, merr
			}
			return s.rejectTx(tx, offer, userID, amount, currency, idempotencyKey, "INSUFFICIENT_FUNDS",
				fmt.Errorf("%w: %v", ErrInsufficientAvailableFunds, err))
		}
		return nil, err
	}

	intent, err := s.createIntentTx(tx, offer.ID, userID, amount, allocated, currency,
		models.IntentConfirmed, nil, idempotencyKey, &op.ID)
	if err != nil {
		return nil, err
	}

	// Single SQL expression rather than a read-modify-write of the loaded
	// value: the row lock already serializes this, the expression closes
	// the lost-update window entirely.
	_, err = tx.Exec(`
		UPDATE offers
		SET invested_amount = invested_amount + $1,
		    committed_amount = committed_amount + $1,
		    updated_at = $2
		WHERE id = $3`,
		allocated, time.Now().UTC(), offer.ID)
	if err != nil {
		return nil, fmt.Errorf("increment invested amount: %w", err)
	}

	if err := s.createWalletLockTx(tx, intent, op.ID); err != nil {
		return nil, err
	}

	if err := markTransactionTx(tx, transactionID, models.TransactionCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("offer_id", offer.ID.String()).
		Str("user_id", userID.String()).
		Str("requested", amount.String()).
		Str("allocated", allocated.String()).
		Msg("investment allocated")

	return &InvestResult{Intent: intent, Remaining: remaining.Sub(allocated)}, nil
}

// rejectTx records a REJECTED intent and commits it, so the audit trail of
// the refusal survives, then returns the typed precondition error.
func (s *OfferService) rejectTx(tx *sql.Tx, offer *models.Offer, userID uuid.UUID, amount decimal.Decimal, currency string, idempotencyKey *string, reason string, cause error) (*InvestResult, error) {
	intent, err := s.createIntentTx(tx, offer.ID, userID, amount, decimal.Zero, currency,
		models.IntentRejected, &reason, idempotencyKey, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("offer_id", offer.ID.String()).
		Str("user_id", userID.String()).
		Str("reason", reason).
		Msg("investment rejected")

	return &InvestResult{Intent: intent, Remaining: offer.Remaining()}, cause
}

func (s *OfferService) lockOfferTx(tx *sql.Tx, offerID uuid.UUID) (*models.Offer, error) {
	var o models.Offer
	err := tx.QueryRow(`
		SELECT id, code, name, currency, max_amount, invested_amount, committed_amount, status, created_at, updated_at
		FROM offers
		WHERE id = $1
		FOR UPDATE`, offerID).
		Scan(&o.ID, &o.Code, &o.Name, &o.Currency, &o.MaxAmount, &o.InvestedAmount,
			&o.CommittedAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock offer: %w", err)
	}
	return &o, nil
}

func (s *OfferService) findIntentByKeyTx(tx *sql.Tx, key string) (*models.InvestmentIntent, error) {
	var i models.InvestmentIntent
	err := tx.QueryRow(`
		SELECT id, offer_id, user_id, requested_amount, allocated_amount, currency, status,
		       reject_reason, idempotency_key, operation_id, created_at, updated_at
		FROM investment_intents
		WHERE idempotency_key = $1`, key).
		Scan(&i.ID, &i.OfferID, &i.UserID, &i.RequestedAmount, &i.AllocatedAmount, &i.Currency,
			&i.Status, &i.RejectReason, &i.IdempotencyKey, &i.OperationID, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup intent by key: %w", err)
	}
	return &i, nil
}

func (s *OfferService) createIntentTx(tx *sql.Tx, offerID, userID uuid.UUID, requested, allocated decimal.Decimal, currency string, status models.IntentStatus, rejectReason *string, idempotencyKey *string, operationID *uuid.UUID) (*models.InvestmentIntent, error) {
	now := time.Now().UTC()
	intent := &models.InvestmentIntent{
		ID:              uuid.New(),
		OfferID:         offerID,
		UserID:          userID,
		RequestedAmount: requested,
		AllocatedAmount: allocated,
		Currency:        currency,
		Status:          status,
		RejectReason:    rejectReason,
		IdempotencyKey:  idempotencyKey,
		OperationID:     operationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := tx.Exec(`
		INSERT INTO investment_intents (id, offer_id, user_id, requested_amount, allocated_amount,
			currency, status, reject_reason, idempotency_key, operation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		intent.ID, intent.OfferID, intent.UserID, intent.RequestedAmount, intent.AllocatedAmount,
		intent.Currency, intent.Status, intent.RejectReason, intent.IdempotencyKey,
		intent.OperationID, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create investment intent: %w", err)
	}
	return intent, nil
}

func (s *OfferService) createWalletLockTx(tx *sql.Tx, intent *models.InvestmentIntent, operationID uuid.UUID) error {
	_, err := tx.Exec(`
		INSERT INTO wallet_locks (id, user_id, currency, amount, reason, reference_type, reference_id,
			status, intent_id, operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), intent.UserID, intent.Currency, intent.AllocatedAmount,
		models.LockReasonOfferInvest, models.LockRefOffer, intent.OfferID,
		models.LockActive, intent.ID, operationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create wallet lock: %w", err)
	}
	return nil
}

// RemainingCapacity reads an offer's open capacity without locking it.
func (s *OfferService) RemainingCapacity(offerID uuid.UUID) (decimal.Decimal, error) {
	var maxAmount, invested decimal.Decimal
	err := s.db.QueryRow(`
		SELECT max_amount, invested_amount FROM offers WHERE id = $1`, offerID).
		Scan(&maxAmount, &invested)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrOfferNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read offer capacity: %w", err)
	}

	remaining := maxAmount.Sub(invested)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, nil
}

// TransitionStatus enforces the offer lifecycle (DRAFT -> LIVE <-> PAUSED ->
// CLOSED, CLOSED terminal) under the offer row lock and audits the change.
func (s *OfferService) TransitionStatus(offerID uuid.UUID, to models.OfferStatus, actor Actor, reason string) (*models.Offer, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	offer, err := s.lockOfferTx(tx, offerID)
	if err != nil {
		return nil, err
	}

	if !models.ValidOfferTransition(offer.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, offer.Status, to)
	}

	from := offer.Status
	_, err = tx.Exec(`UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3`,
		to, time.Now().UTC(), offerID)
	if err != nil {
		return nil, fmt.Errorf("update offer status: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO audit_logs (id, actor_user_id, actor_role, action, entity_type, entity_id, before, after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(), actor.UserID, actor.Role, "OFFER_STATUS_TRANSITION", "OFFER", offerID.String(),
		models.Metadata{"status": string(from)}, models.Metadata{"status": string(to)},
		reason, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("write audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	offer.Status = to
	return offer, nil
}
