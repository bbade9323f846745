package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wafra/backend/internal/models"
)

// Offer precondition failures. Each of these (except not-found) is recorded
// as a REJECTED intent before being returned.
var (
	ErrOfferNotFound         = errors.New("offer not found")
	ErrOfferNotLive          = errors.New("offer is not live")
	ErrOfferClosed           = errors.New("offer is closed")
	ErrOfferCurrencyMismatch = errors.New("offer currency mismatch")
	ErrOfferFull             = errors.New("offer is fully subscribed")
)

// Vault precondition failures.
var (
	ErrVaultNotFound            = errors.New("vault not found")
	ErrVaultPaused              = errors.New("vault is paused")
	ErrVaultLocked              = errors.New("vault position is locked until maturity")
	ErrInsufficientUserBalance  = errors.New("insufficient vault principal")
	ErrInsufficientVaultBalance = errors.New("insufficient vault cash")
)

// ErrInsufficientAvailableFunds is the allocator-level wrapper around the
// fund-movement balance check failing on WALLET_AVAILABLE.
var ErrInsufficientAvailableFunds = errors.New("insufficient available funds")

// ErrInvalidStatusTransition guards offer lifecycle moves.
var ErrInvalidStatusTransition = errors.New("invalid status transition")

// Validation error kinds.
const (
	KindAmountNotPositive        = "AMOUNT_NOT_POSITIVE"
	KindReasonRequired           = "REASON_REQUIRED"
	KindCurrencyRequired         = "CURRENCY_REQUIRED"
	KindLedgerInvariantViolation = "LEDGER_INVARIANT_VIOLATION"
)

// ValidationError is malformed input, rejected before any write. The
// LEDGER_INVARIANT_VIOLATION kind is the one exception: it means a posting
// summed to non-zero, which is a programming bug, and the surrounding
// transaction is rolled back unconditionally.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Message)
}

// IsValidationError unwraps to a *ValidationError if there is one.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// InsufficientBalanceError is a business-rule balance check failing on a
// specific compartment.
type InsufficientBalanceError struct {
	AccountType models.AccountType
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: have %s, need %s",
		e.AccountType, e.Available.String(), e.Requested.String())
}

// IsInsufficientBalance unwraps to an *InsufficientBalanceError if there is one.
func IsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var ie *InsufficientBalanceError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
