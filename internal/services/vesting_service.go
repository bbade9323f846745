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

// ReleaseParams drive one run of the vesting release engine. Scheduling is
// external: the engine is just a callable.
type ReleaseParams struct {
	AsOf     time.Time
	Currency string
	DryRun   bool
	TraceID  string
	MaxLots  int
}

// ReleaseSummary reports one run. A dry run returns the same executed
// figures as a real run would, with zero writes.
type ReleaseSummary struct {
	TraceID         string          `json:"trace_id"`
	DryRun          bool            `json:"dry_run"`
	ExecutedCount   int             `json:"executed_count"`
	ExecutedAmount  decimal.Decimal `json:"executed_amount"`
	ReconciledLocks int             `json:"reconciled_locks"`
	UnmatchedLocks  int             `json:"unmatched_locks"`
	AmbiguousLocks  int             `json:"ambiguous_locks"`
	Errors          []string        `json:"errors,omitempty"`
}

// VestingService releases matured AVENIR vesting lots, moving funds from
// WALLET_LOCKED back to WALLET_AVAILABLE and reconciling the display-side
// wallet locks. Idempotence rests on lot state, never on the trace id:
// re-running over already-released lots is a no-op.
type VestingService struct {
	db              *sql.DB
	ledger          *LedgerService
	wallet          *WalletService
	funds           *FundsService
	log             zerolog.Logger
	strictReconcile bool
	defaultBatch    int
}

func NewVestingService(db *sql.DB, ledger *LedgerService, wallet *WalletService, funds *FundsService, strictReconcile bool, defaultBatch int, log zerolog.Logger) *VestingService {
	if defaultBatch <= 0 {
		defaultBatch = 100
	}
	return &VestingService{
		db:              db,
		ledger:          ledger,
		wallet:          wallet,
		funds:           funds,
		log:             log.With().Str("service", "vesting").Logger(),
		strictReconcile: strictReconcile,
		defaultBatch:    defaultBatch,
	}
}

// amountTolerance bounds the heuristic lock match when the direct
// operation_id link is missing.
var amountTolerance = decimal.RequireFromString("0.01")

// ReleaseAvenirVestingLots processes matured lots in (release_day,
// created_at) order, each in its own transaction so one bad lot never blocks
// the batch. Concurrent runs are safe: candidates are re-locked with SKIP
// LOCKED and re-checked per lot.
func (s *VestingService) ReleaseAvenirVestingLots(params ReleaseParams) (*ReleaseSummary, error) {
	if params.Currency == "" {
		return nil, &ValidationError{Kind: KindCurrencyRequired, Message: "currency is required"}
	}
	if params.TraceID == "" {
		params.TraceID = uuid.NewString()
	}
	maxLots := params.MaxLots
	if maxLots <= 0 {
		maxLots = s.defaultBatch
	}
	asOf := params.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	summary := &ReleaseSummary{
		TraceID:        params.TraceID,
		DryRun:         params.DryRun,
		ExecutedAmount: decimal.Zero,
	}
	jobLog := s.log.With().Str("trace_id", params.TraceID).Bool("dry_run", params.DryRun).Logger()

	candidates, err := s.maturedLotIDs(asOf, params.Currency, maxLots)
	if err != nil {
		return nil, err
	}

	lockedBalances := make(map[string]decimal.Decimal)
	for _, lotID := range candidates {
		if params.DryRun {
			if err := s.inspectLot(lotID, summary, lockedBalances); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("lot %s: %v", lotID, err))
			}
			continue
		}
		if err := s.releaseLot(lotID, asOf, params.TraceID, summary, jobLog); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("lot %s: %v", lotID, err))
			jobLog.Error().Err(err).Str("lot_id", lotID.String()).Msg("lot release failed")
		}
	}

	jobLog.Info().
		Int("executed_count", summary.ExecutedCount).
		Str("executed_amount", summary.ExecutedAmount.String()).
		Int("unmatched_locks", summary.UnmatchedLocks).
		Int("ambiguous_locks", summary.AmbiguousLocks).
		Int("errors", len(summary.Errors)).
		Msg("vesting release run finished")
	return summary, nil
}

func (s *VestingService) maturedLotIDs(asOf time.Time, currency string, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.Query(`
		SELECT l.id
		FROM vesting_lots l
		JOIN vaults v ON v.id = l.vault_id
		WHERE v.code = $1 AND l.currency = $2 AND l.release_day <= $3
		  AND l.status = $4 AND l.released_amount < l.amount
		ORDER BY l.release_day ASC, l.created_at ASC
		LIMIT $5`,
		models.VaultCodeAvenir, currency, asOf, models.LotVested, limit)
	if err != nil {
		return nil, fmt.Errorf("select matured lots: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// inspectLot accumulates the dry-run figures for one candidate without
// taking locks or writing anything. The WALLET_LOCKED balance check a real
// run applies is mirrored read-only, drawing down a per-user running balance
// so the counts match what a real run would execute.
func (s *VestingService) inspectLot(lotID uuid.UUID, summary *ReleaseSummary, lockedBalances map[string]decimal.Decimal) error {
	var (
		amount, released decimal.Decimal
		userID           uuid.UUID
		currency         string
	)
	err := s.db.QueryRow(`
		SELECT amount, released_amount, user_id, currency FROM vesting_lots WHERE id = $1 AND status = $2`,
		lotID, models.LotVested).Scan(&amount, &released, &userID, &currency)
	if err == sql.ErrNoRows {
		return nil // released by a concurrent run; a real run would skip it too
	}
	if err != nil {
		return fmt.Errorf("read lot: %w", err)
	}

	releaseAmount := amount.Sub(released)
	if !releaseAmount.IsPositive() {
		return nil
	}

	key := userID.String() + "/" + currency
	balance, seen := lockedBalances[key]
	if !seen {
		err := s.db.QueryRow(`
			SELECT COALESCE(SUM(e.amount), 0)
			FROM ledger_entries e
			JOIN accounts a ON a.id = e.account_id
			WHERE a.owner_id = $1 AND a.type = $2 AND a.currency = $3`,
			userID, models.AccountWalletLocked, currency).Scan(&balance)
		if err != nil {
			return fmt.Errorf("read locked balance: %w", err)
		}
	}
	if balance.LessThan(releaseAmount) {
		lockedBalances[key] = balance
		return fmt.Errorf("insufficient %s balance: available %s, requested %s",
			models.AccountWalletLocked, balance, releaseAmount)
	}
	lockedBalances[key] = balance.Sub(releaseAmount)

	summary.ExecutedCount++
	summary.ExecutedAmount = summary.ExecutedAmount.Add(releaseAmount)
	return nil
}

// releaseLot processes one lot in its own transaction.
func (s *VestingService) releaseLot(lotID uuid.UUID, asOf time.Time, traceID string, summary *ReleaseSummary, jobLog zerolog.Logger) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lot, err := s.lockLotTx(tx, lotID)
	if err != nil {
		return err
	}
	if lot == nil {
		return nil // taken by a concurrent run or already released
	}
	if lot.ReleaseDay.After(asOf) {
		return nil
	}

	// Full release; no partial-release policy in v1.
	releaseAmount := lot.Amount.Sub(lot.ReleasedAmount)
	if !releaseAmount.IsPositive() {
		return nil
	}

	accounts, err := s.wallet.EnsureWalletAccountsTx(tx, lot.UserID, lot.Currency)
	if err != nil {
		return err
	}

	_, err = s.funds.ApplyTx(tx, Movement{
		Type:       models.OpVaultVestingRelease,
		SourceID:   accounts[models.AccountWalletLocked],
		SourceType: models.AccountWalletLocked,
		DestID:     accounts[models.AccountWalletAvailable],
		Amount:     releaseAmount,
		Currency:   lot.Currency,
		Metadata:   models.Metadata{"trace_id": traceID, "vesting_lot_id": lot.ID.String()},
		Actor:      SystemActor,
		Action:     "VAULT_VESTING_RELEASE",
		Reason:     fmt.Sprintf("vesting lot %s matured", lot.ID),

		CheckSourceBalance: true,
	})
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE vesting_lots SET released_amount = amount, status = $1 WHERE id = $2`,
		models.LotReleased, lot.ID)
	if err != nil {
		return fmt.Errorf("mark lot released: %w", err)
	}

	if err := s.reconcileLockTx(tx, lot, summary, jobLog); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	summary.ExecutedCount++
	summary.ExecutedAmount = summary.ExecutedAmount.Add(releaseAmount)
	return nil
}

func (s *VestingService) lockLotTx(tx *sql.Tx, lotID uuid.UUID) (*models.VestingLot, error) {
	var l models.VestingLot
	err := tx.QueryRow(`
		SELECT id, vault_id, user_id, currency, deposit_day, release_day, amount, released_amount,
		       status, source_operation_id, created_at
		FROM vesting_lots
		WHERE id = $1 AND status = $2
		FOR UPDATE SKIP LOCKED`, lotID, models.LotVested).
		Scan(&l.ID, &l.VaultID, &l.UserID, &l.Currency, &l.DepositDay, &l.ReleaseDay,
			&l.Amount, &l.ReleasedAmount, &l.Status, &l.SourceOperationID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock vesting lot: %w", err)
	}
	return &l, nil
}

// reconcileLockTx flips the wallet lock backing a released lot. The primary
// path matches by the deposit operation id; when that link is missing a
// heuristic match (same user/vault/reason, amount within tolerance, same
// deposit day) repairs the record in degraded mode.
func (s *VestingService) reconcileLockTx(tx *sql.Tx, lot *models.VestingLot, summary *ReleaseSummary, jobLog zerolog.Logger) error {
	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE wallet_locks SET status = $1, released_at = $2
		WHERE operation_id = $3 AND status = $4`,
		models.LockReleased, now, lot.SourceOperationID, models.LockActive)
	if err != nil {
		return fmt.Errorf("release wallet lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		summary.ReconciledLocks++
		return nil
	}

	// Degraded path: the direct link is missing. Match heuristically and
	// take the oldest candidate.
	low := lot.Amount.Sub(amountTolerance)
	high := lot.Amount.Add(amountTolerance)
	rows, err := tx.Query(`
		SELECT id FROM wallet_locks
		WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3
		  AND reason = $4 AND status = $5
		  AND amount BETWEEN $6 AND $7
		  AND created_at >= $8 AND created_at < $9
		ORDER BY created_at ASC
		LIMIT 2`,
		lot.UserID, models.LockRefVault, lot.VaultID, models.LockReasonVaultVesting,
		models.LockActive, low, high, lot.DepositDay, lot.DepositDay.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("heuristic lock match: %w", err)
	}

	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan lock candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	switch len(candidates) {
	case 0:
		summary.UnmatchedLocks++
		if s.strictReconcile {
			return fmt.Errorf("no wallet lock matches lot %s", lot.ID)
		}
		jobLog.Warn().Str("lot_id", lot.ID.String()).Msg("no wallet lock matched released lot")
		return nil
	case 1:
		summary.ReconciledLocks++
	default:
		summary.AmbiguousLocks++
		if s.strictReconcile {
			return fmt.Errorf("ambiguous wallet lock match for lot %s", lot.ID)
		}
		jobLog.Warn().Str("lot_id", lot.ID.String()).Msg("ambiguous wallet lock match; releasing oldest")
	}

	if _, err := tx.Exec(`
		UPDATE wallet_locks SET status = $1, released_at = $2 WHERE id = $3`,
		models.LockReleased, now, candidates[0]); err != nil {
		return fmt.Errorf("release heuristic-matched lock: %w", err)
	}
	jobLog.Warn().
		Str("lot_id", lot.ID.String()).
		Str("lock_id", candidates[0].String()).
		Msg("wallet lock reconciled via heuristic fallback")
	return nil
}
