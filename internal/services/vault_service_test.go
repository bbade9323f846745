package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wafra/backend/internal/models"
)

func newVaultFixture(t *testing.T) (*VaultService, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db, zerolog.Nop())
	wallet := NewWalletService(db, ledger, zerolog.Nop())
	funds := NewFundsService(db, ledger, wallet, nil, zerolog.Nop())
	vaults := NewVaultService(db, ledger, wallet, funds, 365, zerolog.Nop())

	return vaults, mock, func() { db.Close() }
}

func vaultRows(id uuid.UUID, code string, status models.VaultStatus, lockedUntil *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "code", "currency", "status", "cash_balance", "total_aum", "locked_until", "created_at", "updated_at",
	}).AddRow(id.String(), code, "AED", status, "0", "0", lockedUntil, time.Now(), time.Now())
}

func vaultAccountRows(id, vaultID, userID uuid.UUID, principal string, lockedUntil *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "vault_id", "user_id", "principal", "available_balance", "locked_until", "created_at", "updated_at",
	}).AddRow(id.String(), vaultID.String(), userID.String(), principal, principal, lockedUntil, time.Now(), time.Now())
}

func expectVaultPoolAccounts(mock sqlmock.Sqlmock, currency string, vaultID uuid.UUID, ids map[models.AccountType]uuid.UUID) {
	for _, acctType := range []models.AccountType{
		models.AccountVaultPoolCash,
		models.AccountVaultPoolLocked,
		models.AccountVaultPoolBlocked,
	} {
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(acctType, currency, nil, nil, vaultID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(ids[acctType].String()))
	}
}

func TestVaultService_Deposit(t *testing.T) {
	vaultID := uuid.New()
	userID := uuid.New()

	availableID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	lockedID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	walletIDs := map[models.AccountType]uuid.UUID{
		models.AccountWalletAvailable: availableID,
		models.AccountWalletLocked:    lockedID,
		models.AccountWalletBlocked:   uuid.MustParse("66666666-6666-6666-6666-666666666666"),
	}

	poolCashID := uuid.MustParse("99999999-9999-9999-9999-999999999999")
	poolIDs := map[models.AccountType]uuid.UUID{
		models.AccountVaultPoolCash:    poolCashID,
		models.AccountVaultPoolLocked:  uuid.New(),
		models.AccountVaultPoolBlocked: uuid.New(),
	}

	t.Run("FLEX deposit lands in pool cash", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		amount := decimal.NewFromInt(400)
		accountID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))

		expectWalletAccounts(mock, "AED", walletIDs)
		expectVaultPoolAccounts(mock, "AED", vaultID, poolIDs)

		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(availableID.String()))
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(poolCashID.String()))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1000"))

		mock.ExpectExec("INSERT INTO operations").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), availableID, amount.Neg(), models.EntryDebit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), poolCashID, amount, models.EntryCredit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE operation_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))

		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "0", nil))
		mock.ExpectExec("UPDATE vault_accounts").
			WithArgs(amount, amount, sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE vaults SET cash_balance").
			WithArgs(amount, amount, sqlmock.AnyArg(), vaultID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		op, err := vaults.Deposit(userID, models.VaultCodeFlex, "AED", amount, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.OpVaultDeposit, op.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AVENIR deposit vests in the locked compartment", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		amount := decimal.NewFromInt(250)
		accountID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeAvenir, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeAvenir, models.VaultActive, nil))

		expectWalletAccounts(mock, "AED", walletIDs)

		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(availableID.String()))
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(lockedID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(lockedID.String()))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1000"))

		mock.ExpectExec("INSERT INTO operations").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), availableID, amount.Neg(), models.EntryDebit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), lockedID, amount, models.EntryCredit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE operation_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))

		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "0", nil))
		// Principal grows; the withdrawable part does not until vesting.
		mock.ExpectExec("UPDATE vault_accounts").
			WithArgs(amount, decimal.Zero, sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE vault_accounts SET locked_until").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE vaults SET locked_until").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO vesting_lots").
			WithArgs(sqlmock.AnyArg(), vaultID, userID, "AED", sqlmock.AnyArg(), sqlmock.AnyArg(),
				amount, decimal.Zero, models.LotVested, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO wallet_locks").
			WithArgs(sqlmock.AnyArg(), userID, "AED", amount, models.LockReasonVaultVesting,
				models.LockRefVault, vaultID, models.LockActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Cash cache untouched; only total AUM grows.
		mock.ExpectExec("UPDATE vaults SET cash_balance").
			WithArgs(decimal.Zero, amount, sqlmock.AnyArg(), vaultID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		op, err := vaults.Deposit(userID, models.VaultCodeAvenir, "AED", amount, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.OpVaultDeposit, op.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paused vault refuses deposits", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultPaused, nil))
		mock.ExpectRollback()

		_, err := vaults.Deposit(userID, models.VaultCodeFlex, "AED", decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrVaultPaused)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown vault", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs("GOLD", "AED").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "code", "currency", "status", "cash_balance", "total_aum", "locked_until", "created_at", "updated_at",
			}))
		mock.ExpectRollback()

		_, err := vaults.Deposit(userID, "GOLD", "AED", decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrVaultNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVaultService_RequestWithdrawal(t *testing.T) {
	vaultID := uuid.New()
	userID := uuid.New()
	accountID := uuid.New()

	availableID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	walletIDs := map[models.AccountType]uuid.UUID{
		models.AccountWalletAvailable: availableID,
		models.AccountWalletLocked:    uuid.MustParse("66666666-6666-6666-6666-666666666666"),
		models.AccountWalletBlocked:   uuid.MustParse("77777777-7777-7777-7777-777777777777"),
	}

	poolCashID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	poolIDs := map[models.AccountType]uuid.UUID{
		models.AccountVaultPoolCash:    poolCashID,
		models.AccountVaultPoolLocked:  uuid.New(),
		models.AccountVaultPoolBlocked: uuid.New(),
	}

	t.Run("AVENIR position is locked until maturity", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		lockedUntil := time.Now().UTC().AddDate(0, 6, 0)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeAvenir, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeAvenir, models.VaultActive, &lockedUntil))
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "500", &lockedUntil))
		mock.ExpectRollback()

		_, err := vaults.RequestWithdrawal(userID, models.VaultCodeAvenir, "AED", decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrVaultLocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maturity lock outranks the principal check", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		lockedUntil := time.Now().UTC().AddDate(0, 6, 0)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeAvenir, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeAvenir, models.VaultActive, &lockedUntil))
		// Principal 50 cannot cover 100 either; the lock rejection wins.
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "50", &lockedUntil))
		mock.ExpectRollback()

		_, err := vaults.RequestWithdrawal(userID, models.VaultCodeAvenir, "AED", decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrVaultLocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no position means insufficient principal", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "vault_id", "user_id", "principal", "available_balance", "locked_until", "created_at", "updated_at",
			}))
		mock.ExpectRollback()

		_, err := vaults.RequestWithdrawal(userID, models.VaultCodeFlex, "AED", decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrInsufficientUserBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FLEX executes immediately when pool cash covers", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		amount := decimal.NewFromInt(200)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "500", nil))

		expectVaultPoolAccounts(mock, "AED", vaultID, poolIDs)
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1000"))

		mock.ExpectExec("INSERT INTO withdrawal_requests").
			WithArgs(sqlmock.AnyArg(), vaultID, userID, amount, "AED", models.WithdrawalExecuted,
				nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectWalletAccounts(mock, "AED", walletIDs)
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(poolCashID.String()))
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(availableID.String()))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1000"))

		mock.ExpectExec("INSERT INTO operations").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), poolCashID, amount.Neg(), models.EntryDebit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), availableID, amount, models.EntryCredit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE operation_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))

		mock.ExpectExec("UPDATE vault_accounts").
			WithArgs(amount, amount, sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE vaults SET cash_balance").
			WithArgs(amount, amount, sqlmock.AnyArg(), vaultID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		request, err := vaults.RequestWithdrawal(userID, models.VaultCodeFlex, "AED", amount, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalExecuted, request.Status)
		assert.NotNil(t, request.ExecutedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AVENIR executes post maturity, consuming lots and locks FIFO", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		lockedID := walletIDs[models.AccountWalletLocked]
		matured := time.Now().UTC().AddDate(-1, 0, -5)

		// Two deposits of 150 and 350; withdrawing 200 closes the first lot
		// and lock entirely and splits the second.
		amount := decimal.NewFromInt(200)
		lot1ID := uuid.New()
		lot2ID := uuid.New()
		lock1ID := uuid.New()
		lock2ID := uuid.New()
		lock2OpID := uuid.New()
		lock2Created := time.Now().UTC().Add(-time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeAvenir, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeAvenir, models.VaultActive, &matured))
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "500", &matured))

		// Funding account for AVENIR is the user's locked compartment.
		expectWalletAccounts(mock, "AED", walletIDs)
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(lockedID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("500"))

		mock.ExpectExec("INSERT INTO withdrawal_requests").
			WithArgs(sqlmock.AnyArg(), vaultID, userID, amount, "AED", models.WithdrawalExecuted,
				nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectWalletAccounts(mock, "AED", walletIDs)
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(availableID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(availableID.String()))
		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(lockedID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(lockedID.String()))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(lockedID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("500"))

		mock.ExpectExec("INSERT INTO operations").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), lockedID, amount.Neg(), models.EntryDebit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), availableID, amount, models.EntryCredit, "AED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE operation_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))

		// Principal drops; the withdrawable cache was never funded for AVENIR.
		mock.ExpectExec("UPDATE vault_accounts").
			WithArgs(amount, decimal.Zero, sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE vaults SET cash_balance").
			WithArgs(decimal.Zero, amount, sqlmock.AnyArg(), vaultID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// The first lot is fully consumed, the second advances by the rest,
		// so the release engine has nothing left to pay for this withdrawal.
		mock.ExpectQuery("SELECT id, amount, released_amount").
			WithArgs(vaultID, userID, models.LotVested).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "released_amount"}).
				AddRow(lot1ID.String(), "150", "0").
				AddRow(lot2ID.String(), "350", "0"))
		mock.ExpectExec("UPDATE vesting_lots SET released_amount = amount").
			WithArgs(models.LotReleased, lot1ID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE vesting_lots SET released_amount = released_amount \\+").
			WithArgs(decimal.NewFromInt(50), lot2ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT id, amount, reason, currency, operation_id, created_at").
			WithArgs(userID, models.LockRefVault, vaultID, models.LockActive).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "reason", "currency", "operation_id", "created_at"}).
				AddRow(lock1ID.String(), "150", string(models.LockReasonVaultVesting), "AED", uuid.New().String(), time.Now().UTC().Add(-2*time.Hour)).
				AddRow(lock2ID.String(), "350", string(models.LockReasonVaultVesting), "AED", lock2OpID.String(), lock2Created))
		mock.ExpectExec("UPDATE wallet_locks SET status").
			WithArgs(models.LockReleased, sqlmock.AnyArg(), lock1ID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE wallet_locks SET amount").
			WithArgs(decimal.NewFromInt(50), models.LockReleased, sqlmock.AnyArg(), lock2ID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		// The remainder row keeps the original created_at for FIFO order and
		// carries no operation_id; that column is unique per deposit.
		mock.ExpectExec("INSERT INTO wallet_locks").
			WithArgs(sqlmock.AnyArg(), userID, "AED", decimal.NewFromInt(300), models.LockReasonVaultVesting,
				models.LockRefVault, vaultID, models.LockActive, nil, lock2Created).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		request, err := vaults.RequestWithdrawal(userID, models.VaultCodeAvenir, "AED", amount, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalExecuted, request.Status)
		assert.NotNil(t, request.ExecutedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FLEX queues PENDING when pool cash is short", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		amount := decimal.NewFromInt(200)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))
		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "500", nil))

		expectVaultPoolAccounts(mock, "AED", vaultID, poolIDs)
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("50"))

		mock.ExpectExec("INSERT INTO withdrawal_requests").
			WithArgs(sqlmock.AnyArg(), vaultID, userID, amount, "AED", models.WithdrawalPending,
				nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		request, err := vaults.RequestWithdrawal(userID, models.VaultCodeFlex, "AED", amount, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, request.Status)
		assert.Nil(t, request.ExecutedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func pendingWithdrawalRows(rows ...*models.WithdrawalRequest) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{
		"id", "vault_id", "user_id", "amount", "currency", "status", "reason", "created_at",
	})
	for _, r := range rows {
		out.AddRow(r.ID.String(), r.VaultID.String(), r.UserID.String(), r.Amount.String(), r.Currency, string(r.Status), nil, r.CreatedAt)
	}
	return out
}

func TestVaultService_ProcessPendingWithdrawals(t *testing.T) {
	vaultID := uuid.New()
	userID := uuid.New()
	accountID := uuid.New()

	poolCashID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	poolIDs := map[models.AccountType]uuid.UUID{
		models.AccountVaultPoolCash:    poolCashID,
		models.AccountVaultPoolLocked:  uuid.New(),
		models.AccountVaultPoolBlocked: uuid.New(),
	}

	t.Run("stops at the first unfundable request", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		first := &models.WithdrawalRequest{
			ID: uuid.New(), VaultID: vaultID, UserID: userID,
			Amount: decimal.NewFromInt(300), Currency: "AED",
			Status: models.WithdrawalPending, CreatedAt: time.Now().Add(-2 * time.Hour),
		}
		second := &models.WithdrawalRequest{
			ID: uuid.New(), VaultID: vaultID, UserID: userID,
			Amount: decimal.NewFromInt(100), Currency: "AED",
			Status: models.WithdrawalPending, CreatedAt: time.Now().Add(-1 * time.Hour),
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))

		mock.ExpectQuery("SELECT id, vault_id, user_id, amount, currency, status, reason, created_at").
			WithArgs(vaultID, models.WithdrawalPending).
			WillReturnRows(pendingWithdrawalRows(first, second))

		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "1000", nil))

		expectVaultPoolAccounts(mock, "AED", vaultID, poolIDs)
		// 200 in the pool cannot cover the oldest request of 300. The younger
		// 100 request must not jump the queue.
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(poolCashID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("200"))

		mock.ExpectCommit()

		result, err := vaults.ProcessPendingWithdrawals(models.VaultCodeFlex, "AED")
		assert.NoError(t, err)
		assert.Equal(t, 0, result.Processed)
		assert.Equal(t, 0, result.Cancelled)
		assert.Equal(t, 2, result.Remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancels requests the principal no longer covers", func(t *testing.T) {
		vaults, mock, teardown := newVaultFixture(t)
		defer teardown()

		request := &models.WithdrawalRequest{
			ID: uuid.New(), VaultID: vaultID, UserID: userID,
			Amount: decimal.NewFromInt(100), Currency: "AED",
			Status: models.WithdrawalPending, CreatedAt: time.Now().Add(-time.Hour),
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, code, currency, status, cash_balance, total_aum").
			WithArgs(models.VaultCodeFlex, "AED").
			WillReturnRows(vaultRows(vaultID, models.VaultCodeFlex, models.VaultActive, nil))

		mock.ExpectQuery("SELECT id, vault_id, user_id, amount, currency, status, reason, created_at").
			WithArgs(vaultID, models.WithdrawalPending).
			WillReturnRows(pendingWithdrawalRows(request))

		mock.ExpectQuery("SELECT id, vault_id, user_id, principal, available_balance").
			WithArgs(vaultID, userID).
			WillReturnRows(vaultAccountRows(accountID, vaultID, userID, "50", nil))

		mock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.WithdrawalCancelled, "insufficient principal", request.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := vaults.ProcessPendingWithdrawals(models.VaultCodeFlex, "AED")
		assert.NoError(t, err)
		assert.Equal(t, 0, result.Processed)
		assert.Equal(t, 1, result.Cancelled)
		assert.Equal(t, 0, result.Remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
