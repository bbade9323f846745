package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/wafra/backend/internal/models"
)

func TestTransactionStatusService_Recompute(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionStatusService(db)
	transactionID := uuid.New()

	t.Run("completes once an operation exists", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM operations").
			WithArgs(transactionID, models.OperationCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TransactionCompleted, sqlmock.AnyArg(), transactionID, models.TransactionInitiated).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.Recompute(transactionID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no completed operations leaves the transaction alone", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM operations").
			WithArgs(transactionID, models.OperationCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		assert.NoError(t, service.Recompute(transactionID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
