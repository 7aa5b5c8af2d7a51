package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentAuditRepository_Log(t *testing.T) {
	db, mock := newMockDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	repo := NewPaymentAuditRepository(db, logger)

	t.Run("Nil Entry", func(t *testing.T) {
		assert.Error(t, repo.Log(context.Background(), nil))
	})

	t.Run("Success", func(t *testing.T) {
		bookingID := uuid.New()
		audit := &models.PaymentAudit{
			BookingID:     &bookingID,
			PaymentMethod: "cash",
			EventType:     models.PaymentEventProcessed,
			EventSource:   models.PaymentSourceBackend,
			Success:       true,
			Metadata:      models.JSONB{"seats": 2},
		}

		mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Log(context.Background(), audit))
		assert.NotEqual(t, uuid.Nil, audit.ID)
		assert.False(t, audit.CreatedAt.IsZero())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnError(fmt.Errorf("disk full"))

		err := repo.Log(context.Background(), &models.PaymentAudit{EventType: models.PaymentEventFailed})
		assert.ErrorContains(t, err, "failed to log payment audit")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAuditRepository_HasWebhookEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentAuditRepository(db, logrus.New())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
		WithArgs(string(models.PaymentEventWebhookReceived), "evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	seen, err := repo.HasWebhookEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
		WithArgs(string(models.PaymentEventWebhookReceived), "evt_2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	seen, err = repo.HasWebhookEvent(context.Background(), "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}
