package persistence

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
)

func TestOpen(t *testing.T) {
	t.Run("applies pool settings and pings", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectPing()

		cfg := &config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: 5, ConnMaxIdleTime: 1}
		db, err := Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), cfg,
			WithLogger(zap.NewNop(), "warn"),
			WithPreparedStatements(false),
		)
		require.NoError(t, err)

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 7, stats.MaxOpenConnections)
		assert.True(t, db.DB.Config.TranslateError)
		assert.True(t, db.DB.Config.SkipDefaultTransaction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when ping fails", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		_, err = Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), nil,
			WithPreparedStatements(false))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping database")
	})
}

func TestDatabase_PingAndClose(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing()
	mock.ExpectClose()

	db, err := Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), nil,
		WithPreparedStatements(false))
	require.NoError(t, err)

	assert.NoError(t, db.Ping())
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Store(t *testing.T) {
	db := setupTestDB(t)
	store := (&Database{DB: db}).Store()

	repos := store.Repositories()
	assert.NotNil(t, repos.Payments)
	assert.NotNil(t, repos.Obligations)
	assert.NotNil(t, repos.Allocations)
	assert.NotNil(t, repos.Invoices)
	assert.NotNil(t, repos.Contracts)
	assert.NotNil(t, repos.Credits)
}
