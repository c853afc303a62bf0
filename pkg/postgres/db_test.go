package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Ping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "reachable"},
		{name: "unreachable", err: errors.New("connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			exp := mock.ExpectExec("SELECT 1")
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("SELECT", 1))
			}

			err = NewClientWithConnection(mock).Ping(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	t.Run("commits on success", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE things").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(context.Background(), "UPDATE things SET x = 1")
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
			return errors.New("boom")
		})
		require.EqualError(t, err, "boom")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("no connection"))

		err = WithTx(context.Background(), mock, func(tx pgx.Tx) error { return nil })
		require.EqualError(t, err, "failed to begin transaction: no connection")
	})
}

func TestClient_Migrate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	statements := SchemaStatements()
	assert.Contains(t, statements[0], "CREATE SCHEMA IF NOT EXISTS raw")

	mock.MatchExpectationsInOrder(true)
	mock.ExpectBegin()
	for range statements {
		mock.ExpectExec("CREATE|ALTER").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectCommit()

	require.NoError(t, NewClientWithConnection(mock).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStatements_CoverRawTables(t *testing.T) {
	t.Parallel()

	statements := strings.Join(SchemaStatements(), "\n")
	for _, table := range RawTables {
		assert.Contains(t, statements, "CREATE TABLE IF NOT EXISTS raw."+table+" (")
		assert.Contains(t, statements, "idx_"+table+"_endpoint")
	}
	assert.Contains(t, statements, "DEFERRABLE INITIALLY DEFERRED")
}
