package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"msat_auth/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{}

func (transientErr) Error() string     { return "connection reset" }
func (transientErr) SafeToRetry() bool { return true }

func newRepoWithMock(t *testing.T, retries uint64) (*PostgresRepo, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewWithPool(mock, retries, time.Millisecond), mock
}

var userColumns = []string{"id", "username", "email", "password_hash", "created_at", "updated_at"}

func TestSaveUser_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t, 0)
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(`INSERT INTO users \(username, email, password_hash\)`).
		WithArgs("alice", "a@x.com", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	u, err := repo.SaveUser(context.Background(), "alice", "a@x.com", []byte("hash"))
	require.NoError(t, err)

	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, []byte("hash"), u.PassHash)
	assert.Equal(t, now, u.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUser_UniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{name: "username", constraint: "users_username_key", want: storage.ErrUsernameExists},
		{name: "email", constraint: "users_email_key", want: storage.ErrEmailExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t, 2)

			mock.ExpectQuery(`INSERT INTO users`).
				WithArgs("alice", "a@x.com", "hash").
				WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: tt.constraint})

			_, err := repo.SaveUser(context.Background(), "alice", "a@x.com", []byte("hash"))
			require.ErrorIs(t, err, tt.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSaveUser_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t, 2)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "a@x.com", "hash").
		WillReturnError(errors.New("db down"))

	_, err := repo.SaveUser(context.Background(), "alice", "a@x.com", []byte("hash"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.postgres.SaveUser")
	assert.Contains(t, err.Error(), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByUsername_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t, 0)
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(`SELECT id, username, email, password_hash, created_at, updated_at\s+FROM users\s+WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(1), "alice", "a@x.com", "hash", now, now))

	u, err := repo.UserByUsername(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, []byte("hash"), u.PassHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByEmail_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t, 0)

	mock.ExpectQuery(`WHERE email = \$1`).
		WithArgs("ghost@x.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UserByEmail(context.Background(), "ghost@x.com")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByUsername_RetriesTransientErrors(t *testing.T) {
	repo, mock := newRepoWithMock(t, 2)
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(`WHERE username = \$1`).
		WithArgs("alice").
		WillReturnError(transientErr{})
	mock.ExpectQuery(`WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(1), "alice", "a@x.com", "hash", now, now))

	u, err := repo.UserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByUsername_RetriesAreBounded(t *testing.T) {
	repo, mock := newRepoWithMock(t, 1)

	for range 2 {
		mock.ExpectQuery(`WHERE username = \$1`).
			WithArgs("alice").
			WillReturnError(transientErr{})
	}

	_, err := repo.UserByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorAs(t, err, &transientErr{})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword(t *testing.T) {
	t.Run("updates one row", func(t *testing.T) {
		repo, mock := newRepoWithMock(t, 0)

		mock.ExpectExec(`UPDATE users SET password_hash = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs("new-hash", int64(1)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.UpdatePassword(context.Background(), 1, []byte("new-hash")))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		repo, mock := newRepoWithMock(t, 0)

		mock.ExpectExec(`UPDATE users`).
			WithArgs("new-hash", int64(99)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdatePassword(context.Background(), 99, []byte("new-hash"))
		require.ErrorIs(t, err, storage.ErrUserNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
