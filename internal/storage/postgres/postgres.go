package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"msat_auth/internal/config"
	"msat_auth/internal/models"
	"msat_auth/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PostgresRepo struct {
	pool       DB
	retries    uint64
	retryDelay time.Duration
}

func New(ctx context.Context, cfg config.Postgres) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewConstant(delay))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return NewWithPool(pool, cfg.QueryRetries, cfg.QueryRetryDelay), nil
}

// NewWithPool wraps an existing pool. Statements failing with errors pgconn
// reports as safe to retry are retried up to retries times.
func NewWithPool(pool DB, retries uint64, retryDelay time.Duration) *PostgresRepo {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}

	return &PostgresRepo{
		pool:       pool,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (r *PostgresRepo) SaveUser(ctx context.Context, username, email string, passHash []byte) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at;
	`

	u := models.User{
		Username: username,
		Email:    email,
		PassHash: passHash,
	}

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, query, username, email, string(passHash)).
			Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case usernameConstraint:
				return models.User{}, storage.ErrUsernameExists
			case emailConstraint:
				return models.User{}, storage.ErrEmailExists
			}
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByUsername(ctx context.Context, username string) (models.User, error) {
	const op = "storage.postgres.UserByUsername"

	query := `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE username = $1;
	`

	u, err := r.scanUser(ctx, query, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, err
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.UserByEmail"

	query := `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1;
	`

	u, err := r.scanUser(ctx, query, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, err
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UpdatePassword(ctx context.Context, userID int64, passHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`

	var tag pgconn.CommandTag

	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		tag, err = r.pool.Exec(ctx, query, string(passHash), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	const op = "storage.postgres.Ping"

	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) scanUser(ctx context.Context, query string, arg string) (models.User, error) {
	var (
		u    models.User
		hash string
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, query, arg).Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&hash,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	u.PassHash = []byte(hash)

	return u, nil
}

func (r *PostgresRepo) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(r.retries, retry.NewConstant(r.retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && pgconn.SafeToRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
