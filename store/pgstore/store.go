// Package pgstore implements goGuard.UserStore on PostgreSQL through pgx.
//
// The expected table is
//
//	users(id, username, email, password_hash, is_active, is_blocked, lockout_expires_at)
//
// with lockout_expires_at nullable.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	goGuard "github.com/MrEthical07/goGuard"
)

const (
	selectColumns = "id, username, email, password_hash, is_active, is_blocked, lockout_expires_at"

	queryByID = "SELECT " + selectColumns + " FROM %s WHERE id = $1"

	queryByIdentifier = "SELECT " + selectColumns + " FROM %s WHERE username = $1 OR email = $1 LIMIT 1"

	queryLockForUpdate = "SELECT is_blocked, lockout_expires_at FROM %s WHERE id = $1 FOR UPDATE"

	queryUpdateLockout = "UPDATE %s SET is_blocked = $2, lockout_expires_at = $3 WHERE id = $1"
)

// Store reads users and updates their lockout state.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the users table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = pgx.Identifier{name}.Sanitize()
	}
}

// New returns a Store over pool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	s := &Store{
		pool:  pool,
		table: pgx.Identifier{"users"}.Sanitize(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Connect parses dsn and opens a pool.
func Connect(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot ping database: %w", err)
	}

	return New(pool, options...), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*goGuard.UserRecord, error) {
	return s.queryUser(ctx, fmt.Sprintf(queryByID, s.table), userID)
}

func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*goGuard.UserRecord, error) {
	return s.queryUser(ctx, fmt.Sprintf(queryByIdentifier, s.table), identifier)
}

func (s *Store) queryUser(ctx context.Context, q string, arg string) (*goGuard.UserRecord, error) {
	var (
		u         goGuard.UserRecord
		expiresAt *time.Time
	)

	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsBlocked,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goGuard.ErrUserNotFound
		}
		return nil, fmt.Errorf("cannot query user: %w", err)
	}

	if expiresAt != nil {
		u.LockoutExpiresAt = *expiresAt
	}

	return &u, nil
}

// UpdateLockout locks the user row with SELECT ... FOR UPDATE and writes
// the state back when fn reports a change.
func (s *Store) UpdateLockout(
	ctx context.Context,
	userID string,
	fn func(state *goGuard.LockoutState) (bool, error),
) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}

	if err := s.updateLockout(ctx, tx, userID, fn); err != nil {
		if err2 := tx.Rollback(ctx); err2 != nil {
			err = errors.Join(err, fmt.Errorf("cannot rollback transaction: %w", err2))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}

	return nil
}

func (s *Store) updateLockout(
	ctx context.Context,
	tx pgx.Tx,
	userID string,
	fn func(state *goGuard.LockoutState) (bool, error),
) error {
	var (
		state     goGuard.LockoutState
		expiresAt *time.Time
	)

	err := tx.QueryRow(ctx, fmt.Sprintf(queryLockForUpdate, s.table), userID).Scan(&state.Blocked, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return goGuard.ErrUserNotFound
		}
		return fmt.Errorf("cannot lock user row: %w", err)
	}
	if expiresAt != nil {
		state.ExpiresAt = *expiresAt
	}

	changed, err := fn(&state)
	if err != nil || !changed {
		return err
	}

	var newExpiry *time.Time
	if !state.ExpiresAt.IsZero() {
		t := state.ExpiresAt.UTC()
		newExpiry = &t
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(queryUpdateLockout, s.table), userID, state.Blocked, newExpiry); err != nil {
		return fmt.Errorf("cannot update lockout: %w", err)
	}

	return nil
}
