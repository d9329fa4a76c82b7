// Package gormstore implements goGuard.UserStore on top of GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	goGuard "github.com/MrEthical07/goGuard"
)

// User is the row shape of the users table.
type User struct {
	ID               string `gorm:"primaryKey"`
	Username         string `gorm:"uniqueIndex;not null"`
	Email            string `gorm:"uniqueIndex;not null"`
	PasswordHash     string `gorm:"not null"`
	IsActive         bool   `gorm:"not null;default:true"`
	IsBlocked        bool   `gorm:"not null;default:false"`
	LockoutExpiresAt *time.Time
}

func (u *User) record() *goGuard.UserRecord {
	r := &goGuard.UserRecord{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		IsBlocked:    u.IsBlocked,
	}
	if u.LockoutExpiresAt != nil {
		r.LockoutExpiresAt = *u.LockoutExpiresAt
	}
	return r
}

// Store reads users and updates their lockout state.
type Store struct {
	db    *gorm.DB
	table string
}

// New returns a Store over db using table, or "users" when empty.
func New(db *gorm.DB, table string) *Store {
	if table == "" {
		table = "users"
	}
	return &Store{db: db, table: table}
}

// Open connects to PostgreSQL with dsn.
func Open(dsn string, table string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, table), nil
}

// Migrate creates or updates the users table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).Table(s.table).AutoMigrate(&User{})
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*goGuard.UserRecord, error) {
	var u User
	err := s.db.WithContext(ctx).Table(s.table).Where("id = ?", userID).Take(&u).Error
	if err != nil {
		return nil, mapError(err)
	}
	return u.record(), nil
}

func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*goGuard.UserRecord, error) {
	var u User
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("username = ? OR email = ?", identifier, identifier).
		Take(&u).Error
	if err != nil {
		return nil, mapError(err)
	}
	return u.record(), nil
}

// UpdateLockout locks the user row FOR UPDATE inside a transaction and
// writes the state back when fn reports a change.
func (s *Store) UpdateLockout(
	ctx context.Context,
	userID string,
	fn func(state *goGuard.LockoutState) (bool, error),
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		err := tx.Table(s.table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "is_blocked", "lockout_expires_at").
			Where("id = ?", userID).
			Take(&u).Error
		if err != nil {
			return mapError(err)
		}

		state := goGuard.LockoutState{Blocked: u.IsBlocked}
		if u.LockoutExpiresAt != nil {
			state.ExpiresAt = *u.LockoutExpiresAt
		}

		changed, err := fn(&state)
		if err != nil || !changed {
			return err
		}

		var expiresAt *time.Time
		if !state.ExpiresAt.IsZero() {
			t := state.ExpiresAt.UTC()
			expiresAt = &t
		}

		err = tx.Table(s.table).
			Where("id = ?", userID).
			Updates(map[string]any{
				"is_blocked":         state.Blocked,
				"lockout_expires_at": expiresAt,
			}).Error
		if err != nil {
			return fmt.Errorf("cannot update lockout: %w", err)
		}
		return nil
	})
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goGuard.ErrUserNotFound
	}
	return fmt.Errorf("cannot query user: %w", err)
}
