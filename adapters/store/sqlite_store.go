package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

// SQLiteStore is the durable AccountStore. Guarded updates compare the
// stored nonce inside the UPDATE's WHERE clause, so a lost race shows up as
// zero affected rows.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	const op = "store.sqlite.New"

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ ports.AccountStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByWalletAddress(ctx context.Context, address string) (*core.Account, error) {
	const op = "store.sqlite.FindByWalletAddress"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, wallet_address, nonce, username, login_attempts,
		        lockout_expiry_at, last_logged_in_at, created_at, updated_at
		 FROM accounts WHERE wallet_address = ?`, address)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, walletAddress, nonce string) (*core.Account, error) {
	const op = "store.sqlite.CreateAccount"

	now := time.Now()
	account := &core.Account{
		ID:                 uuid.New().String(),
		WalletAddress:      walletAddress,
		WalletSigningNonce: nonce,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, wallet_address, nonce, login_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		account.ID, walletAddress, nonce, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			// Another request created the account first.
			return s.FindByWalletAddress(ctx, walletAddress)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

func (s *SQLiteStore) UpdateOnSuccess(ctx context.Context, accountID, expectedNonce string, now time.Time, freshNonce string) (*core.Account, error) {
	const op = "store.sqlite.UpdateOnSuccess"

	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET nonce = ?, login_attempts = 0, lockout_expiry_at = NULL,
		     last_logged_in_at = ?, updated_at = ?
		 WHERE id = ? AND nonce = ?`,
		freshNonce, now, now, accountID, expectedNonce)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.checkGuard(ctx, result, accountID); err != nil {
		return nil, err
	}
	return s.findByID(ctx, accountID)
}

func (s *SQLiteStore) UpdateOnFailure(ctx context.Context, accountID, expectedNonce string, next core.AttemptState, freshNonce string) (*core.Account, error) {
	const op = "store.sqlite.UpdateOnFailure"

	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET nonce = ?, login_attempts = ?, lockout_expiry_at = ?, updated_at = ?
		 WHERE id = ? AND nonce = ?`,
		freshNonce, next.LoginAttempts, next.LockoutExpiryAt, time.Now(), accountID, expectedNonce)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.checkGuard(ctx, result, accountID); err != nil {
		return nil, err
	}
	return s.findByID(ctx, accountID)
}

func (s *SQLiteStore) GetRefreshToken(ctx context.Context, accountID string) (*core.RefreshTokenRecord, error) {
	const op = "store.sqlite.GetRefreshToken"

	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, token, expires_at FROM refresh_tokens WHERE account_id = ?`, accountID)

	var record core.RefreshTokenRecord
	if err := row.Scan(&record.AccountID, &record.Token, &record.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &record, nil
}

func (s *SQLiteStore) UpsertRefreshToken(ctx context.Context, accountID, token string, expiresAt time.Time) (*core.RefreshTokenRecord, error) {
	const op = "store.sqlite.UpsertRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (account_id, token, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at`,
		accountID, token, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &core.RefreshTokenRecord{AccountID: accountID, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *SQLiteStore) DeleteRefreshToken(ctx context.Context, accountID string) error {
	const op = "store.sqlite.DeleteRefreshToken"

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// checkGuard distinguishes a missing account from a lost nonce race when a
// guarded UPDATE touched no rows.
func (s *SQLiteStore) checkGuard(ctx context.Context, result sql.Result, accountID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, accountID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrAccountNotFound
		}
		return err
	}
	return core.ErrConflict
}

func (s *SQLiteStore) findByID(ctx context.Context, id string) (*core.Account, error) {
	const op = "store.sqlite.findByID"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, wallet_address, nonce, username, login_attempts,
		        lockout_expiry_at, last_logged_in_at, created_at, updated_at
		 FROM accounts WHERE id = ?`, id)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

func scanAccount(row *sql.Row) (*core.Account, error) {
	var (
		account  core.Account
		username sql.NullString
		lockout  sql.NullTime
		loggedIn sql.NullTime
	)
	err := row.Scan(&account.ID, &account.WalletAddress, &account.WalletSigningNonce,
		&username, &account.LoginAttempts, &lockout, &loggedIn,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if username.Valid {
		account.Username = &username.String
	}
	if lockout.Valid {
		account.LockoutExpiryAt = &lockout.Time
	}
	if loggedIn.Valid {
		account.LastLoggedInAt = &loggedIn.Time
	}
	return &account, nil
}
