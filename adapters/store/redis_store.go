package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

// RedisStore keeps accounts and refresh token records in Redis hashes.
// Guarded account updates use WATCH so a concurrent nonce rotation fails the
// transaction instead of losing an attempt increment.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) ports.AccountStore {
	return &RedisStore{
		client: client,
		prefix: "hashit:",
	}
}

func (s *RedisStore) accountKey(id string) string     { return s.prefix + "account:" + id }
func (s *RedisStore) walletKey(address string) string { return s.prefix + "wallet:" + address }
func (s *RedisStore) refreshKey(accountID string) string {
	return s.prefix + "refresh:" + accountID
}

func (s *RedisStore) FindByWalletAddress(ctx context.Context, address string) (*core.Account, error) {
	id, err := s.client.Get(ctx, s.walletKey(address)).Result()
	if err == redis.Nil {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve wallet address: %w", err)
	}
	return s.readAccount(ctx, id)
}

func (s *RedisStore) CreateAccount(ctx context.Context, walletAddress, nonce string) (*core.Account, error) {
	id := uuid.New().String()
	now := time.Now()
	account := &core.Account{
		ID:                 id,
		WalletAddress:      walletAddress,
		WalletSigningNonce: nonce,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// The account hash is written before the wallet key becomes visible, so
	// a reader that resolves the wallet key never sees a half-created account.
	if err := s.client.HSet(ctx, s.accountKey(id), accountFields(account)).Err(); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.walletKey(walletAddress), id, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve wallet address: %w", err)
	}
	if !created {
		// Another request won the race; discard ours and hand back its account.
		if err := s.client.Del(ctx, s.accountKey(id)).Err(); err != nil {
			return nil, fmt.Errorf("failed to discard account: %w", err)
		}
		return s.FindByWalletAddress(ctx, walletAddress)
	}
	return account, nil
}

func (s *RedisStore) UpdateOnSuccess(ctx context.Context, accountID, expectedNonce string, now time.Time, freshNonce string) (*core.Account, error) {
	fields := map[string]interface{}{
		"nonce":             freshNonce,
		"login_attempts":    0,
		"lockout_expiry_at": "",
		"last_logged_in_at": now.Format(time.RFC3339Nano),
		"updated_at":        now.Format(time.RFC3339Nano),
	}
	if err := s.guardedUpdate(ctx, accountID, expectedNonce, fields); err != nil {
		return nil, err
	}
	return s.readAccount(ctx, accountID)
}

func (s *RedisStore) UpdateOnFailure(ctx context.Context, accountID, expectedNonce string, next core.AttemptState, freshNonce string) (*core.Account, error) {
	lockout := ""
	if next.LockoutExpiryAt != nil {
		lockout = next.LockoutExpiryAt.Format(time.RFC3339Nano)
	}
	fields := map[string]interface{}{
		"nonce":             freshNonce,
		"login_attempts":    next.LoginAttempts,
		"lockout_expiry_at": lockout,
		"updated_at":        time.Now().Format(time.RFC3339Nano),
	}
	if err := s.guardedUpdate(ctx, accountID, expectedNonce, fields); err != nil {
		return nil, err
	}
	return s.readAccount(ctx, accountID)
}

func (s *RedisStore) GetRefreshToken(ctx context.Context, accountID string) (*core.RefreshTokenRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.refreshKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	if len(vals) == 0 {
		return nil, core.ErrRefreshTokenNotFound
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, vals["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record: %w", err)
	}
	return &core.RefreshTokenRecord{
		AccountID: accountID,
		Token:     vals["token"],
		ExpiresAt: expiresAt,
	}, nil
}

func (s *RedisStore) UpsertRefreshToken(ctx context.Context, accountID, token string, expiresAt time.Time) (*core.RefreshTokenRecord, error) {
	key := s.refreshKey(accountID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"token":      token,
			"expires_at": expiresAt.Format(time.RFC3339Nano),
		})
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert refresh token: %w", err)
	}
	return &core.RefreshTokenRecord{AccountID: accountID, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *RedisStore) DeleteRefreshToken(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, s.refreshKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// guardedUpdate applies fields only while the stored nonce equals
// expectedNonce, using WATCH for the compare-and-set.
func (s *RedisStore) guardedUpdate(ctx context.Context, accountID, expectedNonce string, fields map[string]interface{}) error {
	key := s.accountKey(accountID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		nonce, err := tx.HGet(ctx, key, "nonce").Result()
		if err == redis.Nil {
			return core.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if nonce != expectedNonce {
			return core.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	if err != nil && !errors.Is(err, core.ErrAccountNotFound) && !errors.Is(err, core.ErrConflict) {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return err
}

func (s *RedisStore) readAccount(ctx context.Context, id string) (*core.Account, error) {
	vals, err := s.client.HGetAll(ctx, s.accountKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if len(vals) == 0 {
		return nil, core.ErrAccountNotFound
	}
	return accountFromFields(id, vals)
}

func accountFields(a *core.Account) map[string]interface{} {
	username := ""
	if a.Username != nil {
		username = *a.Username
	}
	return map[string]interface{}{
		"wallet_address":    a.WalletAddress,
		"nonce":             a.WalletSigningNonce,
		"username":          username,
		"login_attempts":    a.LoginAttempts,
		"lockout_expiry_at": "",
		"last_logged_in_at": "",
		"created_at":        a.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        a.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func accountFromFields(id string, vals map[string]string) (*core.Account, error) {
	attempts, err := strconv.Atoi(vals["login_attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt account record: %w", err)
	}

	account := &core.Account{
		ID:                 id,
		WalletAddress:      vals["wallet_address"],
		WalletSigningNonce: vals["nonce"],
		LoginAttempts:      attempts,
	}
	if v := vals["username"]; v != "" {
		account.Username = &v
	}
	for field, dst := range map[string]**time.Time{
		"lockout_expiry_at": &account.LockoutExpiryAt,
		"last_logged_in_at": &account.LastLoggedInAt,
	} {
		if v := vals[field]; v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("corrupt account record: %w", err)
			}
			*dst = &t
		}
	}
	if v := vals["created_at"]; v != "" {
		if account.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("corrupt account record: %w", err)
		}
	}
	if v := vals["updated_at"]; v != "" {
		if account.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("corrupt account record: %w", err)
		}
	}
	return account, nil
}
