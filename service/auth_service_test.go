package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashit-app/hashit/adapters/store"
	"github.com/hashit-app/hashit/adapters/tokenizer"
	"github.com/hashit-app/hashit/adapters/verifier"
	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

const (
	testMaxAttempts     = 3
	testLockoutDuration = 5 * time.Minute
)

type testEnv struct {
	auth    *AuthService
	tokens  *TokenService
	store   ports.AccountStore
	ethKey  *ecdsa.PrivateKey
	address string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwtTokenizer := tokenizer.NewJWTTokenizer(
		tokenizer.SigningConfig{Key: rsaKey, Issuer: "hashit-test", TTL: 5 * time.Minute},
		tokenizer.SigningConfig{Key: rsaKey, Issuer: "hashit-test", TTL: time.Hour},
	)

	accountStore := store.NewMemoryStore()
	tokens := NewTokenService(logger, jwtTokenizer, accountStore)
	auth := NewAuthService(logger, accountStore, verifier.NewPersonalSignVerifier(), tokens, nil, core.LockoutPolicy{
		MaxLoginAttempts: testMaxAttempts,
		LockoutDuration:  testLockoutDuration,
	})

	ethKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testEnv{
		auth:    auth,
		tokens:  tokens,
		store:   accountStore,
		ethKey:  ethKey,
		address: crypto.PubkeyToAddress(ethKey.PublicKey).Hex(),
	}
}

func (e *testEnv) sign(t *testing.T, nonce string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(nonce)), e.ethKey)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

// signWrong produces a structurally valid signature from a different key, so
// verification fails without being a malformed-input error.
func (e *testEnv) signWrong(t *testing.T, nonce string) string {
	t.Helper()
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(nonce)), otherKey)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func (e *testEnv) account(t *testing.T) *core.Account {
	t.Helper()
	account, err := e.store.FindByWalletAddress(context.Background(), e.address)
	require.NoError(t, err)
	return account
}

func (e *testEnv) failOnce(t *testing.T) {
	t.Helper()
	challenge, err := e.auth.LoginChallenge(context.Background(), e.address)
	require.NoError(t, err)
	_, err = e.auth.VerifySignature(context.Background(), e.address, e.signWrong(t, challenge.Nonce))
	require.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestLoginChallenge_CreatesAccountAndIsStable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	first, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	assert.NotEmpty(t, first.AccountID)
	assert.Equal(t, e.address, first.WalletAddress)
	assert.NotEmpty(t, first.Nonce)

	// Unconsumed challenges are stable so clients may retry freely.
	second, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, first.Nonce, second.Nonce)
}

func TestLoginChallenge_InvalidAddress(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.auth.LoginChallenge(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestVerifySignature_Success(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	identity, err := e.auth.VerifySignature(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)
	assert.Equal(t, challenge.AccountID, identity.AccountID)

	account := e.account(t)
	assert.NotEqual(t, challenge.Nonce, account.WalletSigningNonce, "nonce must rotate on success")
	assert.Zero(t, account.LoginAttempts)
	assert.Nil(t, account.LockoutExpiryAt)
	assert.NotNil(t, account.LastLoggedInAt)
}

func TestVerifySignature_UnknownAccount(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.auth.VerifySignature(context.Background(), e.address, "0x00")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestVerifySignature_FailureRotatesNonceAndCounts(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	_, err = e.auth.VerifySignature(ctx, e.address, e.signWrong(t, challenge.Nonce))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	account := e.account(t)
	assert.Equal(t, 1, account.LoginAttempts)
	assert.Nil(t, account.LockoutExpiryAt)
	assert.NotEqual(t, challenge.Nonce, account.WalletSigningNonce, "nonce must rotate on failure")
}

func TestVerifySignature_ConsumedChallengeCannotBeReplayed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	signed := e.sign(t, challenge.Nonce)

	_, err = e.auth.VerifySignature(ctx, e.address, signed)
	require.NoError(t, err)

	// Same correctly-signed message again: the nonce has rotated away.
	_, err = e.auth.VerifySignature(ctx, e.address, signed)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Equal(t, 1, e.account(t).LoginAttempts)
}

func TestLockout_TripsAtThreshold(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < testMaxAttempts-1; i++ {
		e.failOnce(t)
		account := e.account(t)
		assert.Equal(t, i+1, account.LoginAttempts)
		assert.Nil(t, account.LockoutExpiryAt, "lockout must stay unset below threshold")
	}

	e.failOnce(t)
	account := e.account(t)
	assert.Equal(t, testMaxAttempts, account.LoginAttempts)
	require.NotNil(t, account.LockoutExpiryAt)

	// Locked: both flows reject without touching state.
	nonceBefore := account.WalletSigningNonce
	_, err := e.auth.LoginChallenge(ctx, e.address)
	assert.ErrorIs(t, err, core.ErrAccountLocked)
	_, err = e.auth.VerifySignature(ctx, e.address, "0x00")
	assert.ErrorIs(t, err, core.ErrAccountLocked)

	account = e.account(t)
	assert.Equal(t, testMaxAttempts, account.LoginAttempts)
	assert.Equal(t, nonceBefore, account.WalletSigningNonce)
}

func TestLockout_ExpiredWindowResetsToOne(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < testMaxAttempts; i++ {
		e.failOnce(t)
	}
	require.NotNil(t, e.account(t).LockoutExpiryAt)

	// Step past the lockout window.
	e.auth.now = func() time.Time { return time.Now().Add(testLockoutDuration + time.Second) }

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	_, err = e.auth.VerifySignature(ctx, e.address, e.signWrong(t, challenge.Nonce))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	account := e.account(t)
	assert.Equal(t, 1, account.LoginAttempts, "fresh window starts at one, not zero")
	assert.Nil(t, account.LockoutExpiryAt)
}

func TestLockout_ExpiredWindowAllowsSuccessfulLogin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < testMaxAttempts; i++ {
		e.failOnce(t)
	}

	e.auth.now = func() time.Time { return time.Now().Add(testLockoutDuration + time.Second) }

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	_, err = e.auth.VerifySignature(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)

	account := e.account(t)
	assert.Zero(t, account.LoginAttempts)
	assert.Nil(t, account.LockoutExpiryAt)
}

func TestIssueWeb3Tokens_Success(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	pair, err := e.auth.IssueWeb3Tokens(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, core.TokenTypeBearer, pair.TokenType)
	assert.Equal(t, int64(300), pair.ExpiresIn)

	identity, err := e.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, challenge.AccountID, identity.AccountID)

	record, err := e.store.GetRefreshToken(ctx, challenge.AccountID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, record.Token)
}

func TestIssueWeb3Tokens_BadSignature(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	_, err = e.auth.IssueWeb3Tokens(ctx, e.address, e.signWrong(t, challenge.Nonce))
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestRefreshTokens_RotatesAndRevokesOldToken(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	first, err := e.auth.IssueWeb3Tokens(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)

	second, err := e.auth.RefreshTokens(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	identity, err := e.auth.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, challenge.AccountID, identity.AccountID)

	// The superseded token is a replay signal: reject and purge the record.
	_, err = e.auth.RefreshTokens(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = e.store.GetRefreshToken(ctx, challenge.AccountID)
	assert.ErrorIs(t, err, core.ErrRefreshTokenNotFound)

	// Which in turn invalidates the current token as well.
	_, err = e.auth.RefreshTokens(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestRefreshTokens_GarbageToken(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.auth.RefreshTokens(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestVerifySignature_ConcurrentFailuresBothCount(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	// Both attempts read the same nonce; the guarded write makes the loser
	// re-read and recompute instead of overwriting the winner's increment.
	signatures := []string{
		e.signWrong(t, challenge.Nonce),
		e.signWrong(t, challenge.Nonce),
	}

	errs := make([]error, len(signatures))
	var wg sync.WaitGroup
	for i, signed := range signatures {
		wg.Add(1)
		go func(i int, signed string) {
			defer wg.Done()
			_, errs[i] = e.auth.VerifySignature(ctx, e.address, signed)
		}(i, signed)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	}
	assert.Equal(t, 2, e.account(t).LoginAttempts, "a concurrent failure must not lose an increment")
}

func TestRefreshTokens_ConcurrentUseSettlesOnOneRecord(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	pair, err := e.auth.IssueWeb3Tokens(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)

	pairs := make([]*core.TokenPair, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = e.auth.RefreshTokens(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var issued []string
	for i := range pairs {
		if errs[i] == nil {
			issued = append(issued, pairs[i].RefreshToken)
		} else {
			assert.ErrorIs(t, errs[i], core.ErrUnauthorized)
		}
	}
	require.NotEmpty(t, issued, "at least one concurrent refresh must succeed")

	record, err := e.store.GetRefreshToken(ctx, challenge.AccountID)
	if errors.Is(err, core.ErrRefreshTokenNotFound) {
		// One refresh saw the other's rotation, read it as replay and revoked
		// the record. Nothing survives, which is the safe side of the race.
		for _, token := range issued {
			_, rerr := e.auth.RefreshTokens(ctx, token)
			assert.ErrorIs(t, rerr, core.ErrUnauthorized)
		}
		return
	}
	require.NoError(t, err)

	// The upserts settled last-writer-wins: exactly one issued token matches
	// the surviving record, and only that one still refreshes.
	var winner string
	var losers []string
	for _, token := range issued {
		if token == record.Token {
			winner = token
		} else {
			losers = append(losers, token)
		}
	}
	require.NotEmpty(t, winner)
	require.Len(t, losers, len(issued)-1)

	_, err = e.auth.RefreshTokens(ctx, winner)
	assert.NoError(t, err)
	for _, token := range losers {
		_, err := e.auth.RefreshTokens(ctx, token)
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	}
}

// lockoutRacingStore makes the first guarded failure write lose to a
// concurrent attempt that trips the lockout threshold.
type lockoutRacingStore struct {
	ports.AccountStore
	raced bool
}

func (s *lockoutRacingStore) UpdateOnFailure(ctx context.Context, accountID, expectedNonce string, next core.AttemptState, freshNonce string) (*core.Account, error) {
	if !s.raced {
		s.raced = true
		lockout := time.Now().Add(time.Minute)
		if _, err := s.AccountStore.UpdateOnFailure(ctx, accountID, expectedNonce, core.AttemptState{
			LoginAttempts:   testMaxAttempts,
			LockoutExpiryAt: &lockout,
		}, "concurrent-"+freshNonce); err != nil {
			return nil, err
		}
		return nil, core.ErrConflict
	}
	return s.AccountStore.UpdateOnFailure(ctx, accountID, expectedNonce, next, freshNonce)
}

func TestVerifySignature_ConflictRetryHonorsFreshLockout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)

	e.auth.store = &lockoutRacingStore{AccountStore: e.store}

	_, err = e.auth.VerifySignature(ctx, e.address, e.signWrong(t, challenge.Nonce))
	assert.ErrorIs(t, err, core.ErrAccountLocked)

	// The losing attempt wrote nothing: the concurrent lockout stands as is,
	// neither bumped past the threshold nor re-stamped.
	account := e.account(t)
	assert.Equal(t, testMaxAttempts, account.LoginAttempts)
	require.NotNil(t, account.LockoutExpiryAt)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	challenge, err := e.auth.LoginChallenge(ctx, e.address)
	require.NoError(t, err)
	pair, err := e.auth.IssueWeb3Tokens(ctx, e.address, e.sign(t, challenge.Nonce))
	require.NoError(t, err)

	require.NoError(t, e.auth.Logout(ctx, pair.RefreshToken))

	_, err = e.store.GetRefreshToken(ctx, challenge.AccountID)
	assert.ErrorIs(t, err, core.ErrRefreshTokenNotFound)
	_, err = e.auth.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// Revocation is idempotent.
	assert.NoError(t, e.auth.Logout(ctx, pair.RefreshToken))
}
