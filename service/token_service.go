package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/internal/lib/sl"
	"github.com/hashit-app/hashit/ports"
)

// TokenService issues, verifies and revokes the token pair, and owns the
// single-refresh-token-per-account record.
type TokenService struct {
	logger    *slog.Logger
	tokenizer ports.Tokenizer
	store     ports.AccountStore

	now func() time.Time
}

func NewTokenService(logger *slog.Logger, tokenizer ports.Tokenizer, store ports.AccountStore) *TokenService {
	return &TokenService{
		logger:    logger,
		tokenizer: tokenizer,
		store:     store,
		now:       time.Now,
	}
}

// IssueTokenPair signs a fresh access and refresh token and overwrites the
// stored refresh token record.
func (s *TokenService) IssueTokenPair(ctx context.Context, identity core.TokenIdentity) (*core.TokenPair, error) {
	const op = "service.token.IssueTokenPair"
	log := s.logger.With(slog.String("op", op), slog.String("account_id", identity.AccountID))

	accessToken, expiresIn, err := s.tokenizer.IssueAccessToken(identity)
	if err != nil {
		log.Error("failed to issue access token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := s.IssueRefreshToken(ctx, identity)
	if err != nil {
		log.Error("failed to issue refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &core.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(expiresIn.Seconds()),
		TokenType:    core.TokenTypeBearer,
	}, nil
}

// IssueRefreshToken signs a refresh token and upserts the account's single
// stored record. The upsert is one atomic store operation, so concurrent
// refreshes settle on a last-writer-wins record.
func (s *TokenService) IssueRefreshToken(ctx context.Context, identity core.TokenIdentity) (string, error) {
	const op = "service.token.IssueRefreshToken"

	token, err := s.tokenizer.IssueRefreshToken(identity)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := s.now().Add(s.tokenizer.RefreshTTL())
	if _, err := s.store.UpsertRefreshToken(ctx, identity.AccountID, token, expiresAt); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (s *TokenService) VerifyAccessToken(token string) (core.TokenIdentity, error) {
	return s.tokenizer.VerifyAccessToken(token)
}

func (s *TokenService) VerifyRefreshToken(token string) (core.TokenIdentity, error) {
	return s.tokenizer.VerifyRefreshToken(token)
}

// RefreshTokenRecord looks up the stored record for an account. A record
// past its own expiry is treated as absent and deleted on the way out.
func (s *TokenService) RefreshTokenRecord(ctx context.Context, accountID string) (*core.RefreshTokenRecord, error) {
	const op = "service.token.RefreshTokenRecord"

	record, err := s.store.GetRefreshToken(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrRefreshTokenNotFound) {
			return nil, core.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if record.Expired(s.now()) {
		if err := s.store.DeleteRefreshToken(ctx, accountID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, core.ErrRefreshTokenNotFound
	}
	return record, nil
}

// RevokeRefreshToken deletes the stored record. Revoking an account with no
// record is a no-op.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, accountID string) error {
	const op = "service.token.RevokeRefreshToken"

	if err := s.store.DeleteRefreshToken(ctx, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
