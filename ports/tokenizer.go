package ports

import (
	"time"

	"github.com/hashit-app/hashit/core"
)

// Tokenizer signs and verifies access and refresh tokens. Verification
// failures of any kind surface as core.ErrInvalidToken.
type Tokenizer interface {
	IssueAccessToken(identity core.TokenIdentity) (token string, expiresIn time.Duration, err error)
	IssueRefreshToken(identity core.TokenIdentity) (token string, err error)

	VerifyAccessToken(token string) (core.TokenIdentity, error)
	VerifyRefreshToken(token string) (core.TokenIdentity, error)

	// RefreshTTL is the configured refresh token lifetime, used to stamp the
	// stored record's expiry.
	RefreshTTL() time.Duration
}
