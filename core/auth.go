package core

// TokenTypeBearer is the token_type reported with every issued pair.
const TokenTypeBearer = "Bearer"

// LoginChallenge is handed to a wallet holder to sign.
type LoginChallenge struct {
	AccountID     string
	WalletAddress string
	Nonce         string
}

// TokenIdentity is the claims payload carried by both access and refresh
// tokens: the account id as subject plus the optional display name.
type TokenIdentity struct {
	AccountID string
	Username  *string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access token lifetime in seconds
	TokenType    string
}
