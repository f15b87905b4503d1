package http

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/service"
)

// AuthHandlers contains HTTP handlers for the auth endpoints.
type AuthHandlers struct {
	authService *service.AuthService
}

func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{authService: authService}
}

// TokenRequest asks to redeem a signed challenge for a token pair.
type TokenRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	SignedMessage string `json:"signed_message" binding:"required"`
}

// RefreshRequest asks to rotate a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is the issued pair in OAuth-style shape.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func tokenResponse(pair *core.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}

// Challenge returns the signing nonce for a wallet address, creating the
// account if it is unknown.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	walletAddress := c.Query("walletAddress")
	if walletAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "walletAddress is required"})
		return
	}

	challenge, err := h.authService.LoginChallenge(c.Request.Context(), walletAddress)
	if err != nil {
		abortWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        challenge.AccountID,
		"wallet_address": challenge.WalletAddress,
		"nonce":          challenge.Nonce,
	})
}

// Token redeems a signed challenge for an access/refresh pair.
func (h *AuthHandlers) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.authService.IssueWeb3Tokens(c.Request.Context(), req.WalletAddress, req.SignedMessage)
	if err != nil {
		abortWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(pair))
}

// Refresh rotates a refresh token for a new pair.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(pair))
}

// Logout revokes the stored refresh token.
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		abortWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the identity behind the presented access token.
func (h *AuthHandlers) Me(c *gin.Context) {
	identity, exists := c.Get(contextIdentityKey)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity not found in context"})
		return
	}
	id := identity.(core.TokenIdentity)

	resp := gin.H{"user_id": id.AccountID}
	if id.Username != nil {
		resp["username"] = *id.Username
	}
	c.JSON(http.StatusOK, resp)
}

// TestLogin creates a throwaway wallet, fetches its challenge and signs it.
// Wired only in the local environment.
func (h *AuthHandlers) TestLogin(c *gin.Context) {
	key, err := crypto.GenerateKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate key"})
		return
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := h.authService.LoginChallenge(c.Request.Context(), address)
	if err != nil {
		abortWithAuthError(c, err)
		return
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge.Nonce)), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign challenge"})
		return
	}
	sig[64] += 27

	c.JSON(http.StatusOK, gin.H{
		"user_id":        challenge.AccountID,
		"wallet_address": address,
		"signed_message": hexutil.Encode(sig),
	})
}

// abortWithAuthError maps domain errors onto the small external status set:
// bad input is 400, unknown accounts are 404 and every authorization failure
// collapses to 401 without revealing which check tripped.
func abortWithAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
	case errors.Is(err, core.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, core.ErrAccountLocked),
		errors.Is(err, core.ErrUnauthorized),
		errors.Is(err, core.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
