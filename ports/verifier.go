package ports

// SignatureVerifier proves that a signed message was produced by the holder
// of a wallet address's private key.
type SignatureVerifier interface {
	// CanonicalAddress validates and checksums a wallet address, returning
	// core.ErrInvalidAddress for malformed input.
	CanonicalAddress(address string) (string, error)

	// Verify recovers the signer of signedMessage over nonce and compares it
	// to address. Malformed signatures and recovery failures yield
	// (false, nil); only a malformed claimed address is an error.
	Verify(address, nonce, signedMessage string) (bool, error)
}
