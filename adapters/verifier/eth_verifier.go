package verifier

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

const signatureLength = 65

// PersonalSignVerifier checks personal_sign (EIP-191) signatures over a
// challenge nonce. It is stateless and safe for concurrent use.
type PersonalSignVerifier struct{}

func NewPersonalSignVerifier() ports.SignatureVerifier {
	return &PersonalSignVerifier{}
}

// CanonicalAddress returns the EIP-55 checksummed form of address.
func (v *PersonalSignVerifier) CanonicalAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}

// Verify recovers the address that signed nonce and compares it with the
// claimed address. Recovery problems are verification failures, not errors.
func (v *PersonalSignVerifier) Verify(address, nonce, signedMessage string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, core.ErrInvalidAddress
	}
	claimed := common.HexToAddress(address)

	sig, err := hexutil.Decode(signedMessage)
	if err != nil || len(sig) != signatureLength {
		return false, nil
	}

	// Wallets encode the recovery id as 27/28; go-ethereum expects 0/1.
	if sig[signatureLength-1] >= 27 {
		sig[signatureLength-1] -= 27
	}
	if sig[signatureLength-1] > 1 {
		return false, nil
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash([]byte(nonce)), sig)
	if err != nil {
		return false, nil
	}

	return crypto.PubkeyToAddress(*pubKey) == claimed, nil
}
