package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature does not recover to the
// expected address.
var ErrBadSignature = errors.New("crypto: signature does not match address")

// Signer produces EIP-191 personal_sign signatures, the format wallets use
// for "Sign message" prompts.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the signer's checksummed address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs msg under the "\x19Ethereum Signed Message:\n" prefix
// and returns the 0x-prefixed 65-byte signature with V in {27, 28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address that produced a personal_sign
// signature over msg. Both V conventions (0/1 and 27/28) are accepted.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want %d", len(sig), ethcrypto.SignatureLength)
	}
	sig = append([]byte(nil), sig...)
	if v := sig[ethcrypto.RecoveryIDOffset]; v >= 27 {
		sig[ethcrypto.RecoveryIDOffset] = v - 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyMessage checks that sigHex is want's signature over msg.
func VerifyMessage(want common.Address, msg []byte, sigHex string) error {
	got, err := RecoverAddress(msg, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return ErrBadSignature
	}
	return nil
}
