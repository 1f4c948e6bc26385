package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

// LoadSigner parses a hex-encoded secp256k1 private key. An empty key yields a
// nil signer, which makes the client read-only.
func LoadSigner(privateKeyHex string) (*secp256k1.KeyPair, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return nil, nil
	}
	keyBytes, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(keyBytes))
	}
	kp, err := secp256k1.NewSecp256k1KeyPair(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return kp, nil
}
