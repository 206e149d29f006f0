package util

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// SecretKeyLen is the length of an ed25519 keypair (seed + public key).
const SecretKeyLen = 64

// DecodeSecretKey decodes a base58 64-byte ed25519 keypair.
func DecodeSecretKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty secret key")
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(b) != SecretKeyLen {
		return nil, fmt.Errorf("secret key is %d bytes, want %d", len(b), SecretKeyLen)
	}
	return b, nil
}

// ShortSig abbreviates a transaction signature for log lines.
func ShortSig(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "..." + sig[len(sig)-8:]
}
