package testutil

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/djkazic/creatorsplit/internal/types"
)

// Program and mint addresses used across tests.
var (
	ClaimProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	TokenMint      = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// Key returns a deterministic keypair derived from n.
func Key(n uint32) solana.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	binary.BigEndian.PutUint32(seed, n+1)
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed))
}

// Address returns the base58 public key of Key(n).
func Address(n uint32) string {
	return Key(n).PublicKey().String()
}

// Payer is the keypair that signs every test transaction.
func Payer() solana.PrivateKey {
	return Key(1_000_000)
}

// SampleHolders returns count holders with valid owner addresses. Holder i
// holds (i+1) * unit tokens.
func SampleHolders(count int, unit uint64) []types.HolderBalance {
	holders := make([]types.HolderBalance, count)
	for i := range holders {
		holders[i] = types.NewHolderBalance(Address(uint32(i)), uint64(i+1)*unit)
	}
	return holders
}

// EqualHolders returns count holders with identical balances.
func EqualHolders(count int, balance uint64) []types.HolderBalance {
	holders := make([]types.HolderBalance, count)
	for i := range holders {
		holders[i] = types.NewHolderBalance(Address(uint32(i)), balance)
	}
	return holders
}
