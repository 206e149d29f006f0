package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
)

// PDA seeds of the creator-fee program.
const (
	RewardVaultSeed    = "creator_reward_vault"
	CreatorVaultSeed   = "creator-vault"
	EventAuthoritySeed = "__event_authority"
)

// CollectCreatorFeeDiscriminator is the instruction tag of collectCreatorFee.
var CollectCreatorFeeDiscriminator = []byte{20, 22, 86, 123, 198, 28, 219, 132}

// RewardVault derives the vault that accrues unclaimed creator fees for mint.
func RewardVault(programID, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(RewardVaultSeed), mint.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive reward vault: %w", err)
	}
	return addr, nil
}

// CreatorVault derives the per-creator vault the claim drains.
func CreatorVault(programID, creator solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(CreatorVaultSeed), creator.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive creator vault: %w", err)
	}
	return addr, nil
}

// EventAuthority derives the program's event authority.
func EventAuthority(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(EventAuthoritySeed)}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive event authority: %w", err)
	}
	return addr, nil
}

// NewClaimInstruction builds collectCreatorFee for creator.
func NewClaimInstruction(programID, creator solana.PublicKey) (solana.Instruction, error) {
	creatorVault, err := CreatorVault(programID, creator)
	if err != nil {
		return nil, err
	}
	eventAuthority, err := EventAuthority(programID)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(creator, true, true),
		solana.NewAccountMeta(creatorVault, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(programID, false, false),
	}
	data := make([]byte, len(CollectCreatorFeeDiscriminator))
	copy(data, CollectCreatorFeeDiscriminator)
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewTransferInstruction builds a system transfer of lamports.
func NewTransferInstruction(from, to solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	ix, err := system.NewTransferInstruction(lamports, from, to).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build transfer to %s: %w", to, err)
	}
	return ix, nil
}

// NewComputeUnitPriceInstruction sets the priority fee in micro-lamports per unit.
func NewComputeUnitPriceInstruction(microLamports uint64) (solana.Instruction, error) {
	ix, err := computebudget.NewSetComputeUnitPriceInstruction(microLamports).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit price: %w", err)
	}
	return ix, nil
}

// NewComputeUnitLimitInstruction caps the compute units the transaction may use.
func NewComputeUnitLimitInstruction(units uint32) (solana.Instruction, error) {
	ix, err := computebudget.NewSetComputeUnitLimitInstruction(units).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit: %w", err)
	}
	return ix, nil
}
