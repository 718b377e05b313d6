package staking_rewards

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the address the staking program is deployed at.
var ProgramID = solana.MustPublicKeyFromBase58("6F4xuFXwNTowkA7FnNmo1ejeTTCX6FxYgsifQDwp5Xsf")

var AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

// Seeds used by the program for its derived accounts.
var (
	VaultSeed     = []byte("vault")
	StakeInfoSeed = []byte("stake_info")
	TokenSeed     = []byte("token")
)

// SetProgramID overrides the package level program address.
func SetProgramID(pubkey solana.PublicKey) {
	ProgramID = pubkey
}

// DeriveVaultAddress returns the PDA of the program-wide reward vault.
func DeriveVaultAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{
			VaultSeed,
		},
		programID,
	)
}

// DeriveStakeInfoAddress returns the PDA of the stake record owned by owner.
func DeriveStakeInfoAddress(programID solana.PublicKey, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{
			StakeInfoSeed,
			owner.Bytes(),
		},
		programID,
	)
}

// DeriveStakeAccountAddress returns the PDA of the escrow token account holding owner's principal.
func DeriveStakeAccountAddress(programID solana.PublicKey, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{
			TokenSeed,
			owner.Bytes(),
		},
		programID,
	)
}

// DeriveUserTokenAccount returns the associated token account of owner for mint.
func DeriveUserTokenAccount(owner solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindAssociatedTokenAddress(owner, mint)
}

// VaultSignerSeeds returns the full seed set (bump included) the program signs
// vault transfers with.
func VaultSignerSeeds(bump uint8) [][]byte {
	return [][]byte{VaultSeed, {bump}}
}

// StakeAccountSignerSeeds returns the full seed set (bump included) the program
// signs escrow transfers with.
func StakeAccountSignerSeeds(owner solana.PublicKey, bump uint8) [][]byte {
	return [][]byte{TokenSeed, owner.Bytes(), {bump}}
}

// StakeAddresses groups every address a staker touches.
type StakeAddresses struct {
	Vault            solana.PublicKey
	StakeInfo        solana.PublicKey
	StakeAccount     solana.PublicKey
	UserTokenAccount solana.PublicKey
}

// DeriveStakeAddresses resolves all addresses used by Stake and Destake for owner.
func DeriveStakeAddresses(programID, owner, mint solana.PublicKey) (*StakeAddresses, error) {
	vault, _, err := DeriveVaultAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}
	stakeInfo, _, err := DeriveStakeInfoAddress(programID, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stake info address: %w", err)
	}
	stakeAccount, _, err := DeriveStakeAccountAddress(programID, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stake account address: %w", err)
	}
	userTokenAccount, _, err := DeriveUserTokenAccount(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user token account: %w", err)
	}
	return &StakeAddresses{
		Vault:            vault,
		StakeInfo:        stakeInfo,
		StakeAccount:     stakeAccount,
		UserTokenAccount: userTokenAccount,
	}, nil
}
