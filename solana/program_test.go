package staking_rewards

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStakeAddresses(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	a1, err := DeriveStakeAddresses(programID, alice, mint)
	require.NoError(t, err)
	a2, err := DeriveStakeAddresses(programID, alice, mint)
	require.NoError(t, err)
	b, err := DeriveStakeAddresses(programID, bob, mint)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, a1.Vault, b.Vault, "the vault is shared by every staker")
	assert.NotEqual(t, a1.StakeInfo, b.StakeInfo)
	assert.NotEqual(t, a1.StakeAccount, b.StakeAccount)
	assert.NotEqual(t, a1.StakeInfo, a1.StakeAccount)
	assert.NotEqual(t, a1.UserTokenAccount, b.UserTokenAccount)

	other, err := DeriveStakeAddresses(solana.NewWallet().PublicKey(), alice, mint)
	require.NoError(t, err)
	assert.NotEqual(t, a1.Vault, other.Vault)
	assert.NotEqual(t, a1.StakeInfo, other.StakeInfo)
	assert.Equal(t, a1.UserTokenAccount, other.UserTokenAccount)
}

func TestSignerSeedsRecreateAddress(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	vault, bump, err := DeriveVaultAddress(programID)
	require.NoError(t, err)
	got, err := solana.CreateProgramAddress(VaultSignerSeeds(bump), programID)
	require.NoError(t, err)
	assert.Equal(t, vault, got)

	escrow, bump, err := DeriveStakeAccountAddress(programID, owner)
	require.NoError(t, err)
	got, err = solana.CreateProgramAddress(StakeAccountSignerSeeds(owner, bump), programID)
	require.NoError(t, err)
	assert.Equal(t, escrow, got)
}

func TestDeriveUserTokenAccount(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	got, _, err := DeriveUserTokenAccount(owner, mint)
	require.NoError(t, err)
	want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, AssociatedTokenProgramID)
}
