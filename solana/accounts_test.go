package staking_rewards

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakeInfo_Layout(t *testing.T) {
	info := &StakeInfo{
		Owner:         solana.NewWallet().PublicKey(),
		Principal:     1_000_000,
		StakeAtSlot:   42,
		StakedAt:      1_700_000_017,
		AccruedReward: 9,
		IsStaked:      true,
		LockEndTime:   1_700_086_417,
	}
	data, err := info.Marshal()
	require.NoError(t, err)
	require.Len(t, data, StakeInfoSize)
	assert.Equal(t, Account_StakeInfo[:], data[:8])
	assert.Equal(t, info.Owner[:], data[8:40])
	assert.Equal(t, byte(1), data[72])

	parsed, err := ParseAccount_StakeInfo(data)
	require.NoError(t, err)
	assert.Equal(t, info, parsed)
}

func TestParseAccount_StakeInfo_Errors(t *testing.T) {
	data, err := (&StakeInfo{IsStaked: true}).Marshal()
	require.NoError(t, err)

	wrong := append([]byte(nil), data...)
	wrong[0] ^= 0xff
	_, err = ParseAccount_StakeInfo(wrong)
	assert.ErrorContains(t, err, "wrong discriminator")

	_, err = ParseAccount_StakeInfo(data[:StakeInfoSize-4])
	assert.Error(t, err)
}
