package staking_rewards

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account_StakeInfo is the Anchor discriminator of StakeInfo accounts.
var Account_StakeInfo = accountDiscriminator("StakeInfo")

// StakeInfoSize is the serialized size of a StakeInfo account, discriminator included.
const StakeInfoSize = 8 + 32 + 8 + 8 + 8 + 8 + 1 + 8

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

// StakeInfo is the per-staker record kept by the program.
type StakeInfo struct {
	Owner         solana.PublicKey `json:"owner"`
	Principal     uint64           `json:"principal"`
	StakeAtSlot   uint64           `json:"stakeAtSlot"`
	StakedAt      int64            `json:"stakedAt"`
	AccruedReward uint64           `json:"accruedReward"`
	IsStaked      bool             `json:"isStaked"`
	LockEndTime   int64            `json:"lockEndTime"`
}

func (obj StakeInfo) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.WriteBytes(Account_StakeInfo[:], false); err != nil {
		return err
	}
	if err = encoder.WriteBytes(obj.Owner[:], false); err != nil {
		return err
	}
	if err = encoder.WriteUint64(obj.Principal, bin.LE); err != nil {
		return err
	}
	if err = encoder.WriteUint64(obj.StakeAtSlot, bin.LE); err != nil {
		return err
	}
	if err = encoder.WriteInt64(obj.StakedAt, bin.LE); err != nil {
		return err
	}
	if err = encoder.WriteUint64(obj.AccruedReward, bin.LE); err != nil {
		return err
	}
	if err = encoder.WriteBool(obj.IsStaked); err != nil {
		return err
	}
	return encoder.WriteInt64(obj.LockEndTime, bin.LE)
}

func (obj *StakeInfo) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	discriminator, err := decoder.ReadBytes(8)
	if err != nil {
		return err
	}
	if !bytes.Equal(discriminator, Account_StakeInfo[:]) {
		return fmt.Errorf("wrong discriminator: wanted %x, got %x", Account_StakeInfo[:], discriminator)
	}
	owner, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(obj.Owner[:], owner)
	if obj.Principal, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if obj.StakeAtSlot, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if obj.StakedAt, err = decoder.ReadInt64(bin.LE); err != nil {
		return err
	}
	if obj.AccruedReward, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if obj.IsStaked, err = decoder.ReadBool(); err != nil {
		return err
	}
	obj.LockEndTime, err = decoder.ReadInt64(bin.LE)
	return err
}

// Marshal serializes the record in its on-chain layout.
func (obj *StakeInfo) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := obj.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("failed to encode StakeInfo: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseAccount_StakeInfo decodes raw account data into a StakeInfo.
func ParseAccount_StakeInfo(accountData []byte) (*StakeInfo, error) {
	acc := new(StakeInfo)
	err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(accountData))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal StakeInfo: %w", err)
	}
	return acc, nil
}
