package staking_rewards

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction discriminators, sha256("global:<name>")[:8].
var (
	Instruction_Initialize = instructionDiscriminator("initialize")
	Instruction_Stake      = instructionDiscriminator("stake")
	Instruction_Destake    = instructionDiscriminator("destake")
)

func instructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

// InstructionIDToName returns the name of the instruction with the given discriminator.
func InstructionIDToName(id [8]byte) string {
	switch id {
	case Instruction_Initialize:
		return "Initialize"
	case Instruction_Stake:
		return "Stake"
	case Instruction_Destake:
		return "Destake"
	default:
		return ""
	}
}

// InitializeAccounts lists the accounts of the initialize instruction in order.
type InitializeAccounts struct {
	Signer            solana.PublicKey
	TokenVaultAccount solana.PublicKey
	Mint              solana.PublicKey
	TokenProgram      solana.PublicKey
	SystemProgram     solana.PublicKey
}

func (a *InitializeAccounts) metas() []*solana.AccountMeta {
	return []*solana.AccountMeta{
		solana.NewAccountMeta(a.Signer, true, true),
		solana.NewAccountMeta(a.TokenVaultAccount, true, false),
		solana.NewAccountMeta(a.Mint, false, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
}

// StakeAccounts lists the accounts of the stake instruction in order.
type StakeAccounts struct {
	Signer                 solana.PublicKey
	StakeInfoAccount       solana.PublicKey
	StakeAccount           solana.PublicKey
	UserTokenAccount       solana.PublicKey
	Mint                   solana.PublicKey
	TokenProgram           solana.PublicKey
	AssociatedTokenProgram solana.PublicKey
	SystemProgram          solana.PublicKey
}

func (a *StakeAccounts) metas() []*solana.AccountMeta {
	return []*solana.AccountMeta{
		solana.NewAccountMeta(a.Signer, true, true),
		solana.NewAccountMeta(a.StakeInfoAccount, true, false),
		solana.NewAccountMeta(a.StakeAccount, true, false),
		solana.NewAccountMeta(a.UserTokenAccount, true, false),
		solana.NewAccountMeta(a.Mint, false, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
		solana.NewAccountMeta(a.AssociatedTokenProgram, false, false),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
}

// DestakeAccounts lists the accounts of the destake instruction in order.
type DestakeAccounts struct {
	Signer                 solana.PublicKey
	TokenVaultAccount      solana.PublicKey
	StakeInfoAccount       solana.PublicKey
	StakeAccount           solana.PublicKey
	UserTokenAccount       solana.PublicKey
	Mint                   solana.PublicKey
	TokenProgram           solana.PublicKey
	AssociatedTokenProgram solana.PublicKey
	SystemProgram          solana.PublicKey
}

func (a *DestakeAccounts) metas() []*solana.AccountMeta {
	return []*solana.AccountMeta{
		solana.NewAccountMeta(a.Signer, true, true),
		solana.NewAccountMeta(a.TokenVaultAccount, true, false),
		solana.NewAccountMeta(a.StakeInfoAccount, true, false),
		solana.NewAccountMeta(a.StakeAccount, true, false),
		solana.NewAccountMeta(a.UserTokenAccount, true, false),
		solana.NewAccountMeta(a.Mint, false, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
		solana.NewAccountMeta(a.AssociatedTokenProgram, false, false),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
}

// NewInitializeInstruction builds the initialize instruction for programID.
func NewInitializeInstruction(programID, signer, mint solana.PublicKey) (solana.Instruction, error) {
	vault, _, err := DeriveVaultAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}
	accounts := &InitializeAccounts{
		Signer:            signer,
		TokenVaultAccount: vault,
		Mint:              mint,
		TokenProgram:      solana.TokenProgramID,
		SystemProgram:     solana.SystemProgramID,
	}
	return solana.NewInstruction(programID, accounts.metas(), Instruction_Initialize[:]), nil
}

// NewStakeInstruction builds the stake instruction moving amount base units into escrow.
func NewStakeInstruction(programID, signer, mint solana.PublicKey, amount uint64) (solana.Instruction, error) {
	addrs, err := DeriveStakeAddresses(programID, signer, mint)
	if err != nil {
		return nil, err
	}
	accounts := &StakeAccounts{
		Signer:                 signer,
		StakeInfoAccount:       addrs.StakeInfo,
		StakeAccount:           addrs.StakeAccount,
		UserTokenAccount:       addrs.UserTokenAccount,
		Mint:                   mint,
		TokenProgram:           solana.TokenProgramID,
		AssociatedTokenProgram: AssociatedTokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(Instruction_Stake[:], false); err != nil {
		return nil, fmt.Errorf("failed to encode stake discriminator: %w", err)
	}
	if err := enc.WriteUint64(amount, bin.LE); err != nil {
		return nil, fmt.Errorf("failed to encode stake amount: %w", err)
	}
	return solana.NewInstruction(programID, accounts.metas(), buf.Bytes()), nil
}

// NewDestakeInstruction builds the destake instruction returning principal and reward to signer.
func NewDestakeInstruction(programID, signer, mint solana.PublicKey) (solana.Instruction, error) {
	addrs, err := DeriveStakeAddresses(programID, signer, mint)
	if err != nil {
		return nil, err
	}
	accounts := &DestakeAccounts{
		Signer:                 signer,
		TokenVaultAccount:      addrs.Vault,
		StakeInfoAccount:       addrs.StakeInfo,
		StakeAccount:           addrs.StakeAccount,
		UserTokenAccount:       addrs.UserTokenAccount,
		Mint:                   mint,
		TokenProgram:           solana.TokenProgramID,
		AssociatedTokenProgram: AssociatedTokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}
	return solana.NewInstruction(programID, accounts.metas(), Instruction_Destake[:]), nil
}

// Instruction is a decoded staking program instruction.
type Instruction struct {
	TypeID     [8]byte
	Initialize *InitializeAccounts
	Stake      *StakeAccounts
	Destake    *DestakeAccounts
	// Amount is only set for Stake.
	Amount uint64
}

// Name returns the instruction name, empty when unknown.
func (inst *Instruction) Name() string {
	return InstructionIDToName(inst.TypeID)
}

// DecodeInstruction parses instruction data and maps the positional accounts
// onto the instruction's account struct.
func DecodeInstruction(accounts []*solana.AccountMeta, data []byte) (*Instruction, error) {
	if len(data) < 8 {
		return nil, ErrInstructionFallbackNotFound
	}
	inst := &Instruction{}
	copy(inst.TypeID[:], data[:8])

	keys := make([]solana.PublicKey, len(accounts))
	for i, meta := range accounts {
		keys[i] = meta.PublicKey
	}

	switch inst.TypeID {
	case Instruction_Initialize:
		if len(keys) < 5 {
			return nil, ErrAccountNotEnoughKeys
		}
		inst.Initialize = &InitializeAccounts{
			Signer:            keys[0],
			TokenVaultAccount: keys[1],
			Mint:              keys[2],
			TokenProgram:      keys[3],
			SystemProgram:     keys[4],
		}
	case Instruction_Stake:
		if len(keys) < 8 {
			return nil, ErrAccountNotEnoughKeys
		}
		dec := bin.NewBorshDecoder(data[8:])
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, ErrInstructionDidNotDeserialize
		}
		inst.Amount = amount
		inst.Stake = &StakeAccounts{
			Signer:                 keys[0],
			StakeInfoAccount:       keys[1],
			StakeAccount:           keys[2],
			UserTokenAccount:       keys[3],
			Mint:                   keys[4],
			TokenProgram:           keys[5],
			AssociatedTokenProgram: keys[6],
			SystemProgram:          keys[7],
		}
	case Instruction_Destake:
		if len(keys) < 9 {
			return nil, ErrAccountNotEnoughKeys
		}
		inst.Destake = &DestakeAccounts{
			Signer:                 keys[0],
			TokenVaultAccount:      keys[1],
			StakeInfoAccount:       keys[2],
			StakeAccount:           keys[3],
			UserTokenAccount:       keys[4],
			Mint:                   keys[5],
			TokenProgram:           keys[6],
			AssociatedTokenProgram: keys[7],
			SystemProgram:          keys[8],
		}
	default:
		return nil, ErrInstructionFallbackNotFound
	}
	return inst, nil
}
