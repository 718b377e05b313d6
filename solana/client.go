package staking_rewards

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"
)

// Client is a client for the staking program.
type Client struct {
	Backend   Backend
	Signer    solana.PrivateKey
	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	// Log receives problems that do not fail a call, such as a history
	// entry that could not be fetched.
	Log zerolog.Logger
}

// NewClient creates a new Client for the staking program with a specific signer.
func NewClient(backend Backend, signer solana.PrivateKey, programID, mint solana.PublicKey) *Client {
	return &Client{
		Backend:   backend,
		Signer:    signer,
		ProgramID: programID,
		Mint:      mint,
		Log:       zerolog.Nop(),
	}
}

// NewReadOnlyClient creates a new client for read-only operations that don't require a signer.
// It uses a dummy keypair internally.
func NewReadOnlyClient(backend Backend, programID, mint solana.PublicKey) *Client {
	dummyWallet := solana.NewWallet()
	return NewClient(backend, dummyWallet.PrivateKey, programID, mint)
}

// PublicKey returns the signer's address.
func (c *Client) PublicKey() solana.PublicKey {
	return c.Signer.PublicKey()
}

// Addresses resolves the staking addresses of owner.
func (c *Client) Addresses(owner solana.PublicKey) (*StakeAddresses, error) {
	return DeriveStakeAddresses(c.ProgramID, owner, c.Mint)
}

// Initialize creates the program vault for the client's mint.
func (c *Client) Initialize(ctx context.Context) (*solana.Signature, error) {
	inst, err := NewInitializeInstruction(c.ProgramID, c.PublicKey(), c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Initialize instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// Stake moves amount base units from the signer's token account into escrow.
func (c *Client) Stake(ctx context.Context, amount uint64) (*solana.Signature, error) {
	inst, err := NewStakeInstruction(c.ProgramID, c.PublicKey(), c.Mint, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stake instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// Destake returns the signer's principal and pays the reward from the vault.
func (c *Client) Destake(ctx context.Context) (*solana.Signature, error) {
	inst, err := NewDestakeInstruction(c.ProgramID, c.PublicKey(), c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Destake instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// CreateTokenAccount creates the associated token account of owner, paid by the signer.
func (c *Client) CreateTokenAccount(ctx context.Context, owner solana.PublicKey) (*solana.Signature, error) {
	inst, err := associatedtokenaccount.NewCreateInstruction(c.PublicKey(), owner, c.Mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to create associated token account instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// MintTo mints amount to the associated token account of owner. The signer
// must be the mint authority.
func (c *Client) MintTo(ctx context.Context, owner solana.PublicKey, amount uint64) (*solana.Signature, error) {
	ata, _, err := DeriveUserTokenAccount(owner, c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find associated token address: %w", err)
	}
	inst, err := token.NewMintToInstruction(amount, c.Mint, ata, c.PublicKey(), nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to create MintTo instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// Transfer sends amount from the signer's token account to the associated token account of recipient.
func (c *Client) Transfer(ctx context.Context, recipient solana.PublicKey, amount uint64) (*solana.Signature, error) {
	destination, _, err := DeriveUserTokenAccount(recipient, c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find associated token address: %w", err)
	}
	return c.transferTo(ctx, destination, amount)
}

// FundVault transfers amount from the signer's token account into the reward vault.
func (c *Client) FundVault(ctx context.Context, amount uint64) (*solana.Signature, error) {
	vault, _, err := DeriveVaultAddress(c.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return c.transferTo(ctx, vault, amount)
}

func (c *Client) transferTo(ctx context.Context, destination solana.PublicKey, amount uint64) (*solana.Signature, error) {
	source, _, err := DeriveUserTokenAccount(c.PublicKey(), c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find associated token address: %w", err)
	}
	inst, err := token.NewTransferInstruction(amount, source, destination, c.PublicKey(), nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to create Transfer instruction: %w", err)
	}
	return c.send(ctx, inst)
}

// FetchStakeInfo fetches the stake record of owner.
func (c *Client) FetchStakeInfo(ctx context.Context, owner solana.PublicKey) (*StakeInfo, error) {
	stakeInfoPDA, _, err := DeriveStakeInfoAddress(c.ProgramID, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stake info address: %w", err)
	}
	data, err := c.Backend.AccountData(ctx, stakeInfoPDA)
	if err != nil {
		return nil, fmt.Errorf("failed to get stake info account: %w", err)
	}
	return ParseAccount_StakeInfo(data)
}

// FetchMint fetches and decodes the client's mint.
func (c *Client) FetchMint(ctx context.Context) (*token.Mint, error) {
	data, err := c.Backend.AccountData(ctx, c.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint account: %w", err)
	}
	return ParseMintAccount(data)
}

// GetTokenBalance retrieves the balance of owner's associated token account.
// A missing account counts as zero.
func (c *Client) GetTokenBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	ata, _, err := DeriveUserTokenAccount(owner, c.Mint)
	if err != nil {
		return 0, fmt.Errorf("failed to find associated token address: %w", err)
	}
	return c.balanceOf(ctx, ata)
}

// VaultBalance returns the reward vault balance.
func (c *Client) VaultBalance(ctx context.Context) (uint64, error) {
	vault, _, err := DeriveVaultAddress(c.ProgramID)
	if err != nil {
		return 0, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return c.balanceOf(ctx, vault)
}

// EscrowBalance returns the balance of owner's stake account.
func (c *Client) EscrowBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	escrow, _, err := DeriveStakeAccountAddress(c.ProgramID, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to derive stake account address: %w", err)
	}
	return c.balanceOf(ctx, escrow)
}

func (c *Client) balanceOf(ctx context.Context, address solana.PublicKey) (uint64, error) {
	balance, err := c.Backend.TokenBalance(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// StakeStatus summarizes the staking position of one owner.
type StakeStatus struct {
	Owner         solana.PublicKey `json:"owner"`
	Staked        bool             `json:"staked"`
	Principal     uint64           `json:"principal"`
	EscrowBalance uint64           `json:"escrowBalance"`
	WalletBalance uint64           `json:"walletBalance"`
	ElapsedSlots  uint64           `json:"elapsedSlots"`
	LockEndTime   int64            `json:"lockEndTime"`
	VaultBalance  uint64           `json:"vaultBalance"`
}

// GetStakeStatus gathers record, escrow, wallet and vault state for owner.
func (c *Client) GetStakeStatus(ctx context.Context, owner solana.PublicKey) (*StakeStatus, error) {
	status := &StakeStatus{Owner: owner}

	info, err := c.FetchStakeInfo(ctx, owner)
	switch {
	case errors.Is(err, ErrAccountNotFound):
	case err != nil:
		return nil, err
	default:
		status.Staked = info.IsStaked
		status.Principal = info.Principal
		status.LockEndTime = info.LockEndTime
		if info.IsStaked {
			slot, err := c.Backend.Slot(ctx)
			if err != nil {
				return nil, err
			}
			if slot > info.StakeAtSlot {
				status.ElapsedSlots = slot - info.StakeAtSlot
			}
		}
	}

	if status.EscrowBalance, err = c.EscrowBalance(ctx, owner); err != nil {
		return nil, err
	}
	if status.WalletBalance, err = c.GetTokenBalance(ctx, owner); err != nil {
		return nil, err
	}
	if status.VaultBalance, err = c.VaultBalance(ctx); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) send(ctx context.Context, instructions ...solana.Instruction) (*solana.Signature, error) {
	blockhash, err := c.Backend.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(c.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(
		func(key solana.PublicKey) *solana.PrivateKey {
			if c.Signer.PublicKey().Equals(key) {
				return &c.Signer
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.Backend.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return &sig, nil
}

// ParseMintAccount decodes SPL token mint account data.
func ParseMintAccount(data []byte) (*token.Mint, error) {
	mint := new(token.Mint)
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mint: %w", err)
	}
	return mint, nil
}

// ParseTokenAccount decodes SPL token account data.
func ParseTokenAccount(data []byte) (*token.Account, error) {
	acc := new(token.Account)
	if err := acc.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token account: %w", err)
	}
	return acc, nil
}
