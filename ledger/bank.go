package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	staking_rewards "staking-rewards/solana"
)

// Authority is the right to move funds held by one key. It can only be
// obtained from SignerAuthority or NewProgramAuthority.
type Authority interface {
	Key() solana.PublicKey
	authorize(tx Tx) error
}

type signerAuthority struct {
	key solana.PublicKey
}

// SignerAuthority is the authority of a key that must have signed the transaction.
func SignerAuthority(key solana.PublicKey) Authority {
	return signerAuthority{key: key}
}

func (a signerAuthority) Key() solana.PublicKey {
	return a.key
}

func (a signerAuthority) authorize(tx Tx) error {
	if !tx.IsSigner(a.key) {
		return fmt.Errorf("%w: %s", staking_rewards.ErrMissingRequiredSignature, a.key)
	}
	return nil
}

type programAuthority struct {
	key       solana.PublicKey
	programID solana.PublicKey
}

// NewProgramAuthority is the derived signer of programID for the given seeds
// (bump included). It only authorizes while programID is executing.
func NewProgramAuthority(programID solana.PublicKey, seeds ...[]byte) (Authority, error) {
	key, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to create program address: %w", err)
	}
	return programAuthority{key: key, programID: programID}, nil
}

func (a programAuthority) Key() solana.PublicKey {
	return a.key
}

func (a programAuthority) authorize(tx Tx) error {
	if !tx.Invoker().Equals(a.programID) {
		return fmt.Errorf("%w: %s is not signed for by the executing program", staking_rewards.ErrMissingRequiredSignature, a.key)
	}
	return nil
}

// Bank moves token balances. It is the only writer of mints and token accounts.
type Bank struct{}

// CreateMint creates a mint at address with the given authority.
func (Bank) CreateMint(tx Tx, address, authority solana.PublicKey, decimals uint8) (*Mint, error) {
	exists, err := tx.Exists(address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", staking_rewards.ErrAccountAlreadyInUse, address)
	}
	mint := &Mint{Address: address, MintAuthority: authority, Decimals: decimals}
	if err := tx.PutMint(mint); err != nil {
		return nil, err
	}
	return mint, nil
}

// CreateTokenAccount creates an empty token account for mint owned by owner.
func (Bank) CreateTokenAccount(tx Tx, address, mint, owner solana.PublicKey) (*TokenAccount, error) {
	if _, err := loadMint(tx, mint); err != nil {
		return nil, err
	}
	exists, err := tx.Exists(address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", staking_rewards.ErrAccountAlreadyInUse, address)
	}
	account := &TokenAccount{Address: address, Mint: mint, Owner: owner}
	if err := tx.PutTokenAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

// Transfer moves amount from one token account to another under authority,
// which must be the owner of from.
func (Bank) Transfer(tx Tx, from, to solana.PublicKey, authority Authority, amount uint64) error {
	source, err := loadTokenAccount(tx, from)
	if err != nil {
		return err
	}
	destination, err := loadTokenAccount(tx, to)
	if err != nil {
		return err
	}
	if !source.Mint.Equals(destination.Mint) {
		return staking_rewards.ErrTokenMintMismatch
	}
	if !source.Owner.Equals(authority.Key()) {
		return staking_rewards.ErrTokenOwnerMismatch
	}
	if err := authority.authorize(tx); err != nil {
		return err
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", staking_rewards.ErrTokenInsufficientFunds, from, source.Amount, amount)
	}
	if from.Equals(to) {
		return nil
	}
	if destination.Amount+amount < destination.Amount {
		return staking_rewards.ErrTokenOverflow
	}

	source.Amount -= amount
	destination.Amount += amount
	if err := tx.PutTokenAccount(source); err != nil {
		return err
	}
	return tx.PutTokenAccount(destination)
}

// MintTo issues amount new tokens of mint into the token account to.
func (Bank) MintTo(tx Tx, mint, to solana.PublicKey, authority Authority, amount uint64) error {
	m, err := loadMint(tx, mint)
	if err != nil {
		return err
	}
	destination, err := loadTokenAccount(tx, to)
	if err != nil {
		return err
	}
	if !destination.Mint.Equals(mint) {
		return staking_rewards.ErrTokenMintMismatch
	}
	if !m.MintAuthority.Equals(authority.Key()) {
		return staking_rewards.ErrTokenOwnerMismatch
	}
	if err := authority.authorize(tx); err != nil {
		return err
	}
	if m.Supply+amount < m.Supply || destination.Amount+amount < destination.Amount {
		return staking_rewards.ErrTokenOverflow
	}

	m.Supply += amount
	destination.Amount += amount
	if err := tx.PutMint(m); err != nil {
		return err
	}
	return tx.PutTokenAccount(destination)
}

// Balance returns the amount held by a token account.
func (Bank) Balance(tx Tx, address solana.PublicKey) (uint64, error) {
	account, err := loadTokenAccount(tx, address)
	if err != nil {
		return 0, err
	}
	return account.Amount, nil
}

func loadMint(tx Tx, address solana.PublicKey) (*Mint, error) {
	mint, err := tx.Mint(address)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: mint %s", staking_rewards.ErrTokenUninitialized, address)
	}
	return mint, err
}

func loadTokenAccount(tx Tx, address solana.PublicKey) (*TokenAccount, error) {
	account, err := tx.TokenAccount(address)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: token account %s", staking_rewards.ErrTokenUninitialized, address)
	}
	return account, err
}
