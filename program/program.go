// Package program is the staking program itself: it validates the accounts an
// instruction names, keeps the per-staker StakeInfo records, and moves tokens
// through a Custody implementation under signer or program-derived authority.
//
// Every method expects a ledger.Tx obtained from ledger.Invoke for the program
// id, so the program can sign for its derived accounts. All writes land in
// that transaction and are discarded by the store when a method fails.
package program

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"staking-rewards/ledger"
	staking_rewards "staking-rewards/solana"
)

// Custody is the token service the program moves balances through.
type Custody interface {
	CreateTokenAccount(tx ledger.Tx, address, mint, owner solana.PublicKey) (*ledger.TokenAccount, error)
	Transfer(tx ledger.Tx, from, to solana.PublicKey, authority ledger.Authority, amount uint64) error
}

type Option func(*Program)

func WithCustody(custody Custody) Option {
	return func(p *Program) {
		p.custody = custody
	}
}

func WithRewardPolicy(policy RewardPolicy) Option {
	return func(p *Program) {
		p.reward = policy
	}
}

func WithMarkerPolicy(policy MarkerPolicy) Option {
	return func(p *Program) {
		p.marker = policy
	}
}

// WithLockDuration makes a new stake period withdrawable only after d.
func WithLockDuration(d time.Duration) Option {
	return func(p *Program) {
		p.lockDuration = d
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Program) {
		p.log = log
	}
}

type Program struct {
	id           solana.PublicKey
	custody      Custody
	reward       RewardPolicy
	marker       MarkerPolicy
	lockDuration time.Duration
	log          zerolog.Logger
}

// New returns the program deployed at programID. Defaults are the ledger
// Bank, SlotReward, RefreshMarker and no lock period.
func New(programID solana.PublicKey, opts ...Option) *Program {
	p := &Program{
		id:      programID,
		custody: ledger.Bank{},
		reward:  SlotReward{},
		marker:  RefreshMarker{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Program) ID() solana.PublicKey {
	return p.id
}

// Kind classifies an error returned by the program.
func Kind(err error) staking_rewards.ErrorKind {
	return staking_rewards.KindOf(err)
}

// Process decodes one instruction addressed to the program and executes it.
func (p *Program) Process(tx ledger.Tx, accounts []*solana.AccountMeta, data []byte) error {
	inst, err := staking_rewards.DecodeInstruction(accounts, data)
	if err != nil {
		return err
	}
	tx.Log("Instruction: " + inst.Name())

	switch {
	case inst.Initialize != nil:
		return p.Initialize(tx, inst.Initialize)
	case inst.Stake != nil:
		return p.Stake(tx, inst.Stake, inst.Amount)
	case inst.Destake != nil:
		return p.Destake(tx, inst.Destake)
	default:
		return staking_rewards.ErrInstructionFallbackNotFound
	}
}

// Initialize creates the reward vault for mint.
func (p *Program) Initialize(tx ledger.Tx, accounts *staking_rewards.InitializeAccounts) error {
	if err := expectProgram("token_program", accounts.TokenProgram, solana.TokenProgramID); err != nil {
		return err
	}
	if err := expectProgram("system_program", accounts.SystemProgram, solana.SystemProgramID); err != nil {
		return err
	}
	if err := requireSigner(tx, accounts.Signer); err != nil {
		return err
	}
	vault, _, err := staking_rewards.DeriveVaultAddress(p.id)
	if err != nil {
		return fmt.Errorf("failed to derive vault address: %w", err)
	}
	if err := expectAddress("token_vault_account", accounts.TokenVaultAccount, vault); err != nil {
		return err
	}
	if _, err := loadMint(tx, accounts.Mint); err != nil {
		return err
	}

	exists, err := tx.Exists(vault)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", staking_rewards.ErrAlreadyInitialized, vault)
	}
	if _, err := p.custody.CreateTokenAccount(tx, vault, accounts.Mint, vault); err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	tx.Log(fmt.Sprintf("Vault %s created for mint %s", vault, accounts.Mint))
	p.log.Debug().Str("vault", vault.String()).Str("mint", accounts.Mint.String()).Msg("Vault initialized")
	return nil
}

// Stake moves amount from the signer's token account into their escrow and
// adds it to their principal.
func (p *Program) Stake(tx ledger.Tx, accounts *staking_rewards.StakeAccounts, amount uint64) error {
	if err := expectPrograms(accounts.TokenProgram, accounts.AssociatedTokenProgram, accounts.SystemProgram); err != nil {
		return err
	}
	if err := requireSigner(tx, accounts.Signer); err != nil {
		return err
	}
	owner := accounts.Signer

	stakeInfoAddress, _, err := staking_rewards.DeriveStakeInfoAddress(p.id, owner)
	if err != nil {
		return fmt.Errorf("failed to derive stake info address: %w", err)
	}
	if err := expectAddress("stake_info_account", accounts.StakeInfoAccount, stakeInfoAddress); err != nil {
		return err
	}
	escrowAddress, _, err := staking_rewards.DeriveStakeAccountAddress(p.id, owner)
	if err != nil {
		return fmt.Errorf("failed to derive stake account address: %w", err)
	}
	if err := expectAddress("stake_account", accounts.StakeAccount, escrowAddress); err != nil {
		return err
	}
	mint, err := loadMint(tx, accounts.Mint)
	if err != nil {
		return err
	}
	if err := checkUserTokenAccount(tx, owner, accounts.UserTokenAccount, accounts.Mint); err != nil {
		return err
	}
	if amount == 0 {
		return staking_rewards.ErrNoTokens
	}

	info, err := p.loadStakeInfo(tx, stakeInfoAddress)
	if err != nil {
		return err
	}
	if info == nil {
		info = &staking_rewards.StakeInfo{Owner: owner}
	}
	if !info.Owner.Equals(owner) {
		return fmt.Errorf("%w: record belongs to %s", staking_rewards.ErrOwnerMismatch, info.Owner)
	}

	clock := tx.Clock()
	if !info.IsStaked {
		*info = staking_rewards.StakeInfo{Owner: owner}
		if p.lockDuration > 0 {
			info.LockEndTime = clock.UnixTimestamp + int64(p.lockDuration/time.Second)
		}
	}
	pending := func() (uint64, error) {
		return p.pendingReward(info, clock, mint.Decimals)
	}
	if err := p.marker.Refresh(info, clock, pending); err != nil {
		return fmt.Errorf("failed to refresh stake marker: %w", err)
	}
	principal, err := checkedAdd(info.Principal, amount)
	if err != nil {
		return err
	}

	if err := p.ensureEscrow(tx, escrowAddress, accounts.Mint); err != nil {
		return err
	}
	if err := p.custody.Transfer(tx, accounts.UserTokenAccount, escrowAddress, ledger.SignerAuthority(owner), amount); err != nil {
		return fmt.Errorf("failed to transfer stake: %w", err)
	}

	info.Principal = principal
	info.IsStaked = true
	if err := p.storeStakeInfo(tx, stakeInfoAddress, info); err != nil {
		return err
	}

	tx.Log(fmt.Sprintf("Staked %d, principal %d", amount, info.Principal))
	p.log.Debug().Str("owner", owner.String()).Uint64("amount", amount).Uint64("principal", info.Principal).Msg("Staked")
	return nil
}

// Destake returns the whole escrow and the earned reward to the signer and
// resets their record.
func (p *Program) Destake(tx ledger.Tx, accounts *staking_rewards.DestakeAccounts) error {
	if err := expectPrograms(accounts.TokenProgram, accounts.AssociatedTokenProgram, accounts.SystemProgram); err != nil {
		return err
	}
	if err := requireSigner(tx, accounts.Signer); err != nil {
		return err
	}
	owner := accounts.Signer

	vaultAddress, vaultBump, err := staking_rewards.DeriveVaultAddress(p.id)
	if err != nil {
		return fmt.Errorf("failed to derive vault address: %w", err)
	}
	if err := expectAddress("token_vault_account", accounts.TokenVaultAccount, vaultAddress); err != nil {
		return err
	}
	stakeInfoAddress, _, err := staking_rewards.DeriveStakeInfoAddress(p.id, owner)
	if err != nil {
		return fmt.Errorf("failed to derive stake info address: %w", err)
	}
	if err := expectAddress("stake_info_account", accounts.StakeInfoAccount, stakeInfoAddress); err != nil {
		return err
	}
	escrowAddress, escrowBump, err := staking_rewards.DeriveStakeAccountAddress(p.id, owner)
	if err != nil {
		return fmt.Errorf("failed to derive stake account address: %w", err)
	}
	if err := expectAddress("stake_account", accounts.StakeAccount, escrowAddress); err != nil {
		return err
	}
	mint, err := loadMint(tx, accounts.Mint)
	if err != nil {
		return err
	}
	if err := checkUserTokenAccount(tx, owner, accounts.UserTokenAccount, accounts.Mint); err != nil {
		return err
	}

	info, err := p.loadStakeInfo(tx, stakeInfoAddress)
	if err != nil {
		return err
	}
	if info == nil || !info.IsStaked || info.Principal == 0 {
		return staking_rewards.ErrNotStaked
	}
	if !info.Owner.Equals(owner) {
		return fmt.Errorf("%w: record belongs to %s", staking_rewards.ErrOwnerMismatch, info.Owner)
	}
	clock := tx.Clock()
	if clock.UnixTimestamp < info.LockEndTime {
		return fmt.Errorf("%w: locked until %s", staking_rewards.ErrLockPeriodNotEnded, time.Unix(info.LockEndTime, 0).UTC().Format(time.RFC3339))
	}

	escrow, err := tx.TokenAccount(escrowAddress)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: stake_account %s", staking_rewards.ErrAccountNotInitialized, escrowAddress)
	}
	if err != nil {
		return err
	}
	if escrow.Amount < info.Principal {
		return fmt.Errorf("%w: escrow holds %d, principal is %d", staking_rewards.ErrEscrowMismatch, escrow.Amount, info.Principal)
	}
	vault, err := tx.TokenAccount(vaultAddress)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: token_vault_account %s", staking_rewards.ErrAccountNotInitialized, vaultAddress)
	}
	if err != nil {
		return err
	}
	if !vault.Mint.Equals(accounts.Mint) {
		return fmt.Errorf("%w: vault holds mint %s", staking_rewards.ErrConstraintTokenMint, vault.Mint)
	}

	earned, err := p.pendingReward(info, clock, mint.Decimals)
	if err != nil {
		return fmt.Errorf("failed to compute reward: %w", err)
	}
	reward, err := checkedAdd(earned, info.AccruedReward)
	if err != nil {
		return err
	}

	escrowAuthority, err := ledger.NewProgramAuthority(p.id, staking_rewards.StakeAccountSignerSeeds(owner, escrowBump)...)
	if err != nil {
		return err
	}
	// only principal leaves the escrow, tokens sent to it directly stay behind
	if err := p.custody.Transfer(tx, escrowAddress, accounts.UserTokenAccount, escrowAuthority, info.Principal); err != nil {
		return fmt.Errorf("failed to return principal: %w", err)
	}
	if reward > 0 {
		vaultAuthority, err := ledger.NewProgramAuthority(p.id, staking_rewards.VaultSignerSeeds(vaultBump)...)
		if err != nil {
			return err
		}
		if err := p.custody.Transfer(tx, vaultAddress, accounts.UserTokenAccount, vaultAuthority, reward); err != nil {
			return fmt.Errorf("failed to pay reward: %w", err)
		}
	}

	returned := info.Principal
	*info = staking_rewards.StakeInfo{
		Owner:       owner,
		StakeAtSlot: clock.Slot,
		StakedAt:    clock.UnixTimestamp,
	}
	if err := p.storeStakeInfo(tx, stakeInfoAddress, info); err != nil {
		return err
	}

	tx.Log(fmt.Sprintf("Destaked %d, reward %d", returned, reward))
	p.log.Debug().Str("owner", owner.String()).Uint64("principal", returned).Uint64("reward", reward).Msg("Destaked")
	return nil
}

func (p *Program) pendingReward(info *staking_rewards.StakeInfo, clock ledger.Clock, decimals uint8) (uint64, error) {
	in := RewardInput{Principal: info.Principal, Decimals: decimals}
	if clock.Slot > info.StakeAtSlot {
		in.Slots = clock.Slot - info.StakeAtSlot
	}
	if clock.UnixTimestamp > info.StakedAt {
		in.Seconds = uint64(clock.UnixTimestamp - info.StakedAt)
	}
	return p.reward.Reward(in)
}

// loadStakeInfo returns nil when the record does not exist yet.
func (p *Program) loadStakeInfo(tx ledger.Tx, address solana.PublicKey) (*staking_rewards.StakeInfo, error) {
	account, err := tx.DataAccount(address)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !account.Owner.Equals(p.id) {
		return nil, fmt.Errorf("stake info %s is owned by %s", address, account.Owner)
	}
	return staking_rewards.ParseAccount_StakeInfo(account.Data)
}

func (p *Program) storeStakeInfo(tx ledger.Tx, address solana.PublicKey, info *staking_rewards.StakeInfo) error {
	data, err := info.Marshal()
	if err != nil {
		return err
	}
	return tx.PutDataAccount(&ledger.DataAccount{Address: address, Owner: p.id, Data: data})
}

// ensureEscrow creates the escrow token account on first use and checks it otherwise.
func (p *Program) ensureEscrow(tx ledger.Tx, address, mint solana.PublicKey) error {
	escrow, err := tx.TokenAccount(address)
	if errors.Is(err, ledger.ErrNotFound) {
		if _, err := p.custody.CreateTokenAccount(tx, address, mint, address); err != nil {
			return fmt.Errorf("failed to create stake account: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if !escrow.Mint.Equals(mint) {
		return fmt.Errorf("%w: stake_account holds mint %s", staking_rewards.ErrConstraintTokenMint, escrow.Mint)
	}
	if !escrow.Owner.Equals(address) {
		return fmt.Errorf("%w: stake_account is owned by %s", staking_rewards.ErrConstraintTokenOwner, escrow.Owner)
	}
	return nil
}

func requireSigner(tx ledger.Tx, signer solana.PublicKey) error {
	if !tx.IsSigner(signer) {
		return fmt.Errorf("%w: %s", staking_rewards.ErrConstraintSigner, signer)
	}
	return nil
}

func expectAddress(name string, got, want solana.PublicKey) error {
	if !got.Equals(want) {
		return fmt.Errorf("%w: %s is %s, expected %s", staking_rewards.ErrConstraintSeeds, name, got, want)
	}
	return nil
}

func expectProgram(name string, got, want solana.PublicKey) error {
	if !got.Equals(want) {
		return fmt.Errorf("%w: %s is %s", staking_rewards.ErrInvalidProgramID, name, got)
	}
	return nil
}

func expectPrograms(tokenProgram, associatedTokenProgram, systemProgram solana.PublicKey) error {
	if err := expectProgram("token_program", tokenProgram, solana.TokenProgramID); err != nil {
		return err
	}
	if err := expectProgram("associated_token_program", associatedTokenProgram, staking_rewards.AssociatedTokenProgramID); err != nil {
		return err
	}
	return expectProgram("system_program", systemProgram, solana.SystemProgramID)
}

func loadMint(tx ledger.Tx, address solana.PublicKey) (*ledger.Mint, error) {
	mint, err := tx.Mint(address)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: mint %s", staking_rewards.ErrAccountNotInitialized, address)
	}
	return mint, err
}

// checkUserTokenAccount enforces the associated token account constraints on
// the staker's own account.
func checkUserTokenAccount(tx ledger.Tx, owner, address, mint solana.PublicKey) error {
	expected, _, err := staking_rewards.DeriveUserTokenAccount(owner, mint)
	if err != nil {
		return fmt.Errorf("failed to derive user token account: %w", err)
	}
	if !address.Equals(expected) {
		return fmt.Errorf("%w: user_token_account is %s, expected %s", staking_rewards.ErrConstraintAssociated, address, expected)
	}
	account, err := tx.TokenAccount(address)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: user_token_account %s", staking_rewards.ErrAccountNotInitialized, address)
	}
	if err != nil {
		return err
	}
	if !account.Mint.Equals(mint) {
		return fmt.Errorf("%w: user_token_account holds mint %s", staking_rewards.ErrConstraintTokenMint, account.Mint)
	}
	if !account.Owner.Equals(owner) {
		return fmt.Errorf("%w: user_token_account is owned by %s", staking_rewards.ErrConstraintTokenOwner, account.Owner)
	}
	return nil
}
