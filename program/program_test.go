package program

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-rewards/ledger"
	staking_rewards "staking-rewards/solana"
)

const decimals = 6

type fixedReward uint64

func (r fixedReward) Reward(RewardInput) (uint64, error) {
	return uint64(r), nil
}

type fixture struct {
	t             *testing.T
	store         *ledger.MemoryStore
	bank          ledger.Bank
	program       *Program
	programID     solana.PublicKey
	mint          solana.PublicKey
	mintAuthority solana.PublicKey
	vault         solana.PublicKey
	logs          []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:             t,
		store:         ledger.NewMemoryStore(ledger.GenesisClock(time.Unix(1_700_000_000, 0))),
		programID:     solana.NewWallet().PublicKey(),
		mint:          solana.NewWallet().PublicKey(),
		mintAuthority: solana.NewWallet().PublicKey(),
	}
	f.program = New(f.programID, opts...)

	var err error
	f.vault, _, err = staking_rewards.DeriveVaultAddress(f.programID)
	require.NoError(t, err)

	require.NoError(t, f.store.Update(context.Background(), nil, func(tx ledger.Tx) error {
		_, err := f.bank.CreateMint(tx, f.mint, f.mintAuthority, decimals)
		return err
	}))
	return f
}

// exec runs fn as the program inside one ledger transaction.
func (f *fixture) exec(signers []solana.PublicKey, fn func(tx ledger.Tx) error) error {
	return f.store.Update(context.Background(), signers, func(tx ledger.Tx) error {
		return fn(ledger.Invoke(tx, f.programID, &f.logs))
	})
}

func (f *fixture) initializeAccounts(signer solana.PublicKey) *staking_rewards.InitializeAccounts {
	return &staking_rewards.InitializeAccounts{
		Signer:            signer,
		TokenVaultAccount: f.vault,
		Mint:              f.mint,
		TokenProgram:      solana.TokenProgramID,
		SystemProgram:     solana.SystemProgramID,
	}
}

func (f *fixture) initialize() {
	f.t.Helper()
	signer := solana.NewWallet().PublicKey()
	require.NoError(f.t, f.exec([]solana.PublicKey{signer}, func(tx ledger.Tx) error {
		return f.program.Initialize(tx, f.initializeAccounts(signer))
	}))
}

func (f *fixture) addresses(owner solana.PublicKey) *staking_rewards.StakeAddresses {
	f.t.Helper()
	addrs, err := staking_rewards.DeriveStakeAddresses(f.programID, owner, f.mint)
	require.NoError(f.t, err)
	return addrs
}

func (f *fixture) stakeAccounts(owner solana.PublicKey) *staking_rewards.StakeAccounts {
	addrs := f.addresses(owner)
	return &staking_rewards.StakeAccounts{
		Signer:                 owner,
		StakeInfoAccount:       addrs.StakeInfo,
		StakeAccount:           addrs.StakeAccount,
		UserTokenAccount:       addrs.UserTokenAccount,
		Mint:                   f.mint,
		TokenProgram:           solana.TokenProgramID,
		AssociatedTokenProgram: staking_rewards.AssociatedTokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}
}

func (f *fixture) destakeAccounts(owner solana.PublicKey) *staking_rewards.DestakeAccounts {
	addrs := f.addresses(owner)
	return &staking_rewards.DestakeAccounts{
		Signer:                 owner,
		TokenVaultAccount:      addrs.Vault,
		StakeInfoAccount:       addrs.StakeInfo,
		StakeAccount:           addrs.StakeAccount,
		UserTokenAccount:       addrs.UserTokenAccount,
		Mint:                   f.mint,
		TokenProgram:           solana.TokenProgramID,
		AssociatedTokenProgram: staking_rewards.AssociatedTokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}
}

// newStaker creates an identity whose associated token account holds balance.
func (f *fixture) newStaker(balance uint64) solana.PublicKey {
	f.t.Helper()
	owner := solana.NewWallet().PublicKey()
	ata := f.addresses(owner).UserTokenAccount
	require.NoError(f.t, f.store.Update(context.Background(), []solana.PublicKey{f.mintAuthority}, func(tx ledger.Tx) error {
		if _, err := f.bank.CreateTokenAccount(tx, ata, f.mint, owner); err != nil {
			return err
		}
		return f.bank.MintTo(tx, f.mint, ata, ledger.SignerAuthority(f.mintAuthority), balance)
	}))
	return owner
}

func (f *fixture) fundVault(amount uint64) {
	f.t.Helper()
	require.NoError(f.t, f.store.Update(context.Background(), []solana.PublicKey{f.mintAuthority}, func(tx ledger.Tx) error {
		return f.bank.MintTo(tx, f.mint, f.vault, ledger.SignerAuthority(f.mintAuthority), amount)
	}))
}

func (f *fixture) stake(owner solana.PublicKey, amount uint64) error {
	return f.exec([]solana.PublicKey{owner}, func(tx ledger.Tx) error {
		return f.program.Stake(tx, f.stakeAccounts(owner), amount)
	})
}

func (f *fixture) destake(owner solana.PublicKey) error {
	return f.exec([]solana.PublicKey{owner}, func(tx ledger.Tx) error {
		return f.program.Destake(tx, f.destakeAccounts(owner))
	})
}

func (f *fixture) warp(slots uint64) {
	f.t.Helper()
	_, err := f.store.Warp(context.Background(), slots)
	require.NoError(f.t, err)
}

func (f *fixture) balance(address solana.PublicKey) uint64 {
	f.t.Helper()
	var amount uint64
	require.NoError(f.t, f.store.View(context.Background(), func(tx ledger.Tx) error {
		account, err := tx.TokenAccount(address)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		amount = account.Amount
		return nil
	}))
	return amount
}

func (f *fixture) stakeInfo(owner solana.PublicKey) *staking_rewards.StakeInfo {
	f.t.Helper()
	var info *staking_rewards.StakeInfo
	require.NoError(f.t, f.store.View(context.Background(), func(tx ledger.Tx) error {
		account, err := tx.DataAccount(f.addresses(owner).StakeInfo)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		info, err = staking_rewards.ParseAccount_StakeInfo(account.Data)
		return err
	}))
	return info
}

type snapshot struct {
	info   *staking_rewards.StakeInfo
	escrow uint64
	user   uint64
	vault  uint64
}

func (f *fixture) snapshot(owner solana.PublicKey) snapshot {
	addrs := f.addresses(owner)
	return snapshot{
		info:   f.stakeInfo(owner),
		escrow: f.balance(addrs.StakeAccount),
		user:   f.balance(addrs.UserTokenAccount),
		vault:  f.balance(addrs.Vault),
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	f.initialize()

	require.NoError(t, f.store.View(context.Background(), func(tx ledger.Tx) error {
		vault, err := tx.TokenAccount(f.vault)
		require.NoError(t, err)
		assert.Equal(t, f.mint, vault.Mint)
		assert.Equal(t, f.vault, vault.Owner)
		assert.Zero(t, vault.Amount)
		return nil
	}))
	assert.Contains(t, f.logs, "Program log: Vault "+f.vault.String()+" created for mint "+f.mint.String())
}

func TestInitialize_Errors(t *testing.T) {
	signer := solana.NewWallet().PublicKey()

	tests := []struct {
		name    string
		setup   func(f *fixture)
		mutate  func(f *fixture, accounts *staking_rewards.InitializeAccounts)
		signers []solana.PublicKey
		want    error
	}{
		{
			name:    "already initialized",
			setup:   func(f *fixture) { f.initialize() },
			signers: []solana.PublicKey{signer},
			want:    staking_rewards.ErrAlreadyInitialized,
		},
		{
			name: "vault not derived",
			mutate: func(f *fixture, accounts *staking_rewards.InitializeAccounts) {
				accounts.TokenVaultAccount = solana.NewWallet().PublicKey()
			},
			signers: []solana.PublicKey{signer},
			want:    staking_rewards.ErrConstraintSeeds,
		},
		{
			name: "unknown mint",
			mutate: func(f *fixture, accounts *staking_rewards.InitializeAccounts) {
				accounts.Mint = solana.NewWallet().PublicKey()
			},
			signers: []solana.PublicKey{signer},
			want:    staking_rewards.ErrAccountNotInitialized,
		},
		{
			name:    "missing signature",
			signers: nil,
			want:    staking_rewards.ErrConstraintSigner,
		},
		{
			name: "wrong token program",
			mutate: func(f *fixture, accounts *staking_rewards.InitializeAccounts) {
				accounts.TokenProgram = solana.Token2022ProgramID
			},
			signers: []solana.PublicKey{signer},
			want:    staking_rewards.ErrInvalidProgramID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			accounts := f.initializeAccounts(signer)
			if tt.mutate != nil {
				tt.mutate(f, accounts)
			}
			err := f.exec(tt.signers, func(tx ledger.Tx) error {
				return f.program.Initialize(tx, accounts)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStake_Accumulates(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	owner := f.newStaker(100)

	amounts := []uint64{1, 7, 30}
	var total uint64
	for _, amount := range amounts {
		require.NoError(t, f.stake(owner, amount))
		total += amount

		info := f.stakeInfo(owner)
		require.NotNil(t, info)
		assert.Equal(t, total, info.Principal)
		assert.True(t, info.IsStaked)
		assert.Equal(t, owner, info.Owner)
		assert.Equal(t, total, f.balance(f.addresses(owner).StakeAccount))
	}
	assert.Equal(t, uint64(100)-total, f.balance(f.addresses(owner).UserTokenAccount))
}

func TestStake_ZeroAmountRejected(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	owner := f.newStaker(10)

	// fresh identity
	before := f.snapshot(owner)
	assert.ErrorIs(t, f.stake(owner, 0), staking_rewards.ErrNoTokens)
	assert.Equal(t, before, f.snapshot(owner))

	// staked identity
	require.NoError(t, f.stake(owner, 4))
	before = f.snapshot(owner)
	assert.ErrorIs(t, f.stake(owner, 0), staking_rewards.ErrNoTokens)
	assert.Equal(t, before, f.snapshot(owner))

	// unstaked again
	require.NoError(t, f.destake(owner))
	before = f.snapshot(owner)
	assert.ErrorIs(t, f.stake(owner, 0), staking_rewards.ErrNoTokens)
	assert.Equal(t, before, f.snapshot(owner))
}

func TestStake_InsufficientFundsIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	owner := f.newStaker(5)

	err := f.stake(owner, 6)
	assert.ErrorIs(t, err, staking_rewards.ErrTokenInsufficientFunds)
	assert.Equal(t, staking_rewards.KindInsufficientFunds, Kind(err))

	// neither the record nor the escrow may survive the failed transaction
	assert.Nil(t, f.stakeInfo(owner))
	require.NoError(t, f.store.View(context.Background(), func(tx ledger.Tx) error {
		exists, err := tx.Exists(f.addresses(owner).StakeAccount)
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	}))
	assert.Equal(t, uint64(5), f.balance(f.addresses(owner).UserTokenAccount))
}

func TestStake_AccountValidation(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	owner := f.newStaker(10)
	other := f.newStaker(10)

	tests := []struct {
		name    string
		mutate  func(accounts *staking_rewards.StakeAccounts)
		signers []solana.PublicKey
		want    error
		kind    staking_rewards.ErrorKind
	}{
		{
			name: "stake info of another identity",
			mutate: func(accounts *staking_rewards.StakeAccounts) {
				accounts.StakeInfoAccount = f.addresses(other).StakeInfo
			},
			want: staking_rewards.ErrConstraintSeeds,
			kind: staking_rewards.KindValidation,
		},
		{
			name: "escrow of another identity",
			mutate: func(accounts *staking_rewards.StakeAccounts) {
				accounts.StakeAccount = f.addresses(other).StakeAccount
			},
			want: staking_rewards.ErrConstraintSeeds,
			kind: staking_rewards.KindValidation,
		},
		{
			name: "source account of another identity",
			mutate: func(accounts *staking_rewards.StakeAccounts) {
				accounts.UserTokenAccount = f.addresses(other).UserTokenAccount
			},
			want: staking_rewards.ErrConstraintAssociated,
			kind: staking_rewards.KindValidation,
		},
		{
			name:    "missing signature",
			signers: []solana.PublicKey{other},
			want:    staking_rewards.ErrConstraintSigner,
			kind:    staking_rewards.KindValidation,
		},
		{
			name: "unknown mint",
			mutate: func(accounts *staking_rewards.StakeAccounts) {
				accounts.Mint = solana.NewWallet().PublicKey()
			},
			want: staking_rewards.ErrAccountNotInitialized,
			kind: staking_rewards.KindState,
		},
		{
			name: "wrong associated token program",
			mutate: func(accounts *staking_rewards.StakeAccounts) {
				accounts.AssociatedTokenProgram = solana.SystemProgramID
			},
			want: staking_rewards.ErrInvalidProgramID,
			kind: staking_rewards.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := f.stakeAccounts(owner)
			if tt.mutate != nil {
				tt.mutate(accounts)
			}
			signers := tt.signers
			if signers == nil {
				signers = []solana.PublicKey{owner}
			}
			before, otherBefore := f.snapshot(owner), f.snapshot(other)

			err := f.exec(signers, func(tx ledger.Tx) error {
				return f.program.Stake(tx, accounts, 1)
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, Kind(err))
			assert.Equal(t, before, f.snapshot(owner))
			assert.Equal(t, otherBefore, f.snapshot(other))
		})
	}
}

func TestDestake_Scenario(t *testing.T) {
	const reward = 1_000_000_000
	f := newFixture(t, WithRewardPolicy(fixedReward(reward)))
	f.initialize()
	owner := f.newStaker(1)
	addrs := f.addresses(owner)
	assert.Zero(t, f.balance(f.vault))

	require.NoError(t, f.stake(owner, 1))
	assert.Equal(t, uint64(1), f.balance(addrs.StakeAccount))
	info := f.stakeInfo(owner)
	assert.Equal(t, uint64(1), info.Principal)
	assert.True(t, info.IsStaked)

	f.fundVault(reward)
	userBefore := f.balance(addrs.UserTokenAccount)

	require.NoError(t, f.destake(owner))
	assert.Zero(t, f.balance(addrs.StakeAccount))
	info = f.stakeInfo(owner)
	assert.Zero(t, info.Principal)
	assert.False(t, info.IsStaked)
	assert.Zero(t, info.AccruedReward)
	assert.Equal(t, userBefore+1+reward, f.balance(addrs.UserTokenAccount))
	assert.Zero(t, f.balance(f.vault))
}

func TestDestake_PaysPrincipalNotEscrowSurplus(t *testing.T) {
	f := newFixture(t, WithRewardPolicy(fixedReward(7)))
	f.initialize()
	f.fundVault(7)
	owner := f.newStaker(20)
	addrs := f.addresses(owner)
	require.NoError(t, f.stake(owner, 20))

	require.NoError(t, f.store.Update(context.Background(), []solana.PublicKey{f.mintAuthority}, func(tx ledger.Tx) error {
		return f.bank.MintTo(tx, f.mint, addrs.StakeAccount, ledger.SignerAuthority(f.mintAuthority), 5)
	}))
	assert.Equal(t, uint64(25), f.balance(addrs.StakeAccount))

	require.NoError(t, f.destake(owner))
	assert.Equal(t, uint64(20+7), f.balance(addrs.UserTokenAccount))
	assert.Equal(t, uint64(5), f.balance(addrs.StakeAccount))
	assert.Zero(t, f.stakeInfo(owner).Principal)
}

func TestDestake_SlotReward(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	owner := f.newStaker(50)
	f.fundVault(1_000_000_000)

	require.NoError(t, f.stake(owner, 50))
	f.warp(5)
	require.NoError(t, f.destake(owner))

	// five slots at one whole token each
	assert.Equal(t, uint64(50+5_000_000), f.balance(f.addresses(owner).UserTokenAccount))
	assert.Equal(t, uint64(1_000_000_000-5_000_000), f.balance(f.vault))
}

func TestDestake_NotStaked(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	f.fundVault(100)
	owner := f.newStaker(10)

	before := f.snapshot(owner)
	err := f.destake(owner)
	assert.ErrorIs(t, err, staking_rewards.ErrNotStaked)
	assert.Equal(t, staking_rewards.KindState, Kind(err))
	assert.Equal(t, before, f.snapshot(owner))

	require.NoError(t, f.stake(owner, 10))
	require.NoError(t, f.destake(owner))

	before = f.snapshot(owner)
	assert.ErrorIs(t, f.destake(owner), staking_rewards.ErrNotStaked)
	assert.Equal(t, before, f.snapshot(owner))
}

func TestDestake_VaultShortIsAtomic(t *testing.T) {
	f := newFixture(t, WithRewardPolicy(fixedReward(10)))
	f.initialize()
	f.fundVault(9)
	owner := f.newStaker(3)
	require.NoError(t, f.stake(owner, 3))

	before := f.snapshot(owner)
	err := f.destake(owner)
	assert.ErrorIs(t, err, staking_rewards.ErrTokenInsufficientFunds)
	assert.Equal(t, before, f.snapshot(owner))
	assert.Equal(t, uint64(3), before.escrow)
}

func TestDestake_Uninitialized(t *testing.T) {
	f := newFixture(t, WithRewardPolicy(NoReward{}))
	owner := f.newStaker(3)
	require.NoError(t, f.stake(owner, 3))

	err := f.destake(owner)
	assert.ErrorIs(t, err, staking_rewards.ErrAccountNotInitialized)
}

func TestDestake_LockPeriod(t *testing.T) {
	f := newFixture(t, WithLockDuration(10*time.Second), WithRewardPolicy(NoReward{}))
	f.initialize()
	owner := f.newStaker(3)
	require.NoError(t, f.stake(owner, 3))

	info := f.stakeInfo(owner)
	assert.Equal(t, info.StakedAt+10, info.LockEndTime)

	assert.ErrorIs(t, f.destake(owner), staking_rewards.ErrLockPeriodNotEnded)
	f.warp(10)
	assert.ErrorIs(t, f.destake(owner), staking_rewards.ErrLockPeriodNotEnded)

	// 25 slots of 400ms
	f.warp(15)
	require.NoError(t, f.destake(owner))
	assert.Zero(t, f.stakeInfo(owner).LockEndTime)
	assert.Equal(t, uint64(3), f.balance(f.addresses(owner).UserTokenAccount))
}

func TestRestakeAfterDestakeIsClean(t *testing.T) {
	f := newFixture(t, WithLockDuration(time.Minute), WithRewardPolicy(NoReward{}))
	f.initialize()
	veteran := f.newStaker(20)

	require.NoError(t, f.stake(veteran, 12))
	f.warp(200)
	require.NoError(t, f.destake(veteran))
	f.warp(3)

	newcomer := f.newStaker(20)
	require.NoError(t, f.stake(veteran, 5))
	require.NoError(t, f.stake(newcomer, 5))

	got, want := f.stakeInfo(veteran), f.stakeInfo(newcomer)
	want.Owner = veteran
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(5), f.balance(f.addresses(veteran).StakeAccount))
}

func TestIdentitiesAreIsolated(t *testing.T) {
	f := newFixture(t, WithRewardPolicy(NoReward{}))
	f.initialize()
	alice := f.newStaker(10)
	bob := f.newStaker(10)

	aliceAddrs, bobAddrs := f.addresses(alice), f.addresses(bob)
	assert.NotEqual(t, aliceAddrs.StakeInfo, bobAddrs.StakeInfo)
	assert.NotEqual(t, aliceAddrs.StakeAccount, bobAddrs.StakeAccount)

	require.NoError(t, f.stake(alice, 3))
	require.NoError(t, f.stake(bob, 8))
	require.NoError(t, f.destake(alice))

	assert.Zero(t, f.balance(aliceAddrs.StakeAccount))
	assert.Equal(t, uint64(8), f.balance(bobAddrs.StakeAccount))
	assert.Equal(t, uint64(8), f.stakeInfo(bob).Principal)
	assert.True(t, f.stakeInfo(bob).IsStaked)
}

func TestStake_RefreshMarkerForfeitsPeriod(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	f.fundVault(1_000_000_000)
	owner := f.newStaker(10)

	require.NoError(t, f.stake(owner, 5))
	f.warp(4)
	require.NoError(t, f.stake(owner, 5))

	info := f.stakeInfo(owner)
	assert.Equal(t, uint64(4), info.StakeAtSlot)
	assert.Zero(t, info.AccruedReward)

	f.warp(2)
	require.NoError(t, f.destake(owner))
	assert.Equal(t, uint64(10+2_000_000), f.balance(f.addresses(owner).UserTokenAccount))
}

func TestStake_CheckpointMarkerKeepsPeriod(t *testing.T) {
	f := newFixture(t, WithMarkerPolicy(CheckpointMarker{}))
	f.initialize()
	f.fundVault(1_000_000_000)
	owner := f.newStaker(10)

	require.NoError(t, f.stake(owner, 5))
	f.warp(4)
	require.NoError(t, f.stake(owner, 5))

	info := f.stakeInfo(owner)
	assert.Equal(t, uint64(4), info.StakeAtSlot)
	assert.Equal(t, uint64(4_000_000), info.AccruedReward)

	f.warp(2)
	require.NoError(t, f.destake(owner))
	assert.Equal(t, uint64(10+6_000_000), f.balance(f.addresses(owner).UserTokenAccount))
	assert.Zero(t, f.stakeInfo(owner).AccruedReward)
}

func TestProcess(t *testing.T) {
	f := newFixture(t, WithRewardPolicy(NoReward{}))
	owner := f.newStaker(10)

	process := func(signer solana.PublicKey, inst solana.Instruction) error {
		data, err := inst.Data()
		require.NoError(t, err)
		return f.exec([]solana.PublicKey{signer}, func(tx ledger.Tx) error {
			return f.program.Process(tx, inst.Accounts(), data)
		})
	}

	initialize, err := staking_rewards.NewInitializeInstruction(f.programID, owner, f.mint)
	require.NoError(t, err)
	require.NoError(t, process(owner, initialize))

	stake, err := staking_rewards.NewStakeInstruction(f.programID, owner, f.mint, 6)
	require.NoError(t, err)
	require.NoError(t, process(owner, stake))
	assert.Equal(t, uint64(6), f.stakeInfo(owner).Principal)

	destake, err := staking_rewards.NewDestakeInstruction(f.programID, owner, f.mint)
	require.NoError(t, err)
	require.NoError(t, process(owner, destake))
	assert.Equal(t, uint64(10), f.balance(f.addresses(owner).UserTokenAccount))

	assert.Contains(t, f.logs, "Program log: Instruction: Stake")
	assert.Contains(t, f.logs, "Program log: Destaked 6, reward 0")

	err = f.exec(nil, func(tx ledger.Tx) error {
		return f.program.Process(tx, initialize.Accounts(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	})
	assert.ErrorIs(t, err, staking_rewards.ErrInstructionFallbackNotFound)
}
