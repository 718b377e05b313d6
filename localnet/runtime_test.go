package localnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-rewards/ledger"
	"staking-rewards/metrics"
	"staking-rewards/program"
	staking_rewards "staking-rewards/solana"
)

const reward = 5_000_000

var genesis = ledger.GenesisClock(time.Unix(1_700_000_000, 0))

type localnet struct {
	runtime   *Runtime
	programID solana.PublicKey
	mint      solana.PublicKey
	admin     *staking_rewards.Client
}

func stores(t *testing.T) map[string]ledger.Store {
	t.Helper()
	sq, err := ledger.OpenSQLite(context.Background(), ":memory:", genesis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]ledger.Store{
		"memory": ledger.NewMemoryStore(genesis),
		"sqlite": sq,
	}
}

// newLocalnet starts a runtime whose admin owns the mint and holds a funded token account.
func newLocalnet(t *testing.T, store ledger.Store, opts ...program.Option) *localnet {
	t.Helper()
	ctx := context.Background()

	collector, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	programID := solana.NewWallet().PublicKey()
	ln := &localnet{
		runtime:   New(store, program.New(programID, opts...), WithMetrics(collector)),
		programID: programID,
		mint:      solana.NewWallet().PublicKey(),
	}
	admin := solana.NewWallet()
	require.NoError(t, ln.runtime.CreateMint(ctx, ln.mint, admin.PublicKey(), 6))

	ln.admin = staking_rewards.NewClient(ln.runtime, admin.PrivateKey, programID, ln.mint)
	_, err = ln.admin.CreateTokenAccount(ctx, admin.PublicKey())
	require.NoError(t, err)
	_, err = ln.admin.MintTo(ctx, admin.PublicKey(), 1_000_000_000)
	require.NoError(t, err)
	return ln
}

// newUser returns a client for a fresh identity holding balance tokens.
func (ln *localnet) newUser(t *testing.T, balance uint64) *staking_rewards.Client {
	t.Helper()
	ctx := context.Background()
	user := solana.NewWallet()
	_, err := ln.admin.CreateTokenAccount(ctx, user.PublicKey())
	require.NoError(t, err)
	if balance > 0 {
		_, err = ln.admin.MintTo(ctx, user.PublicKey(), balance)
		require.NoError(t, err)
	}
	return staking_rewards.NewClient(ln.runtime, user.PrivateKey, ln.programID, ln.mint)
}

func fixedReward(t *testing.T) program.Option {
	t.Helper()
	policy, err := program.NewExprReward("5000000")
	require.NoError(t, err)
	return program.WithRewardPolicy(policy)
}

func TestRuntime_StakeDestakeScenario(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ln := newLocalnet(t, store, fixedReward(t))
			user := ln.newUser(t, 1)

			_, err := user.Initialize(ctx)
			require.NoError(t, err)
			vault, err := user.VaultBalance(ctx)
			require.NoError(t, err)
			assert.Zero(t, vault)

			_, err = user.Stake(ctx, 1)
			require.NoError(t, err)
			status, err := user.GetStakeStatus(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.True(t, status.Staked)
			assert.Equal(t, uint64(1), status.Principal)
			assert.Equal(t, uint64(1), status.EscrowBalance)
			assert.Zero(t, status.WalletBalance)

			_, err = ln.admin.FundVault(ctx, reward)
			require.NoError(t, err)
			_, err = user.Destake(ctx)
			require.NoError(t, err)

			status, err = user.GetStakeStatus(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.False(t, status.Staked)
			assert.Zero(t, status.Principal)
			assert.Zero(t, status.EscrowBalance)
			assert.Equal(t, uint64(1+reward), status.WalletBalance)
			assert.Zero(t, status.VaultBalance)

			info, err := user.FetchStakeInfo(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.Equal(t, user.PublicKey(), info.Owner)
			assert.False(t, info.IsStaked)
		})
	}
}

func TestRuntime_SlotRewardAfterWarp(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))
	user := ln.newUser(t, 100)

	_, err := user.Initialize(ctx)
	require.NoError(t, err)
	_, err = ln.admin.FundVault(ctx, 100_000_000)
	require.NoError(t, err)
	_, err = user.Stake(ctx, 100)
	require.NoError(t, err)

	clock, err := ln.runtime.Warp(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), clock.Slot)

	status, err := user.GetStakeStatus(ctx, user.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), status.ElapsedSlots)

	_, err = user.Destake(ctx)
	require.NoError(t, err)
	balance, err := user.GetTokenBalance(ctx, user.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(100+3_000_000), balance)
}

func TestRuntime_FailedTransactionIsAtomic(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ln := newLocalnet(t, store)
			user := ln.newUser(t, 10)
			_, err := user.Initialize(ctx)
			require.NoError(t, err)

			source, _, err := staking_rewards.DeriveUserTokenAccount(user.PublicKey(), ln.mint)
			require.NoError(t, err)
			vault, _, err := staking_rewards.DeriveVaultAddress(ln.programID)
			require.NoError(t, err)

			fund, err := token.NewTransferInstruction(4, source, vault, user.PublicKey(), nil).ValidateAndBuild()
			require.NoError(t, err)
			stake, err := staking_rewards.NewStakeInstruction(ln.programID, user.PublicKey(), ln.mint, 7)
			require.NoError(t, err)

			tx := signedTransaction(t, ln.runtime, user.Signer, fund, stake)
			sig, err := ln.runtime.Process(ctx, tx)
			require.Error(t, err)
			assert.ErrorIs(t, err, staking_rewards.ErrTokenInsufficientFunds)
			var instErr *InstructionError
			require.True(t, errors.As(err, &instErr))
			assert.Equal(t, 1, instErr.Index)

			// the transfer in instruction 0 must be rolled back with the stake
			balance, err := user.GetTokenBalance(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.Equal(t, uint64(10), balance)
			vaultBalance, err := user.VaultBalance(ctx)
			require.NoError(t, err)
			assert.Zero(t, vaultBalance)
			_, err = user.FetchStakeInfo(ctx, user.PublicKey())
			assert.ErrorIs(t, err, staking_rewards.ErrAccountNotFound)

			record, err := ln.runtime.Transaction(ctx, sig)
			require.NoError(t, err)
			assert.Contains(t, record.Err, "Error processing Instruction 1")
			assert.Contains(t, record.Logs, "Program "+solana.TokenProgramID.String()+" success")
			assert.Contains(t, record.Logs, "Program log: Instruction: Stake")

			_, err = ln.runtime.Process(ctx, tx)
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		})
	}
}

func TestRuntime_RejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))
	user := ln.newUser(t, 10)

	stake, err := staking_rewards.NewStakeInstruction(ln.programID, user.PublicKey(), ln.mint, 1)
	require.NoError(t, err)
	tx := signedTransaction(t, ln.runtime, user.Signer, stake)
	tx.Message.RecentBlockhash = solana.Hash{1}

	_, err = ln.runtime.Process(ctx, tx)
	assert.ErrorIs(t, err, staking_rewards.ErrMissingRequiredSignature)

	status, err := user.GetStakeStatus(ctx, user.PublicKey())
	require.NoError(t, err)
	assert.Zero(t, status.EscrowBalance)
}

func TestRuntime_UnsupportedProgram(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))
	user := ln.newUser(t, 0)

	transfer, err := system.NewTransferInstruction(1, user.PublicKey(), solana.NewWallet().PublicKey()).ValidateAndBuild()
	require.NoError(t, err)
	_, err = ln.runtime.Process(ctx, signedTransaction(t, ln.runtime, user.Signer, transfer))
	assert.ErrorIs(t, err, ErrUnsupportedProgram)
}

func TestRuntime_CreateTokenAccountTwice(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))
	owner := solana.NewWallet().PublicKey()

	_, err := ln.admin.CreateTokenAccount(ctx, owner)
	require.NoError(t, err)
	_, err = ln.admin.CreateTokenAccount(ctx, owner)
	assert.ErrorIs(t, err, staking_rewards.ErrAccountAlreadyInUse)
}

func TestRuntime_RepeatedOperationsInOneSlot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ln := newLocalnet(t, store, program.WithRewardPolicy(program.NoReward{}))
			user := ln.newUser(t, 10)

			_, err := user.Initialize(ctx)
			require.NoError(t, err)
			_, err = user.Stake(ctx, 1)
			require.NoError(t, err)
			_, err = user.Stake(ctx, 1)
			require.NoError(t, err)
			_, err = ln.admin.FundVault(ctx, 5)
			require.NoError(t, err)
			_, err = ln.admin.FundVault(ctx, 5)
			require.NoError(t, err)

			info, err := user.FetchStakeInfo(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.Equal(t, uint64(2), info.Principal)
			vault, err := user.VaultBalance(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), vault)

			_, err = user.Destake(ctx)
			require.NoError(t, err)
			_, err = user.Stake(ctx, 2)
			require.NoError(t, err)
			info, err = user.FetchStakeInfo(ctx, user.PublicKey())
			require.NoError(t, err)
			assert.True(t, info.IsStaked)
			assert.Equal(t, uint64(2), info.Principal)

			slot, err := ln.runtime.Slot(ctx)
			require.NoError(t, err)
			assert.Zero(t, slot)
		})
	}
}

func TestRuntime_BlockhashChangesPerTransaction(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))

	before, err := ln.runtime.LatestBlockhash(ctx)
	require.NoError(t, err)
	again, err := ln.runtime.LatestBlockhash(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, again)

	_, err = ln.admin.CreateTokenAccount(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	after, err := ln.runtime.LatestBlockhash(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestRuntime_MintToRequiresAuthority(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis))
	user := ln.newUser(t, 0)

	_, err := user.MintTo(ctx, user.PublicKey(), 10)
	assert.ErrorIs(t, err, staking_rewards.ErrTokenOwnerMismatch)

	mint, err := user.FetchMint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, uint64(1_000_000_000), mint.Supply)
	require.NotNil(t, mint.MintAuthority)
	assert.Equal(t, ln.admin.PublicKey(), *mint.MintAuthority)
}

func TestRuntime_HistoryAndStakers(t *testing.T) {
	ctx := context.Background()
	ln := newLocalnet(t, ledger.NewMemoryStore(genesis), program.WithRewardPolicy(program.NoReward{}))
	alice := ln.newUser(t, 50)
	bob := ln.newUser(t, 50)

	_, err := alice.Initialize(ctx)
	require.NoError(t, err)
	_, err = alice.Stake(ctx, 20)
	require.NoError(t, err)
	_, err = bob.Stake(ctx, 30)
	require.NoError(t, err)

	history, err := alice.GetHistory(ctx, alice.PublicKey(), 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	var names [][]string
	for _, entry := range history {
		names = append(names, entry.Instructions)
	}
	// minting touches the token account, not the wallet
	assert.ElementsMatch(t, [][]string{{"ata:create"}, {"initialize"}, {"stake"}}, names)

	stakers, err := alice.FetchAllStakeInfos(ctx)
	require.NoError(t, err)
	require.Len(t, stakers, 2)
	assert.Equal(t, bob.PublicKey(), stakers[0].Owner)
	assert.Equal(t, alice.PublicKey(), stakers[1].Owner)

	total, err := staking_rewards.TotalStaked(stakers)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), total)
}

func signedTransaction(t *testing.T, backend staking_rewards.Backend, signer solana.PrivateKey, instructions ...solana.Instruction) *solana.Transaction {
	t.Helper()
	blockhash, err := backend.LatestBlockhash(context.Background())
	require.NoError(t, err)
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(signer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}
