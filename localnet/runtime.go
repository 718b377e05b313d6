// Package localnet executes signed Solana transactions against a local ledger.
// It runs the staking program together with the subset of the token and
// associated token account programs the staking flow needs, and serves the
// result to clients through the staking_rewards.Backend interface.
package localnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"staking-rewards/ledger"
	"staking-rewards/metrics"
	"staking-rewards/program"
	staking_rewards "staking-rewards/solana"
)

var (
	ErrAlreadyProcessed         = errors.New("transaction already processed")
	ErrUnsupportedProgram       = errors.New("unsupported program")
	ErrUnsupportedInstruction   = errors.New("unsupported instruction")
	ErrInvalidAssociatedAddress = errors.New("provided address does not match the associated token address")
)

// InstructionError reports which instruction of a transaction failed.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

type Option func(*Runtime)

func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Runtime) {
		r.metrics = collector
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Runtime) {
		r.log = log
	}
}

// Runtime processes one transaction at a time. Each transaction runs in a
// single ledger update, so it either applies completely or not at all.
type Runtime struct {
	mu      sync.Mutex
	store   ledger.Store
	program *program.Program
	bank    ledger.Bank
	metrics *metrics.Collector
	log     zerolog.Logger
}

func New(store ledger.Store, prog *program.Program, opts ...Option) *Runtime {
	r := &Runtime{
		store:   store,
		program: prog,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) ProgramID() solana.PublicKey {
	return r.program.ID()
}

// Process verifies and executes tx. Failed transactions are journaled too,
// so a signature can never be replayed.
func (r *Runtime) Process(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("%w: transaction has no signatures", staking_rewards.ErrMissingRequiredSignature)
	}
	sig := tx.Signatures[0]
	if err := tx.VerifySignatures(); err != nil {
		return sig, fmt.Errorf("%w: %v", staking_rewards.ErrMissingRequiredSignature, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return sig, fmt.Errorf("failed to encode transaction: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.JournalEntry(ctx, sig); err == nil {
		return sig, fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return sig, err
	}

	var (
		logs  []string
		names []string
		clock ledger.Clock
	)
	execErr := r.store.Update(ctx, tx.Message.Signers(), func(ltx ledger.Tx) error {
		clock = ltx.Clock()
		names = names[:0]
		logs = logs[:0]
		for i, compiled := range tx.Message.Instructions {
			programID, err := tx.ResolveProgramIDIndex(compiled.ProgramIDIndex)
			if err != nil {
				return &InstructionError{Index: i, Err: err}
			}
			accounts, err := compiled.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				return &InstructionError{Index: i, Err: err}
			}
			name := staking_rewards.DescribeInstruction(r.program.ID(), programID, compiled.Data)
			names = append(names, name)
			if err := r.execute(ltx, programID, name, accounts, compiled.Data, &logs); err != nil {
				return &InstructionError{Index: i, Err: err}
			}
		}
		return nil
	})
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return sig, execErr
	}

	entry := &ledger.JournalEntry{
		ID:        uuid.New(),
		Signature: sig,
		Slot:      clock.Slot,
		BlockTime: clock.UnixTimestamp,
		Raw:       raw,
		Logs:      logs,
		Accounts:  tx.Message.AccountKeys,
	}
	if execErr != nil {
		entry.Err = execErr.Error()
	}
	if err := r.store.AppendJournal(ctx, entry); err != nil {
		return sig, fmt.Errorf("failed to journal transaction %s: %w", sig, err)
	}

	outcome := outcomeOf(execErr)
	r.metrics.ObserveTransaction(outcome, time.Since(start))
	event := r.log.Info()
	if execErr != nil {
		event = r.log.Warn().Err(execErr)
	}
	event.
		Str("signature", sig.String()).
		Str("journal_id", entry.ID.String()).
		Uint64("slot", clock.Slot).
		Strs("instructions", names).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).
		Msg("Processed transaction")

	return sig, execErr
}

func (r *Runtime) execute(tx ledger.Tx, programID solana.PublicKey, name string, accounts []*solana.AccountMeta, data []byte, logs *[]string) (err error) {
	*logs = append(*logs, fmt.Sprintf("Program %s invoke [1]", programID))
	defer func() {
		if err != nil {
			*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", programID, err))
		} else {
			*logs = append(*logs, fmt.Sprintf("Program %s success", programID))
		}
		r.metrics.ObserveInstruction(programLabel(r.program.ID(), programID), name, outcomeOf(err))
	}()

	inner := ledger.Invoke(tx, programID, logs)
	switch {
	case programID.Equals(r.program.ID()):
		return r.program.Process(inner, accounts, data)
	case programID.Equals(solana.TokenProgramID):
		return r.executeToken(inner, accounts, data)
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return r.executeAssociatedTokenAccount(inner, accounts, data)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProgram, programID)
	}
}

func (r *Runtime) executeToken(tx ledger.Tx, accounts []*solana.AccountMeta, data []byte) error {
	inst, err := token.DecodeInstruction(accounts, data)
	if err != nil {
		return fmt.Errorf("failed to decode token instruction: %w", err)
	}

	switch impl := inst.Impl.(type) {
	case *token.Transfer:
		tx.Log("Instruction: Transfer")
		return r.bank.Transfer(tx,
			impl.GetSourceAccount().PublicKey,
			impl.GetDestinationAccount().PublicKey,
			ledger.SignerAuthority(impl.GetOwnerAccount().PublicKey),
			*impl.Amount,
		)
	case *token.MintTo:
		tx.Log("Instruction: MintTo")
		return r.bank.MintTo(tx,
			impl.GetMintAccount().PublicKey,
			impl.GetDestinationAccount().PublicKey,
			ledger.SignerAuthority(impl.GetAuthorityAccount().PublicKey),
			*impl.Amount,
		)
	default:
		return fmt.Errorf("%w: token %s", ErrUnsupportedInstruction, token.InstructionIDToName(data[0]))
	}
}

// executeAssociatedTokenAccount handles Create (empty data or 0) and
// CreateIdempotent (1).
func (r *Runtime) executeAssociatedTokenAccount(tx ledger.Tx, accounts []*solana.AccountMeta, data []byte) error {
	idempotent := false
	if len(data) > 0 {
		switch data[0] {
		case 0:
		case 1:
			idempotent = true
		default:
			return fmt.Errorf("%w: associated token account instruction %d", ErrUnsupportedInstruction, data[0])
		}
	}

	var create associatedtokenaccount.Create
	if err := create.SetAccounts(accounts); err != nil {
		return fmt.Errorf("failed to decode associated token account instruction: %w", err)
	}
	address, _, err := solana.FindAssociatedTokenAddress(create.Wallet, create.Mint)
	if err != nil {
		return fmt.Errorf("failed to find associated token address: %w", err)
	}
	if !accounts[1].PublicKey.Equals(address) {
		return fmt.Errorf("%w: got %s, expected %s", ErrInvalidAssociatedAddress, accounts[1].PublicKey, address)
	}
	if !tx.IsSigner(create.Payer) {
		return fmt.Errorf("%w: payer %s", staking_rewards.ErrMissingRequiredSignature, create.Payer)
	}

	if idempotent {
		existing, err := tx.TokenAccount(address)
		switch {
		case err == nil:
			if !existing.Owner.Equals(create.Wallet) || !existing.Mint.Equals(create.Mint) {
				return fmt.Errorf("%w: %s", staking_rewards.ErrTokenOwnerMismatch, address)
			}
			return nil
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}
	}

	tx.Log("Create")
	if _, err := r.bank.CreateTokenAccount(tx, address, create.Mint, create.Wallet); err != nil {
		return err
	}
	return nil
}

// CreateMint creates a mint outside of any transaction. It is the one
// administrative write the runtime offers besides Warp.
func (r *Runtime) CreateMint(ctx context.Context, address, authority solana.PublicKey, decimals uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.Update(ctx, nil, func(tx ledger.Tx) error {
		_, err := r.bank.CreateMint(tx, address, authority, decimals)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create mint %s: %w", address, err)
	}
	r.log.Info().Str("mint", address.String()).Str("authority", authority.String()).Uint8("decimals", decimals).Msg("Created mint")
	return nil
}

// Warp advances the ledger clock by slots.
func (r *Runtime) Warp(ctx context.Context, slots uint64) (ledger.Clock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clock, err := r.store.Warp(ctx, slots)
	if err != nil {
		return ledger.Clock{}, fmt.Errorf("failed to warp ledger: %w", err)
	}
	r.metrics.SetSlot(clock.Slot)
	r.log.Info().Uint64("slot", clock.Slot).Int64("unix_timestamp", clock.UnixTimestamp).Msg("Warped ledger clock")
	return clock, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return program.Kind(err).String()
}

func programLabel(stakingProgramID, programID solana.PublicKey) string {
	switch {
	case programID.Equals(stakingProgramID):
		return "staking"
	case programID.Equals(solana.TokenProgramID):
		return "token"
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return "associated_token_account"
	default:
		return "other"
	}
}
