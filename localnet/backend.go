package localnet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"staking-rewards/ledger"
	staking_rewards "staking-rewards/solana"
)

var _ staking_rewards.Backend = (*Runtime)(nil)

// LatestBlockhash hashes the current slot and the journal length, so it
// changes after every processed transaction and repeating an operation signs
// a new transaction. Blockhashes are not checked when processing, the ledger
// has no expiry.
func (r *Runtime) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	clock, err := r.clock(ctx)
	if err != nil {
		return solana.Hash{}, err
	}
	processed, err := r.store.JournalLen(ctx)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to read journal length: %w", err)
	}
	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[:8], clock.Slot)
	binary.LittleEndian.PutUint64(seed[8:], processed)
	return solana.Hash(sha256.Sum256(seed[:])), nil
}

func (r *Runtime) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return r.Process(ctx, tx)
}

func (r *Runtime) Slot(ctx context.Context) (uint64, error) {
	clock, err := r.clock(ctx)
	if err != nil {
		return 0, err
	}
	return clock.Slot, nil
}

// clock reads the current ledger clock.
func (r *Runtime) clock(ctx context.Context) (ledger.Clock, error) {
	var clock ledger.Clock
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		clock = tx.Clock()
		return nil
	})
	return clock, err
}

// AccountData serves mints and token accounts in the SPL token layout and
// program accounts as stored.
func (r *Runtime) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	var data []byte
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		if mint, err := tx.Mint(address); err == nil {
			data, err = encodeMint(mint)
			return err
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if account, err := tx.TokenAccount(address); err == nil {
			data, err = encodeTokenAccount(account)
			return err
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		account, err := tx.DataAccount(address)
		if errors.Is(err, ledger.ErrNotFound) {
			return staking_rewards.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		data = account.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Runtime) TokenBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var amount uint64
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		account, err := tx.TokenAccount(address)
		if errors.Is(err, ledger.ErrNotFound) {
			return staking_rewards.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		amount = account.Amount
		return nil
	})
	return amount, err
}

func (r *Runtime) ProgramAccounts(ctx context.Context, programID solana.PublicKey, discriminator []byte) ([]staking_rewards.KeyedAccount, error) {
	var out []staking_rewards.KeyedAccount
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		accounts, err := tx.DataAccounts(programID)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			if !bytes.HasPrefix(account.Data, discriminator) {
				continue
			}
			out = append(out, staking_rewards.KeyedAccount{Pubkey: account.Address, Data: account.Data})
		}
		return nil
	})
	return out, err
}

func (r *Runtime) Signatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	entries, err := r.store.Journal(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	out := make([]solana.Signature, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Signature)
	}
	return out, nil
}

func (r *Runtime) Transaction(ctx context.Context, sig solana.Signature) (*staking_rewards.TransactionRecord, error) {
	entry, err := r.store.JournalEntry(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", sig, err)
	}
	tx, err := solana.TransactionFromBytes(entry.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
	}
	return &staking_rewards.TransactionRecord{
		Signature:   entry.Signature,
		Slot:        entry.Slot,
		BlockTime:   time.Unix(entry.BlockTime, 0),
		Transaction: tx,
		Err:         entry.Err,
		Logs:        entry.Logs,
	}, nil
}

func encodeMint(mint *ledger.Mint) ([]byte, error) {
	authority := mint.MintAuthority
	buf := new(bytes.Buffer)
	err := token.Mint{
		MintAuthority: &authority,
		Supply:        mint.Supply,
		Decimals:      mint.Decimals,
		IsInitialized: true,
	}.MarshalWithEncoder(bin.NewBinEncoder(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to encode mint %s: %w", mint.Address, err)
	}
	return buf.Bytes(), nil
}

func encodeTokenAccount(account *ledger.TokenAccount) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := token.Account{
		Mint:   account.Mint,
		Owner:  account.Owner,
		Amount: account.Amount,
		State:  token.Initialized,
	}.MarshalWithEncoder(bin.NewBinEncoder(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to encode token account %s: %w", account.Address, err)
	}
	return buf.Bytes(), nil
}
