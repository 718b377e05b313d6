package staking_rewards

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned by a Backend when an address holds no account.
var ErrAccountNotFound = errors.New("account not found")

// KeyedAccount is raw account data together with its address.
type KeyedAccount struct {
	Pubkey solana.PublicKey
	Data   []byte
}

// TransactionRecord is a processed transaction as seen by a Backend.
type TransactionRecord struct {
	Signature   solana.Signature
	Slot        uint64
	BlockTime   time.Time
	Transaction *solana.Transaction
	Err         string
	Logs        []string
}

// Backend is the ledger a Client talks to: a remote RPC node or the local runtime.
type Backend interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Slot(ctx context.Context) (uint64, error)
	AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
	TokenBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	ProgramAccounts(ctx context.Context, programID solana.PublicKey, discriminator []byte) ([]KeyedAccount, error)
	Signatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error)
	Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error)
}

// RPCBackend talks to a Solana JSON RPC endpoint.
type RPCBackend struct {
	RpcClient  *rpc.Client
	Commitment rpc.CommitmentType
}

// NewRPCBackend creates a backend for rpcEndpoint at confirmed commitment.
func NewRPCBackend(rpcEndpoint string) *RPCBackend {
	return &RPCBackend{
		RpcClient:  rpc.New(rpcEndpoint),
		Commitment: rpc.CommitmentConfirmed,
	}
}

func (b *RPCBackend) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	latest, err := b.RpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return latest.Value.Blockhash, nil
}

func (b *RPCBackend) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := b.RpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: b.Commitment,
	})
	if err != nil {
		return solana.Signature{}, DecodeError(err)
	}
	return sig, nil
}

func (b *RPCBackend) Slot(ctx context.Context) (uint64, error) {
	slot, err := b.RpcClient.GetSlot(ctx, b.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func (b *RPCBackend) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	resp, err := b.RpcClient.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: b.Commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account info for %s: %w", address, err)
	}
	if resp.Value == nil {
		return nil, ErrAccountNotFound
	}
	return resp.Value.Data.GetBinary(), nil
}

func (b *RPCBackend) TokenBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	balance, err := b.RpcClient.GetTokenAccountBalance(ctx, address, b.Commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to get token account balance for %s: %w", address, err)
	}
	if balance.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount string: %w", err)
	}
	return amount, nil
}

func (b *RPCBackend) ProgramAccounts(ctx context.Context, programID solana.PublicKey, discriminator []byte) ([]KeyedAccount, error) {
	resp, err := b.RpcClient.GetProgramAccountsWithOpts(
		ctx,
		programID,
		&rpc.GetProgramAccountsOpts{
			Commitment: b.Commitment,
			Filters: []rpc.RPCFilter{
				{
					Memcmp: &rpc.RPCFilterMemcmp{
						Offset: 0,
						Bytes:  discriminator,
					},
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}
	out := make([]KeyedAccount, 0, len(resp))
	for _, account := range resp {
		out = append(out, KeyedAccount{
			Pubkey: account.Pubkey,
			Data:   account.Account.Data.GetBinary(),
		})
	}
	return out, nil
}

func (b *RPCBackend) Signatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	signatures, err := b.RpcClient.GetSignaturesForAddressWithOpts(
		ctx,
		address,
		&rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: b.Commitment,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction signatures: %w", err)
	}
	out := make([]solana.Signature, 0, len(signatures))
	for _, sig := range signatures {
		out = append(out, sig.Signature)
	}
	return out, nil
}

func (b *RPCBackend) Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error) {
	version := uint64(0)
	tx, err := b.RpcClient.GetTransaction(
		ctx,
		sig,
		&rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     b.Commitment,
			MaxSupportedTransactionVersion: &version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", sig, err)
	}

	record := &TransactionRecord{
		Signature: sig,
		Slot:      tx.Slot,
	}
	if tx.BlockTime != nil {
		record.BlockTime = tx.BlockTime.Time()
	}
	if tx.Transaction != nil {
		parsed, err := tx.Transaction.GetTransaction()
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
		}
		record.Transaction = parsed
	}
	if tx.Meta != nil {
		record.Logs = tx.Meta.LogMessages
		if tx.Meta.Err != nil {
			record.Err = fmt.Sprint(tx.Meta.Err)
		}
	}
	return record, nil
}
