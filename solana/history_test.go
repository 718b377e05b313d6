package staking_rewards

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// historyBackend serves recorded transactions and fails the rest.
type historyBackend struct {
	Backend
	signatures []solana.Signature
	records    map[solana.Signature]*TransactionRecord
}

func (b *historyBackend) Signatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	return b.signatures, nil
}

func (b *historyBackend) Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error) {
	record, ok := b.records[sig]
	if !ok {
		return nil, errors.New("transaction not available")
	}
	return record, nil
}

func TestGetHistory_LogsSkippedEntries(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	stake, err := NewStakeInstruction(programID, owner, solana.NewWallet().PublicKey(), 5)
	require.NoError(t, err)
	tx, err := solana.NewTransaction([]solana.Instruction{stake}, solana.Hash{}, solana.TransactionPayer(owner))
	require.NoError(t, err)

	kept, missing := solana.Signature{1}, solana.Signature{2}
	backend := &historyBackend{
		signatures: []solana.Signature{kept, missing},
		records: map[solana.Signature]*TransactionRecord{
			kept: {Signature: kept, Slot: 7, BlockTime: time.Unix(1_700_000_000, 0), Transaction: tx},
		},
	}

	var buf bytes.Buffer
	client := NewReadOnlyClient(backend, programID, solana.NewWallet().PublicKey())
	client.Log = zerolog.New(&buf)

	history, err := client.GetHistory(context.Background(), owner, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, kept, history[0].Signature)
	assert.Equal(t, []string{"stake"}, history[0].Instructions)

	assert.Contains(t, buf.String(), "Skipping history entry")
	assert.Contains(t, buf.String(), missing.String())
	assert.Contains(t, buf.String(), "transaction not available")
}
