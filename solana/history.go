package staking_rewards

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// HistoryEntry is one transaction touching an address.
type HistoryEntry struct {
	Signature    solana.Signature `json:"signature"`
	Slot         uint64           `json:"slot"`
	Timestamp    time.Time        `json:"timestamp"`
	Instructions []string         `json:"instructions"`
	Err          string           `json:"err,omitempty"`
}

// GetHistory fetches the most recent transactions touching address, newest first.
func (c *Client) GetHistory(ctx context.Context, address solana.PublicKey, limit int) ([]HistoryEntry, error) {
	if _, err := LoadIDL(); err != nil {
		return nil, fmt.Errorf("failed to initialize IDL: %w", err)
	}

	signatures, err := c.Backend.Signatures(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	result := make([]HistoryEntry, 0, len(signatures))
	if len(signatures) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	// Fetch in batches to stay under RPC rate limits.
	batchSize := 10
	for i := 0; i < len(signatures); i += batchSize {
		end := i + batchSize
		if end > len(signatures) {
			end = len(signatures)
		}

		for j := i; j < end; j++ {
			wg.Add(1)
			go func(sig solana.Signature) {
				defer wg.Done()

				record, err := c.Backend.Transaction(ctx, sig)
				if err != nil {
					c.Log.Warn().Err(err).Str("signature", sig.String()).Msg("Skipping history entry")
					return
				}
				entry := HistoryEntry{
					Signature:    record.Signature,
					Slot:         record.Slot,
					Timestamp:    record.BlockTime,
					Instructions: c.instructionNames(record.Transaction),
					Err:          record.Err,
				}

				mu.Lock()
				result = append(result, entry)
				mu.Unlock()
			}(signatures[j])
		}

		wg.Wait()
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Slot > result[j].Slot
	})
	return result, nil
}

func (c *Client) instructionNames(tx *solana.Transaction) []string {
	if tx == nil {
		return nil
	}
	names := make([]string, 0, len(tx.Message.Instructions))
	for _, compiled := range tx.Message.Instructions {
		programID, err := tx.ResolveProgramIDIndex(compiled.ProgramIDIndex)
		if err != nil {
			names = append(names, "unknown")
			continue
		}
		names = append(names, DescribeInstruction(c.ProgramID, programID, compiled.Data))
	}
	return names
}

// DescribeInstruction returns a short human name for an instruction of any
// program the staking flow uses.
func DescribeInstruction(stakingProgramID, programID solana.PublicKey, data []byte) string {
	switch {
	case programID.Equals(stakingProgramID):
		if name, ok := InstructionNameFromIDL(data); ok {
			return name
		}
		return "staking:unknown"
	case programID.Equals(solana.TokenProgramID):
		if len(data) == 0 {
			return "token:unknown"
		}
		return "token:" + token.InstructionIDToName(data[0])
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return "ata:create"
	case programID.Equals(solana.SystemProgramID):
		return "system"
	default:
		return programID.String()
	}
}
