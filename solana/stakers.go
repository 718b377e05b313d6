package staking_rewards

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// StakeInfoAccount pairs a decoded stake record with its address.
type StakeInfoAccount struct {
	Address solana.PublicKey `json:"address"`
	StakeInfo
}

// FetchAllStakeInfos fetches every stake record owned by the program, ordered by principal, largest first.
func (c *Client) FetchAllStakeInfos(ctx context.Context) ([]*StakeInfoAccount, error) {
	accounts, err := c.Backend.ProgramAccounts(ctx, c.ProgramID, Account_StakeInfo[:])
	if err != nil {
		return nil, err
	}

	records := make([]*StakeInfoAccount, 0, len(accounts))
	for _, account := range accounts {
		info, err := ParseAccount_StakeInfo(account.Data)
		if err != nil {
			// Accounts from an older layout are skipped.
			continue
		}
		records = append(records, &StakeInfoAccount{Address: account.Pubkey, StakeInfo: *info})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Principal > records[j].Principal
	})
	return records, nil
}

// TotalStaked sums the principal of every staked record.
func TotalStaked(records []*StakeInfoAccount) (uint64, error) {
	var total uint64
	for _, record := range records {
		if !record.IsStaked {
			continue
		}
		next := total + record.Principal
		if next < total {
			return 0, fmt.Errorf("total staked: %w", ErrMathOverflow)
		}
		total = next
	}
	return total, nil
}
