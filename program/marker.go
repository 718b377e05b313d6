package program

import (
	"staking-rewards/ledger"
	staking_rewards "staking-rewards/solana"
)

// MarkerPolicy decides what happens to the stake marker when more principal
// is added. pending returns the reward earned since the current marker.
type MarkerPolicy interface {
	Refresh(info *staking_rewards.StakeInfo, clock ledger.Clock, pending func() (uint64, error)) error
}

// RefreshMarker restarts the period on every stake. Reward earned so far in
// the period is forfeited.
type RefreshMarker struct{}

func (RefreshMarker) Refresh(info *staking_rewards.StakeInfo, clock ledger.Clock, _ func() (uint64, error)) error {
	setMarker(info, clock)
	return nil
}

// CheckpointMarker rolls the reward earned on the old principal into the
// accrued balance before restarting the period.
type CheckpointMarker struct{}

func (CheckpointMarker) Refresh(info *staking_rewards.StakeInfo, clock ledger.Clock, pending func() (uint64, error)) error {
	if info.IsStaked {
		reward, err := pending()
		if err != nil {
			return err
		}
		if info.AccruedReward, err = checkedAdd(info.AccruedReward, reward); err != nil {
			return err
		}
	}
	setMarker(info, clock)
	return nil
}

func setMarker(info *staking_rewards.StakeInfo, clock ledger.Clock) {
	info.StakeAtSlot = clock.Slot
	info.StakedAt = clock.UnixTimestamp
}
