package program

import (
	"errors"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/holiman/uint256"

	staking_rewards "staking-rewards/solana"
)

// RewardInput is everything a reward policy may look at.
type RewardInput struct {
	Principal uint64
	// Slots and Seconds elapsed since the stake marker.
	Slots    uint64
	Seconds  uint64
	Decimals uint8
}

// RewardPolicy computes the reward earned over one marker period.
type RewardPolicy interface {
	Reward(in RewardInput) (uint64, error)
}

// SlotReward pays one whole token per elapsed slot, independent of principal.
type SlotReward struct{}

func (SlotReward) Reward(in RewardInput) (uint64, error) {
	if in.Slots == 0 {
		return 0, nil
	}
	// 10^20 no longer fits in a u64
	if in.Decimals > 19 {
		return 0, staking_rewards.ErrMathOverflow
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(in.Decimals)))
	reward, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(in.Slots), scale)
	if overflow {
		return 0, staking_rewards.ErrMathOverflow
	}
	return toUint64(reward)
}

// LinearReward pays principal * slots * Numerator / Denominator.
type LinearReward struct {
	Numerator   uint64
	Denominator uint64
}

func NewLinearReward(numerator, denominator uint64) (*LinearReward, error) {
	if denominator == 0 {
		return nil, errors.New("linear reward denominator must be positive")
	}
	return &LinearReward{Numerator: numerator, Denominator: denominator}, nil
}

func (r *LinearReward) Reward(in RewardInput) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(in.Principal), uint256.NewInt(in.Slots))
	if overflow {
		return 0, staking_rewards.ErrMathOverflow
	}
	if _, overflow = product.MulOverflow(product, uint256.NewInt(r.Numerator)); overflow {
		return 0, staking_rewards.ErrMathOverflow
	}
	return toUint64(product.Div(product, uint256.NewInt(r.Denominator)))
}

// ExprReward evaluates an expr-lang expression over principal, slots,
// seconds and decimals, e.g. "principal * slots / 1000". Integer addition,
// subtraction and multiplication fail with ErrMathOverflow instead of
// wrapping. Division and powers are floating point in expr.
type ExprReward struct {
	source  string
	program *vm.Program
}

func rewardEnv(in RewardInput) map[string]any {
	return map[string]any{
		"principal": int(in.Principal),
		"slots":     int(in.Slots),
		"seconds":   int(in.Seconds),
		"decimals":  int(in.Decimals),
	}
}

func checkedOperator(name string, apply func(a, b int64) (int64, bool)) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		out, ok := apply(int64(params[0].(int)), int64(params[1].(int)))
		if !ok {
			return nil, staking_rewards.ErrMathOverflow
		}
		return int(out), nil
	}, new(func(int, int) int))
}

var checkedArithmetic = []expr.Option{
	checkedOperator("checkedAdd", func(a, b int64) (int64, bool) {
		sum := a + b
		return sum, (b >= 0) == (sum >= a)
	}),
	checkedOperator("checkedSub", func(a, b int64) (int64, bool) {
		diff := a - b
		return diff, (b >= 0) == (diff <= a)
	}),
	checkedOperator("checkedMul", func(a, b int64) (int64, bool) {
		if a == 0 || b == 0 {
			return 0, true
		}
		product := a * b
		if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return 0, false
		}
		return product, true
	}),
	expr.Operator("+", "checkedAdd"),
	expr.Operator("-", "checkedSub"),
	expr.Operator("*", "checkedMul"),
}

func NewExprReward(source string) (*ExprReward, error) {
	opts := append([]expr.Option{expr.Env(rewardEnv(RewardInput{}))}, checkedArithmetic...)
	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reward expression %q: %w", source, err)
	}
	return &ExprReward{source: source, program: program}, nil
}

func (r *ExprReward) String() string {
	return r.source
}

func (r *ExprReward) Reward(in RewardInput) (uint64, error) {
	if in.Principal > math.MaxInt64 || in.Slots > math.MaxInt64 || in.Seconds > math.MaxInt64 {
		return 0, staking_rewards.ErrMathOverflow
	}
	out, err := expr.Run(r.program, rewardEnv(in))
	if errors.Is(err, staking_rewards.ErrMathOverflow) {
		return 0, staking_rewards.ErrMathOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate reward expression %q: %w", r.source, err)
	}

	switch reward := out.(type) {
	case int:
		if reward < 0 {
			return 0, fmt.Errorf("reward expression %q returned negative reward %d", r.source, reward)
		}
		return uint64(reward), nil
	case float64:
		if math.IsNaN(reward) || math.IsInf(reward, 0) || reward >= math.MaxUint64 {
			return 0, staking_rewards.ErrMathOverflow
		}
		if reward < 0 {
			return 0, fmt.Errorf("reward expression %q returned negative reward %v", r.source, reward)
		}
		return uint64(reward), nil
	default:
		return 0, fmt.Errorf("reward expression %q returned %T", r.source, out)
	}
}

// NoReward only returns principal.
type NoReward struct{}

func (NoReward) Reward(RewardInput) (uint64, error) {
	return 0, nil
}

func toUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, staking_rewards.ErrMathOverflow
	}
	return x.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, staking_rewards.ErrMathOverflow
	}
	return toUint64(sum)
}
