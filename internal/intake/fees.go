package intake

import (
	"fmt"

	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
)

// MinimumFee is the anti-spam deposit retained per accepted request, in the
// smallest native unit.
const MinimumFee uint64 = 1

// FeePolicy returns the fee currently required for a request. The default is
// the fixed MinimumFee; a congestion-sensitive policy can replace it without
// changing Collect's shape.
type FeePolicy func() uint64

// Refunder schedules an asynchronous native-token transfer. Failure of the
// scheduled transfer is the host's concern, not ours.
type Refunder interface {
	Transfer(account string, amount uint64)
}

// FeeCollector enforces the minimum deposit and schedules refund of any
// excess. Called at most once per accepted request; never retried.
type FeeCollector struct {
	policy FeePolicy
	refund Refunder
}

func NewFeeCollector(refund Refunder) *FeeCollector {
	return &FeeCollector{policy: func() uint64 { return MinimumFee }, refund: refund}
}

// SetPolicy swaps the fee policy (tests, congestion pricing).
func (c *FeeCollector) SetPolicy(p FeePolicy) {
	if p != nil {
		c.policy = p
	}
}

// Collect verifies the attached deposit and schedules the refund of any
// excess back to the requester. Returns the refund amount.
func (c *FeeCollector) Collect(requester string, deposit uint64) (uint64, error) {
	fee := c.policy()
	if deposit < fee {
		return 0, fmt.Errorf("%w: require %d, found %d", ErrInsufficientDeposit, fee, deposit)
	}
	refund := deposit - fee
	if refund > 0 {
		logger.InfoJ("fee_collect", map[string]any{"requester": requester, "deposit": deposit, "refund": refund})
		metrics.Inc("intake_refunds_total", nil)
		c.refund.Transfer(requester, refund)
	}
	return refund, nil
}
