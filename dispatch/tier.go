package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/callgate/channel"
)

// Tier names used by DefaultTiers.
const (
	TierFast     = "fast"
	TierDegraded = "degraded"
	TierIsolated = "isolated"
)

// Tier is one escalation level.
type Tier struct {
	Name        string
	Workers     int
	Timeout     time.Duration
	Connections channel.Policy
}

// DefaultTiers derives the fast, degraded and isolated tiers from the worker
// count and base timeout.
func DefaultTiers(workers int, timeout time.Duration) []Tier {
	return ScaledTiers(workers, timeout, 2, 2, 4)
}

// ScaledTiers builds the three standard tiers with configurable factors:
// the degraded tier runs workers/degradedDivisor workers with
// timeout·degradedTimeout, the isolated tier one worker with
// timeout·isolatedTimeout.
func ScaledTiers(workers int, timeout time.Duration, degradedDivisor int, degradedTimeout, isolatedTimeout float64) []Tier {
	if workers <= 0 {
		workers = 1
	}
	if degradedDivisor <= 0 {
		degradedDivisor = 1
	}
	degraded := workers / degradedDivisor
	if degraded < 1 {
		degraded = 1
	}
	scale := func(f float64) time.Duration {
		return time.Duration(float64(timeout) * f)
	}

	return []Tier{
		{Name: TierFast, Workers: workers, Timeout: timeout, Connections: channel.PolicyShared},
		{Name: TierDegraded, Workers: degraded, Timeout: scale(degradedTimeout), Connections: channel.PolicyPerCall},
		{Name: TierIsolated, Workers: 1, Timeout: scale(isolatedTimeout), Connections: channel.PolicyPerCall},
	}
}

// ErrInvalidTier is returned for a tier without workers or timeout.
var ErrInvalidTier = errors.New("dispatch: invalid tier")

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidTier)
	}
	for i, t := range tiers {
		if t.Workers <= 0 || t.Timeout <= 0 {
			return fmt.Errorf("%w: %d (%q) needs positive workers and timeout", ErrInvalidTier, i, t.Name)
		}
	}
	return nil
}
