package scoring

import (
	"math"
	"time"
)

// Params configures the award for a correct answer.
type Params struct {
	Base     int
	MaxBonus int
}

// DefaultParams awards 500 points for a correct answer plus up to 500 for speed.
var DefaultParams = Params{Base: 500, MaxBonus: 500}

// Delta computes a score delta with DefaultParams.
func Delta(correct bool, elapsed, budget time.Duration) int {
	return DefaultParams.Delta(correct, elapsed, budget)
}

// Delta returns 0 for an incorrect answer. A correct answer earns Base plus a
// time bonus decaying linearly from MaxBonus at elapsed=0 to zero at the budget.
// The result never drops below Base and never increases with elapsed.
func (p Params) Delta(correct bool, elapsed, budget time.Duration) int {
	if !correct {
		return 0
	}
	base := p.Base
	if base < 0 {
		base = 0
	}
	if p.MaxBonus <= 0 || budget <= 0 {
		return base
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= budget {
		return base
	}
	remaining := 1 - float64(elapsed)/float64(budget)
	bonus := int(math.Round(float64(p.MaxBonus) * remaining))
	if bonus < 0 {
		bonus = 0
	}
	return base + bonus
}
