package vancouver

import "math"

type decision int

const (
	keepGoing decision = iota
	// the reputation vector moved less than tolerance
	stopConverged
	// the iteration cap was reached without settling
	stopExhausted
)

// monitor decides after each iteration whether to stop. It is a pure
// predicate over the reputation movement and the iteration index.
type monitor struct {
	tolerance float64
	cap       int
}

func newMonitor(tolerance float64, cap int) monitor {
	return monitor{tolerance: tolerance, cap: cap}
}

func (m monitor) assess(iter int, delta float64) decision {
	if delta < m.tolerance {
		return stopConverged
	}
	if iter >= m.cap {
		return stopExhausted
	}
	return keepGoing
}

// maxDelta is the maximum absolute reputation change between two
// consecutive reputation vectors.
func maxDelta(prev, cur map[string]float64) float64 {
	var max float64
	for k, v := range cur {
		if d := math.Abs(v - prev[k]); d > max {
			max = d
		}
	}
	return max
}
