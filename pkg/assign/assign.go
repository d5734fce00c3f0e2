// Package assign distributes review tasks over the roster: each
// student grades k peers and each paper receives exactly k reviews.
package assign

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/peergrade/peergrade/pkg/data"
)

const (
	// ModeBalanced uses ring shifts over a shuffled roster, so review
	// load is exactly k in both directions.
	ModeBalanced = "balanced"
	// ModeRandom samples k distinct targets per evaluator; incoming
	// review counts may vary.
	ModeRandom = "random"
)

// Options control one assignment round.
type Options struct {
	PerStudent int    `json:"per_student" yaml:"perStudent"`
	AllowSelf  bool   `json:"allow_self" yaml:"allowSelf"`
	Mode       string `json:"mode" yaml:"mode"`
	Seed       int64  `json:"seed" yaml:"seed"`
}

// Generate produces the review assignment for the given roster ids.
// The same seed over the same roster yields the same assignment.
func Generate(ids []string, opts Options) ([]*data.Assignment, error) {
	n := len(ids)
	if n < 2 {
		return nil, fmt.Errorf("assignment needs at least 2 students, have %d", n)
	}
	if opts.PerStudent < 1 {
		return nil, fmt.Errorf("reviews per student must be at least 1, got %d", opts.PerStudent)
	}
	max := n - 1
	if opts.AllowSelf {
		max = n
	}
	if opts.PerStudent > max {
		return nil, fmt.Errorf("cannot assign %d reviews per student with %d students", opts.PerStudent, n)
	}

	// stable input order so only the seed controls the outcome
	roster := make([]string, n)
	copy(roster, ids)
	sort.Strings(roster)

	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(n, func(i, j int) { roster[i], roster[j] = roster[j], roster[i] })

	switch opts.Mode {
	case ModeRandom:
		return randomAssign(roster, opts, rng), nil
	case ModeBalanced, "":
		return balancedAssign(roster, opts), nil
	default:
		return nil, fmt.Errorf("unknown assignment mode %q", opts.Mode)
	}
}

// balancedAssign walks k ring shifts over the shuffled roster:
// evaluator i grades (i+shift) mod n for shift 1..k. With self-review
// enabled shift 0 is used first.
func balancedAssign(roster []string, opts Options) []*data.Assignment {
	n := len(roster)
	list := make([]*data.Assignment, 0, n*opts.PerStudent)

	start := 1
	if opts.AllowSelf {
		start = 0
	}
	for shift := start; shift < start+opts.PerStudent; shift++ {
		for i, evaluator := range roster {
			list = append(list, &data.Assignment{
				Evaluator: evaluator,
				Target:    roster[(i+shift)%n],
			})
		}
	}

	sortAssignments(list)
	return list
}

func randomAssign(roster []string, opts Options, rng *rand.Rand) []*data.Assignment {
	n := len(roster)
	list := make([]*data.Assignment, 0, n*opts.PerStudent)

	for _, evaluator := range roster {
		pool := make([]string, 0, n)
		for _, t := range roster {
			if t == evaluator && !opts.AllowSelf {
				continue
			}
			pool = append(pool, t)
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for _, target := range pool[:opts.PerStudent] {
			list = append(list, &data.Assignment{Evaluator: evaluator, Target: target})
		}
	}

	sortAssignments(list)
	return list
}

func sortAssignments(list []*data.Assignment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Evaluator != list[j].Evaluator {
			return list[i].Evaluator < list[j].Evaluator
		}
		return list[i].Target < list[j].Target
	})
}
