package service

import (
	"fmt"
	"math/rand"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
)

// RandomSource is the subset of *rand.Rand the tie breakers need
type RandomSource interface {
	Intn(n int) int
}

// globalRand uses the goroutine-safe top-level math/rand functions
type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// TieBreaker picks the chosen server among equally loaded candidates.
// tied always contains best and is ordered by server id.
type TieBreaker interface {
	Pick(best domain.ServerRecord, tied []domain.ServerRecord) domain.ServerRecord
	Name() string
}

// BoundedTieBreaker resolves ties of exactly 2 or 3 servers uniformly at
// random. Any other tie size returns best, the first minimal server seen.
type BoundedTieBreaker struct {
	rand RandomSource
}

// NewBoundedTieBreaker creates a bounded tie breaker. A nil source uses
// math/rand.
func NewBoundedTieBreaker(src RandomSource) *BoundedTieBreaker {
	if src == nil {
		src = globalRand{}
	}
	return &BoundedTieBreaker{rand: src}
}

func (t *BoundedTieBreaker) Pick(best domain.ServerRecord, tied []domain.ServerRecord) domain.ServerRecord {
	switch len(tied) {
	case 2, 3:
		return tied[t.rand.Intn(len(tied))]
	default:
		return best
	}
}

func (t *BoundedTieBreaker) Name() string {
	return string(domain.TieBreakBounded)
}

// UniformTieBreaker resolves ties of any size uniformly at random
type UniformTieBreaker struct {
	rand RandomSource
}

// NewUniformTieBreaker creates a uniform tie breaker. A nil source uses
// math/rand.
func NewUniformTieBreaker(src RandomSource) *UniformTieBreaker {
	if src == nil {
		src = globalRand{}
	}
	return &UniformTieBreaker{rand: src}
}

func (t *UniformTieBreaker) Pick(best domain.ServerRecord, tied []domain.ServerRecord) domain.ServerRecord {
	if len(tied) < 2 {
		return best
	}
	return tied[t.rand.Intn(len(tied))]
}

func (t *UniformTieBreaker) Name() string {
	return string(domain.TieBreakUniform)
}

// NewTieBreaker builds the tie breaker for a configured policy
func NewTieBreaker(policy domain.TieBreakPolicy, src RandomSource) (TieBreaker, error) {
	switch policy {
	case domain.TieBreakBounded, "":
		return NewBoundedTieBreaker(src), nil
	case domain.TieBreakUniform:
		return NewUniformTieBreaker(src), nil
	default:
		return nil, fmt.Errorf("unsupported tie_break policy: %s", policy)
	}
}
