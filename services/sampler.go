package services

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// LockedRand serialises access to a *rand.Rand so one seeded source can be
// shared between goroutines.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

// NewEntropyRand seeds from the clock for production use.
func NewEntropyRand() *LockedRand {
	return NewLockedRand(time.Now().UnixNano())
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *LockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *LockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

func (l *LockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// SamplerParams - параметры отбора с ограничением доли одного автора.
type SamplerParams struct {
	Target              int
	GuaranteedPerAuthor int
	ExtraProbability    float64
	DecayFactor         float64
}

// Sampler admits candidates so that prolific authors cannot dominate a page.
type Sampler struct {
	rnd *LockedRand
}

func NewSampler(rnd *LockedRand) *Sampler {
	return &Sampler{rnd: rnd}
}

// Select walks candidates in order. Each author gets GuaranteedPerAuthor items
// unconditionally; every further item from that author is admitted with
// probability ExtraProbability * DecayFactor^(accepted - guaranteed). It stops
// at Target items and returns them shuffled.
func Select[T any](s *Sampler, candidates []T, authorOf func(T) int64, p SamplerParams) []T {
	if p.Target <= 0 || len(candidates) == 0 {
		return []T{}
	}
	accepted := make(map[int64]int)
	out := make([]T, 0, min(p.Target, len(candidates)))
	for _, c := range candidates {
		if len(out) >= p.Target {
			break
		}
		author := authorOf(c)
		n := accepted[author]
		if n >= p.GuaranteedPerAuthor {
			prob := p.ExtraProbability * math.Pow(p.DecayFactor, float64(n-p.GuaranteedPerAuthor))
			if s.rnd.Float64() >= prob {
				continue
			}
		}
		accepted[author] = n + 1
		out = append(out, c)
	}
	s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
