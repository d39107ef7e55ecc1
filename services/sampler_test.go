package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type candidate struct {
	id     int
	author int64
}

func authorOfCandidate(c candidate) int64 { return c.author }

func buildCandidates(authors, perAuthor int) []candidate {
	out := make([]candidate, 0, authors*perAuthor)
	for a := 0; a < authors; a++ {
		for i := 0; i < perAuthor; i++ {
			out = append(out, candidate{id: a*perAuthor + i, author: int64(a + 1)})
		}
	}
	return out
}

var defaultParams = SamplerParams{Target: 20, GuaranteedPerAuthor: 2, ExtraProbability: 0.3, DecayFactor: 0.5}

func TestSelectGuaranteedQuotaSingleAuthor(t *testing.T) {
	s := NewSampler(NewLockedRand(1))
	cands := buildCandidates(1, 50)
	p := defaultParams
	p.Target = 2
	for i := 0; i < 200; i++ {
		got := Select(s, cands, authorOfCandidate, p)
		require.Len(t, got, 2)
		ids := []int{got[0].id, got[1].id}
		require.ElementsMatch(t, []int{0, 1}, ids)
	}
}

func TestSelectFewerCandidatesThanTarget(t *testing.T) {
	s := NewSampler(NewLockedRand(2))
	cands := buildCandidates(3, 1)
	got := Select(s, cands, authorOfCandidate, defaultParams)
	require.Len(t, got, 3)

	require.Empty(t, Select(s, []candidate{}, authorOfCandidate, defaultParams))
	p := defaultParams
	p.Target = 0
	require.Empty(t, Select(s, cands, authorOfCandidate, p))
}

func TestSelectDiversity(t *testing.T) {
	s := NewSampler(NewLockedRand(42))
	// Authors are laid out in shuffled order so the walk is not author-grouped.
	cands := buildCandidates(10, 100)
	NewLockedRand(7).Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })

	perAuthor := make(map[int64]int)
	total := 0
	for i := 0; i < 1000; i++ {
		got := Select(s, cands, authorOfCandidate, defaultParams)
		require.LessOrEqual(t, len(got), 20)
		for _, c := range got {
			perAuthor[c.author]++
			total++
		}
	}
	require.Positive(t, total)
	for author, n := range perAuthor {
		require.Less(t, float64(n)/float64(total), 0.4, "author %d dominates", author)
	}
}

func TestSelectGroupedInputStillBounded(t *testing.T) {
	s := NewSampler(NewLockedRand(5))
	cands := buildCandidates(10, 100)
	for i := 0; i < 100; i++ {
		counts := make(map[int64]int)
		for _, c := range Select(s, cands, authorOfCandidate, defaultParams) {
			counts[c.author]++
		}
		for _, n := range counts {
			// 2 guaranteed plus a geometrically shrinking tail.
			require.LessOrEqual(t, n, 14)
		}
	}
}

func TestSelectDeterministicWithSeed(t *testing.T) {
	cands := buildCandidates(5, 20)
	a := Select(NewSampler(NewLockedRand(99)), cands, authorOfCandidate, defaultParams)
	b := Select(NewSampler(NewLockedRand(99)), cands, authorOfCandidate, defaultParams)
	require.Equal(t, a, b)
}
