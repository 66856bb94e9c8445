package services

import (
	"cmp"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// Participant is one rated account in a pairing cohort.
// Participants with Matched set are left out of the run.
type Participant struct {
	ID      string
	Rating  int
	Matched bool
}

// Pairing is one match proposed by the engine. AI pairings have no second side.
type Pairing struct {
	ParticipantOneID string
	ParticipantTwoID *string
	RatingOne        int
	RatingTwo        *int
	IsAIMatch        bool
}

// PairingEngine pairs a cohort into matches, preferring opponents of similar rating.
// The search is randomized. Each pass draws from its own generator seeded off
// the engine's, so concurrent passes are safe and a seeded engine is repeatable.
type PairingEngine struct {
	mu   sync.Mutex
	seed *rand.Rand
}

// NewPairingEngine returns an engine drawing from rng, or from a freshly seeded
// generator when rng is nil.
func NewPairingEngine(rng *rand.Rand) *PairingEngine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PairingEngine{seed: rng}
}

func (e *PairingEngine) newPass() *pairingPass {
	e.mu.Lock()
	s1, s2 := e.seed.Uint64(), e.seed.Uint64()
	e.mu.Unlock()
	return &pairingPass{rng: rand.New(rand.NewPCG(s1, s2))}
}

// pairingPass holds the generator of a single run over a cohort.
type pairingPass struct {
	rng *rand.Rand
}

// Pair returns a lazy sequence of pairings for cohort. Every range over the
// sequence runs a new pairing pass; the cohort itself is never modified.
// For N unmatched participants it yields N/2 human pairings, plus one AI
// pairing when N is odd.
func (e *PairingEngine) Pair(cohort []Participant) iter.Seq[Pairing] {
	return func(yield func(Pairing) bool) {
		e.newPass().run(cohort, yield)
	}
}

// PairAll drains Pair into a slice.
func (e *PairingEngine) PairAll(cohort []Participant) []Pairing {
	out := make([]Pairing, 0, len(cohort)/2+1)
	for p := range e.Pair(cohort) {
		out = append(out, p)
	}
	return out
}

func (e *pairingPass) run(cohort []Participant, yield func(Pairing) bool) {
	// positions index into cohort, sorted by rating so the bisection below
	// starts out exact and degrades as swap-removals shuffle the tail in.
	positions := make([]int, 0, len(cohort))
	for i, p := range cohort {
		if !p.Matched {
			positions = append(positions, i)
		}
	}
	slices.SortFunc(positions, func(a, b int) int {
		return cmp.Compare(cohort[a].Rating, cohort[b].Rating)
	})

	if len(positions)%2 == 1 {
		var pos int
		positions, pos = e.takeRandom(positions)
		if !yield(Pairing{ParticipantOneID: cohort[pos].ID, RatingOne: cohort[pos].Rating, IsAIMatch: true}) {
			return
		}
	}
	if len(positions) < 2 {
		return
	}

	minRating, maxRating := ratingBounds(cohort, positions)
	spread := float64(maxRating-minRating) / 6
	if spread < 1 {
		spread = 1
	}

	for len(positions) >= 2 {
		var anchor int
		positions, anchor = e.takeRandom(positions)

		window := pairingWindow(len(positions))
		desired := e.gaussian(float64(cohort[anchor].Rating), spread)
		desired = math.Min(math.Max(desired, float64(minRating)), float64(maxRating))

		idx := searchRating(cohort, positions, int(math.Round(desired)), window)
		if idx < 0 {
			idx = e.rng.IntN(len(positions))
		}
		opponent := positions[idx]
		positions = removeAt(positions, idx)

		twoID := cohort[opponent].ID
		twoRating := cohort[opponent].Rating
		if !yield(Pairing{
			ParticipantOneID: cohort[anchor].ID,
			ParticipantTwoID: &twoID,
			RatingOne:        cohort[anchor].Rating,
			RatingTwo:        &twoRating,
		}) {
			return
		}
	}
}

// pairingWindow is the accepted rating distance from the desired opponent
// rating. It narrows as more participants remain to choose from.
func pairingWindow(remaining int) int {
	switch {
	case remaining <= 10:
		return 400
	case remaining <= 100:
		return 200
	case remaining <= 1000:
		return 100
	case remaining <= 10000:
		return 50
	default:
		return 25
	}
}

// gaussian draws from N(mean, stddev) with the Box–Muller transform.
func (e *pairingPass) gaussian(mean, stddev float64) float64 {
	u1 := 1 - e.rng.Float64() // (0, 1]
	u2 := e.rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + z*stddev
}

func (e *pairingPass) takeRandom(positions []int) ([]int, int) {
	i := e.rng.IntN(len(positions))
	pos := positions[i]
	return removeAt(positions, i), pos
}

// removeAt swaps the last position into i and truncates.
func removeAt(positions []int, i int) []int {
	last := len(positions) - 1
	positions[i] = positions[last]
	return positions[:last]
}

// searchRating bisects positions for a rating within window of desired.
// positions are only partially sorted, so a miss does not mean no candidate exists.
func searchRating(cohort []Participant, positions []int, desired, window int) int {
	lo, hi := 0, len(positions)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		r := cohort[positions[mid]].Rating
		switch {
		case r < desired-window:
			lo = mid + 1
		case r > desired+window:
			hi = mid - 1
		default:
			return mid
		}
	}
	return -1
}

func ratingBounds(cohort []Participant, positions []int) (int, int) {
	minRating, maxRating := cohort[positions[0]].Rating, cohort[positions[0]].Rating
	for _, pos := range positions[1:] {
		r := cohort[pos].Rating
		if r < minRating {
			minRating = r
		}
		if r > maxRating {
			maxRating = r
		}
	}
	return minRating, maxRating
}
