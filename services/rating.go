package services

import "math"

const (
	// RatingK is the base swing of one game before margin amplification.
	RatingK = 32.0
	// MaxRatingDelta bounds a single adjustment in either direction.
	MaxRatingDelta = 1000
)

// RatingDelta returns the rating adjustment for both sides of a finished game.
// The pair is zero-sum before clamping; each side is clamped to ±MaxRatingDelta.
func RatingDelta(scoreA, scoreB, ratingA, ratingB int) (int, int) {
	outcome := 0.5
	switch {
	case scoreA > scoreB:
		outcome = 1
	case scoreA < scoreB:
		outcome = 0
	}

	diff := float64(ratingB) - float64(ratingA)
	expected := 1.0 / (1.0 + math.Pow(10, diff/400.0))

	delta := math.Round(RatingK * marginMultiplier(float64(scoreA)-float64(scoreB), diff) * (outcome - expected))
	if math.IsNaN(delta) {
		return 0, 0
	}

	deltaA := clampDelta(delta)
	deltaB := clampDelta(-delta)
	return deltaA, deltaB
}

// marginMultiplier grows with the goal margin and is damped by the rating gap,
// so lopsided scorelines between mismatched sides do not run away.
func marginMultiplier(margin, ratingDiff float64) float64 {
	m := math.Abs(margin)
	if m == 0 {
		return 1
	}
	return math.Log(m+1) * (2.2 / (0.001*math.Abs(ratingDiff) + 2.2))
}

func clampDelta(x float64) int {
	if x > MaxRatingDelta {
		return MaxRatingDelta
	}
	if x < -MaxRatingDelta {
		return -MaxRatingDelta
	}
	return int(x)
}
