package client

import (
	"math"
	"time"
)

// sample is one pointer position, timestamped in milliseconds since
// the press that started the gesture.
type sample struct {
	X    float64
	AtMS int64
}

// Velocity variation bounds for a human hand. Perfectly smooth motion
// reads as scripted, wildly jittery motion reads as noise injection.
const (
	minVelocityVariation = 0.01
	maxVelocityVariation = 20.0

	teleportDistance = 100.0
	teleportWindowMS = 20
)

// humanLike grades a pointer trace. Sparse traces from slow gestures
// are given the benefit of the doubt; everything else must show
// velocity variation inside the human band and no teleports.
func humanLike(samples []sample, total time.Duration) bool {
	if len(samples) < 3 {
		return false
	}
	if len(samples) < 5 && total > 800*time.Millisecond {
		return true
	}

	var totalVariation float64
	var validPairs int

	for i := 1; i < len(samples)-1; i++ {
		prev, curr, next := samples[i-1], samples[i], samples[i+1]

		dt1 := curr.AtMS - prev.AtMS
		dt2 := next.AtMS - curr.AtMS
		if dt1 < 1 || dt2 < 1 {
			continue
		}

		v1 := (curr.X - prev.X) / float64(dt1)
		v2 := (next.X - curr.X) / float64(dt2)

		totalVariation += math.Abs(v2 - v1)
		validPairs++
	}

	// too few clean triples to judge velocity, let the server decide
	if validPairs < 2 {
		return true
	}

	avgVariation := totalVariation / float64(validPairs)
	if avgVariation <= minVelocityVariation || avgVariation >= maxVelocityVariation {
		return false
	}

	for i := 1; i < len(samples); i++ {
		jump := math.Abs(samples[i].X - samples[i-1].X)
		gap := samples[i].AtMS - samples[i-1].AtMS
		if jump > teleportDistance && gap < teleportWindowMS {
			return false
		}
	}

	return true
}
