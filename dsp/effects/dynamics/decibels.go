package dynamics

import (
	"math"

	"github.com/cwbudde/algo-limiter/dsp/core"
)

const (
	// dbPerNeper converts a natural-log amplitude ratio to dB: 20 / ln(10).
	dbPerNeper = 20 / math.Ln10

	// minusInfinityGain is the linear magnitude of core.MinusInfinityDB.
	minusInfinityGain = 1e-5

	// Detector levels are capped here so that an infinite sample yields a
	// finite reduction and the envelope can release from it.
	maxDetectorDB   = 200.0
	maxDetectorGain = 1e10
)

// gainToDecibels is the hot-path variant of core.GainToDecibels. NaN maps
// to the floor and +Inf to maxDetectorDB.
func gainToDecibels(gain float64) float64 {
	if !(gain > minusInfinityGain) {
		return core.MinusInfinityDB
	}
	if gain >= maxDetectorGain {
		return maxDetectorDB
	}

	return naturalLog(gain) * dbPerNeper
}

// decibelsToGain is the hot-path variant of core.DecibelsToGain.
func decibelsToGain(dB float64) float64 {
	if !(dB > core.MinusInfinityDB) {
		return 0
	}

	return naturalExp(dB / dbPerNeper)
}
