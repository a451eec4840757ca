package core

import "math"

const defaultEpsilon = 1e-12

// MinusInfinityDB is the level reported for silence. Conversions that would
// otherwise produce -Inf clamp to this floor instead.
const MinusInfinityDB = -100.0

// Clamp limits value to the inclusive range [min, max].
func Clamp(value, min, max float64) float64 {
	if min > max {
		min, max = max, min
	}

	if value < min {
		return min
	}

	if value > max {
		return max
	}

	return value
}

// NearlyEqual reports whether a and b are equal within eps.
func NearlyEqual(a, b, eps float64) bool {
	if eps <= 0 {
		eps = defaultEpsilon
	}

	diff := math.Abs(a - b)
	if diff <= eps {
		return true
	}

	largest := math.Max(math.Abs(a), math.Abs(b))
	if largest == 0 {
		return diff <= eps
	}

	return diff/largest <= eps
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FlushDenormals converts tiny denormal-like values to exact zero.
// This can reduce denormal-related CPU slowdowns in hot DSP loops.
func FlushDenormals(x float64) float64 {
	const epsilon = 1e-30
	if x > -epsilon && x < epsilon {
		return 0
	}

	return x
}

// DBToLinear converts dB to linear amplitude (20*log10 convention).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts linear amplitude to dB (20*log10 convention).
// Returns -Inf for zero and NaN for negative values.
func LinearToDB(linear float64) float64 {
	if linear < 0 {
		return math.NaN()
	}

	if linear == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(linear)
}

// GainToDecibels converts a linear magnitude to dB, flooring at
// MinusInfinityDB. Zero, negative and NaN inputs map to the floor.
func GainToDecibels(gain float64) float64 {
	if !(gain > 0) {
		return MinusInfinityDB
	}

	return math.Max(MinusInfinityDB, 20*math.Log10(gain))
}

// DecibelsToGain converts dB to a linear magnitude. Levels at or below
// MinusInfinityDB map to exact zero.
func DecibelsToGain(db float64) float64 {
	if !(db > MinusInfinityDB) {
		return 0
	}

	return math.Pow(10, db*0.05)
}

// TimeToSamples converts a duration in seconds to a whole sample count,
// truncating toward zero. Every component that has to agree on a latency
// uses this conversion.
func TimeToSamples(seconds, sampleRate float64) int {
	n := seconds * sampleRate
	if !(n > 0) || math.IsInf(n, 0) {
		return 0
	}
	return int(n)
}
