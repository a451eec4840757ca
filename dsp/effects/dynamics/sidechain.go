package dynamics

import "math"

// DetectPeak reduces a multichannel block to a single rectified detector
// signal: dst[i] is the largest |channels[c][i]| over all channels. The
// block length is taken from channels[0]; dst must have at least that
// capacity. The filled prefix of dst is returned.
//
// At least one channel is required.
func DetectPeak(dst []float64, channels [][]float64) []float64 {
	if len(channels) == 0 {
		panic("dynamics: sidechain detection needs at least one channel")
	}

	n := len(channels[0])
	dst = dst[:n]

	for i, x := range channels[0] {
		dst[i] = math.Abs(x)
	}

	for _, ch := range channels[1:] {
		ch = ch[:n]
		for i, x := range ch {
			dst[i] = max(dst[i], math.Abs(x))
		}
	}

	return dst
}
