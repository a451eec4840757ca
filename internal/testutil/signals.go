// Package testutil provides deterministic test signals and assertions shared
// by the package tests of this module.
package testutil

import (
	"math"
	"math/rand"
)

// DeterministicSine generates a sine wave starting at phase 0.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// DeterministicNoise generates uniform white noise in [-amplitude, amplitude)
// from a fixed seed.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// Impulse generates a unit impulse at pos. An out-of-range pos yields silence.
func Impulse(length, pos int) []float64 {
	out := make([]float64, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}
	return out
}

// DC generates a constant signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Step holds before for the first at samples and after for the rest.
func Step(before, after float64, at, length int) []float64 {
	out := DC(before, length)
	for i := max(at, 0); i < length; i++ {
		out[i] = after
	}
	return out
}

// Channels copies each signal into its own slice and returns them as a
// channel-major block, ready to be processed in place.
func Channels(signals ...[]float64) [][]float64 {
	out := make([][]float64, len(signals))
	for c, s := range signals {
		out[c] = append([]float64(nil), s...)
	}
	return out
}

// Chunks splits a channel-major block into consecutive blocks of at most
// size samples. The returned blocks alias buf.
func Chunks(buf [][]float64, size int) [][][]float64 {
	if len(buf) == 0 || size <= 0 {
		return nil
	}

	var out [][][]float64
	for start := 0; start < len(buf[0]); start += size {
		end := min(start+size, len(buf[0]))
		block := make([][]float64, len(buf))
		for c := range buf {
			block[c] = buf[c][start:end]
		}
		out = append(out, block)
	}
	return out
}
