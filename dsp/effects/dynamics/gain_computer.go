package dynamics

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-limiter/dsp/core"
)

const (
	// InfiniteRatioThreshold is the ratio at and above which the gain
	// computer switches to brick-wall limiting.
	InfiniteRatioThreshold = 15.9

	defaultGainComputerThresholdDB = -10.0
	defaultGainComputerKneeDB      = 0.0
	defaultGainComputerAttackTime  = 0.01
	defaultGainComputerReleaseTime = 0.15
	defaultGainComputerMakeUpDB    = 0.0

	minGainComputerRatio = 1.0
)

// EffectiveRatio maps a user-facing ratio onto the ratio the static curve
// uses. Ratios of InfiniteRatioThreshold and above become +Inf.
func EffectiveRatio(ratio float64) float64 {
	if ratio >= InfiniteRatioThreshold {
		return math.Inf(1)
	}

	return ratio
}

// GainComputer turns a rectified detector signal into a gain-reduction
// signal. A static soft-knee curve gives the target reduction in dB for each
// detector sample and a one-pole follower with separate attack and release
// coefficients smooths the reduction over time.
//
// The envelope state is owned by the audio goroutine. Setters are meant to be
// called between blocks from that same goroutine; the metering accessors are
// safe to call from anywhere.
type GainComputer struct {
	sampleRate float64

	// Static curve
	thresholdDB float64
	kneeDB      float64
	kneeHalfDB  float64
	ratio       float64
	slope       float64
	makeUpDB    float64

	// Ballistics
	attackTime   float64
	releaseTime  float64
	alphaAttack  float64
	alphaRelease float64

	// Smoothed reduction in dB, always <= 0 once settled.
	state float64

	// Metering, float64 bits of the last processed block.
	maxInputLevel    atomic.Uint64
	maxGainReduction atomic.Uint64
}

// NewGainComputer creates a gain computer prepared for sampleRate.
//
// Default parameters:
//   - Threshold: -10 dB
//   - Knee: 0 dB (hard knee)
//   - Ratio: infinite (limiting)
//   - Attack: 10 ms
//   - Release: 150 ms
//   - Make-up gain: 0 dB
func NewGainComputer(sampleRate float64) (*GainComputer, error) {
	g := &GainComputer{
		thresholdDB: defaultGainComputerThresholdDB,
		attackTime:  defaultGainComputerAttackTime,
		releaseTime: defaultGainComputerReleaseTime,
		makeUpDB:    defaultGainComputerMakeUpDB,
	}
	g.setKnee(defaultGainComputerKneeDB)
	g.setRatio(math.Inf(1))

	if err := g.Prepare(sampleRate); err != nil {
		return nil, err
	}

	return g, nil
}

// Prepare sets the sample rate, recomputes the smoothing coefficients and
// clears the envelope.
func (g *GainComputer) Prepare(sampleRate float64) error {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return fmt.Errorf("gain computer sample rate must be positive and finite: %f", sampleRate)
	}

	g.sampleRate = sampleRate
	g.alphaAttack = 1 - g.timeToCoeff(g.attackTime)
	g.alphaRelease = 1 - g.timeToCoeff(g.releaseTime)
	g.Reset()

	return nil
}

// SetThreshold sets the threshold in dB.
func (g *GainComputer) SetThreshold(dB float64) error {
	if !core.IsFinite(dB) {
		return fmt.Errorf("gain computer threshold must be finite: %f", dB)
	}

	g.thresholdDB = dB

	return nil
}

// SetKnee sets the full soft-knee width in dB. Zero gives a hard knee.
func (g *GainComputer) SetKnee(kneeDB float64) error {
	if kneeDB < 0 || !core.IsFinite(kneeDB) {
		return fmt.Errorf("gain computer knee must be non-negative and finite: %f", kneeDB)
	}

	g.setKnee(kneeDB)

	return nil
}

// SetRatio sets the compression ratio. Values of InfiniteRatioThreshold and
// above, including +Inf, select brick-wall limiting.
func (g *GainComputer) SetRatio(ratio float64) error {
	if !(ratio >= minGainComputerRatio) {
		return fmt.Errorf("gain computer ratio must be >= %f: %f", minGainComputerRatio, ratio)
	}

	g.setRatio(ratio)

	return nil
}

// SetAttackTime sets the attack time constant in seconds. Zero is instant.
func (g *GainComputer) SetAttackTime(seconds float64) error {
	if seconds < 0 || !core.IsFinite(seconds) {
		return fmt.Errorf("gain computer attack time must be non-negative and finite: %f", seconds)
	}

	g.attackTime = seconds
	g.alphaAttack = 1 - g.timeToCoeff(seconds)

	return nil
}

// SetReleaseTime sets the release time constant in seconds. Zero is instant.
func (g *GainComputer) SetReleaseTime(seconds float64) error {
	if seconds < 0 || !core.IsFinite(seconds) {
		return fmt.Errorf("gain computer release time must be non-negative and finite: %f", seconds)
	}

	g.releaseTime = seconds
	g.alphaRelease = 1 - g.timeToCoeff(seconds)

	return nil
}

// SetMakeUpGain sets the make-up gain in dB.
func (g *GainComputer) SetMakeUpGain(dB float64) error {
	if !core.IsFinite(dB) {
		return fmt.Errorf("gain computer make-up gain must be finite: %f", dB)
	}

	g.makeUpDB = dB

	return nil
}

// SampleRate returns the prepared sample rate in Hz.
func (g *GainComputer) SampleRate() float64 { return g.sampleRate }

// Threshold returns the threshold in dB.
func (g *GainComputer) Threshold() float64 { return g.thresholdDB }

// Knee returns the knee width in dB.
func (g *GainComputer) Knee() float64 { return g.kneeDB }

// Ratio returns the effective ratio, +Inf in limiting mode.
func (g *GainComputer) Ratio() float64 { return g.ratio }

// AttackTime returns the attack time in seconds.
func (g *GainComputer) AttackTime() float64 { return g.attackTime }

// ReleaseTime returns the release time in seconds.
func (g *GainComputer) ReleaseTime() float64 { return g.releaseTime }

// MakeUpGain returns the make-up gain in dB.
func (g *GainComputer) MakeUpGain() float64 { return g.makeUpDB }

// Envelope returns the current smoothed reduction in dB.
func (g *GainComputer) Envelope() float64 { return g.state }

// Reset zeroes the envelope. Static parameters are left untouched.
func (g *GainComputer) Reset() {
	g.state = 0
	g.maxInputLevel.Store(math.Float64bits(core.MinusInfinityDB))
	g.maxGainReduction.Store(math.Float64bits(0))
}

// GainReduction returns the static (unsmoothed) reduction in dB for a
// detector level in dB. The result is zero or negative.
func (g *GainComputer) GainReduction(levelDB float64) float64 {
	overshoot := levelDB - g.thresholdDB

	if overshoot <= -g.kneeHalfDB {
		return 0
	}

	if overshoot <= g.kneeHalfDB {
		scratch := overshoot + g.kneeHalfDB
		return 0.5 * g.slope * scratch * scratch / g.kneeDB
	}

	return g.slope * overshoot
}

// Characteristic returns the static output level in dB for an input level in
// dB, make-up gain included.
func (g *GainComputer) Characteristic(levelDB float64) float64 {
	return levelDB + g.GainReduction(levelDB) + g.makeUpDB
}

// ComputeDecibels writes the smoothed gain reduction in dB for each
// detector sample into dst. len(dst) must be at least len(sidechain).
func (g *GainComputer) ComputeDecibels(sidechain, dst []float64) {
	g.compute(sidechain, dst)
}

// ComputeLinear writes the linear gain for each detector sample into dst:
// the smoothed reduction with make-up gain applied, ready to multiply into
// audio.
func (g *GainComputer) ComputeLinear(sidechain, dst []float64) {
	g.compute(sidechain, dst)
	g.ApplyMakeUp(dst[:len(sidechain)])
}

// ApplyMakeUp converts a buffer of reduction values in dB to linear gains
// in place, adding the make-up gain first.
func (g *GainComputer) ApplyMakeUp(buf []float64) {
	makeUp := g.makeUpDB
	for i, v := range buf {
		buf[i] = decibelsToGain(v + makeUp)
	}
}

// Meter returns the loudest detector level and the deepest smoothed
// reduction of the most recently processed block, both in dB.
func (g *GainComputer) Meter() (inputDB, reductionDB float64) {
	return math.Float64frombits(g.maxInputLevel.Load()),
		math.Float64frombits(g.maxGainReduction.Load())
}

func (g *GainComputer) compute(sidechain, dst []float64) {
	dst = dst[:len(sidechain)]

	state := g.state
	maxInput := core.MinusInfinityDB
	maxReduction := 0.0

	for i, x := range sidechain {
		level := gainToDecibels(x)
		maxInput = max(maxInput, level)

		diff := g.GainReduction(level) - state
		if diff < 0 {
			state += g.alphaAttack * diff
		} else {
			state += g.alphaRelease * diff
		}

		maxReduction = min(maxReduction, state)
		dst[i] = state
	}

	if !core.IsFinite(state) {
		state = 0
	}
	g.state = core.FlushDenormals(state)
	g.maxInputLevel.Store(math.Float64bits(maxInput))
	g.maxGainReduction.Store(math.Float64bits(maxReduction))
}

func (g *GainComputer) setKnee(kneeDB float64) {
	g.kneeDB = kneeDB
	g.kneeHalfDB = kneeDB * 0.5
}

func (g *GainComputer) setRatio(ratio float64) {
	g.ratio = EffectiveRatio(ratio)
	if math.IsInf(g.ratio, 1) {
		g.slope = -1
	} else {
		g.slope = 1/g.ratio - 1
	}
}

// timeToCoeff returns the one-pole feedback coefficient exp(-1/(t*fs)).
func (g *GainComputer) timeToCoeff(seconds float64) float64 {
	if seconds <= 0 || g.sampleRate <= 0 {
		return 0
	}

	return math.Exp(-1 / (seconds * g.sampleRate))
}
