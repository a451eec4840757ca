// Package thd measures harmonic distortion of a steady tone, for example
// the distortion a limiter adds while it holds a sine under its threshold.
package thd

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

const (
	defaultRangeLowerHz = 20.0
	defaultRangeUpperHz = 20000.0

	// Half-width of the Hann main lobe in bins.
	hannCaptureBins = 2
)

// ErrEmptySignal is returned when there is nothing to analyze.
var ErrEmptySignal = errors.New("thd: empty signal")

// Config holds analysis parameters. Zero values select defaults.
type Config struct {
	SampleRate float64
	// FFTSize defaults to the next power of two of the signal length.
	FFTSize int
	// FundamentalFreq is searched for in the analysis range when zero.
	FundamentalFreq float64
	RangeLowerFreq  float64
	RangeUpperFreq  float64
	// CaptureBins is the number of bins summed on each side of a peak.
	CaptureBins  int
	MaxHarmonics int
}

// Result holds the measured levels, all relative to the fundamental.
type Result struct {
	FundamentalFreq  float64
	FundamentalLevel float64
	THD              float64
	THDN             float64
	OddHD            float64
	EvenHD           float64
	Harmonics        []float64
}

// THDDB returns THD in dB, -Inf for a distortion-free signal.
func (r Result) THDDB() float64 { return ratioToDB(r.THD) }

// THDNDB returns THD+N in dB.
func (r Result) THDNDB() float64 { return ratioToDB(r.THDN) }

// SINAD returns the signal to noise-and-distortion ratio in dB.
func (r Result) SINAD() float64 {
	if r.THDN <= 0 {
		return math.Inf(1)
	}
	return -ratioToDB(r.THDN)
}

// Analyzer runs repeated analyses at one FFT size without reallocating.
type Analyzer struct {
	cfg  Config
	plan *algofft.Plan[complex128]

	window []float64
	in     []complex128
	out    []complex128
	re     []float64
	im     []float64
	power  []float64
}

// NewAnalyzer creates an analyzer for cfg. cfg.FFTSize and cfg.SampleRate
// must be set.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.SampleRate <= 0 || math.IsNaN(cfg.SampleRate) || math.IsInf(cfg.SampleRate, 0) {
		return nil, fmt.Errorf("thd sample rate must be positive and finite: %f", cfg.SampleRate)
	}
	if cfg.FFTSize < 4 {
		return nil, fmt.Errorf("thd FFT size must be >= 4: %d", cfg.FFTSize)
	}

	plan, err := algofft.NewPlan64(cfg.FFTSize)
	if err != nil {
		return nil, fmt.Errorf("thd: %w", err)
	}

	cfg = normalizeConfig(cfg)
	bins := cfg.FFTSize/2 + 1

	return &Analyzer{
		cfg:   cfg,
		plan:  plan,
		in:    make([]complex128, cfg.FFTSize),
		out:   make([]complex128, cfg.FFTSize),
		re:    make([]float64, bins),
		im:    make([]float64, bins),
		power: make([]float64, bins),
	}, nil
}

// Analyze is a one-shot analysis of signal.
func Analyze(signal []float64, cfg Config) (Result, error) {
	if len(signal) == 0 {
		return Result{}, ErrEmptySignal
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = nextPowerOf2(len(signal))
	}

	a, err := NewAnalyzer(cfg)
	if err != nil {
		return Result{}, err
	}

	return a.Analyze(signal)
}

// Analyze windows up to FFTSize samples of signal with a periodic Hann window,
// transforms them and measures the harmonics of the fundamental.
func (a *Analyzer) Analyze(signal []float64) (Result, error) {
	if len(signal) == 0 {
		return Result{}, ErrEmptySignal
	}

	n := min(len(signal), a.cfg.FFTSize)
	w := a.hann(n)

	for i := range a.in {
		a.in[i] = 0
	}
	for i, x := range signal[:n] {
		a.in[i] = complex(x*w[i], 0)
	}

	if err := a.plan.Forward(a.out, a.in); err != nil {
		return Result{}, fmt.Errorf("thd: %w", err)
	}

	for i := range a.power {
		a.re[i] = real(a.out[i])
		a.im[i] = imag(a.out[i])
	}
	vecmath.Power(a.power, a.re, a.im)

	return a.fromPower(a.power), nil
}

func (a *Analyzer) hann(n int) []float64 {
	if len(a.window) == n {
		return a.window
	}

	// Periodic Hann: a tone centered on a bin spreads over exactly three bins.
	a.window = make([]float64, n)
	for i := range a.window {
		a.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}

	return a.window
}

func (a *Analyzer) fromPower(power []float64) Result {
	cfg := a.cfg
	maxBin := len(power) - 1
	binHz := cfg.SampleRate / float64(cfg.FFTSize)

	lowerBin := clampInt(int(math.Round(cfg.RangeLowerFreq/binHz)), 1, maxBin)
	upperBin := clampInt(int(math.Round(cfg.RangeUpperFreq/binHz)), lowerBin, maxBin)

	fundamentalBin := lowerBin
	if cfg.FundamentalFreq > 0 {
		fundamentalBin = clampInt(int(math.Round(cfg.FundamentalFreq/binHz)), lowerBin, upperBin)
	} else {
		for i := lowerBin + 1; i <= upperBin; i++ {
			if power[i] > power[fundamentalBin] {
				fundamentalBin = i
			}
		}
	}

	capture := min(cfg.CaptureBins, fundamentalBin/2)

	res := Result{FundamentalFreq: float64(fundamentalBin) * binHz}

	fundamental := binSum(power, fundamentalBin, capture)
	if fundamental <= 0 {
		return res
	}
	res.FundamentalLevel = fundamental

	var harmonicSum, odd, even float64
	for k := 2; cfg.MaxHarmonics <= 0 || k-1 <= cfg.MaxHarmonics; k++ {
		bin := k * fundamentalBin
		if bin > upperBin {
			break
		}

		v := binSum(power, bin, capture)
		harmonicSum += v
		if k%2 == 0 {
			even += v
		} else {
			odd += v
		}
		res.Harmonics = append(res.Harmonics, v/fundamental)
	}

	total := 0.0
	for i := lowerBin; i <= upperBin; i++ {
		total += sqrtPositive(power[i])
	}

	res.THD = harmonicSum / fundamental
	res.THDN = max(total-fundamental, 0) / fundamental
	res.OddHD = odd / fundamental
	res.EvenHD = even / fundamental

	return res
}

func normalizeConfig(cfg Config) Config {
	if cfg.RangeLowerFreq <= 0 {
		cfg.RangeLowerFreq = defaultRangeLowerHz
	}

	if cfg.RangeUpperFreq <= 0 {
		cfg.RangeUpperFreq = min(defaultRangeUpperHz, cfg.SampleRate/2)
	}

	if cfg.RangeUpperFreq < cfg.RangeLowerFreq {
		cfg.RangeUpperFreq = cfg.RangeLowerFreq
	}

	if cfg.CaptureBins <= 0 {
		cfg.CaptureBins = hannCaptureBins
	}

	if cfg.MaxHarmonics < 0 {
		cfg.MaxHarmonics = 0
	}

	return cfg
}

func binSum(power []float64, bin, capture int) float64 {
	if bin < 0 || bin >= len(power) {
		return 0
	}

	lo := max(bin-capture, 0)
	hi := min(bin+capture, len(power)-1)

	sum := 0.0
	for i := lo; i <= hi; i++ {
		sum += sqrtPositive(power[i])
	}

	return sum
}

func sqrtPositive(v float64) float64 {
	if v <= 0 {
		return 0
	}

	return math.Sqrt(v)
}

func ratioToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(v)
}

func clampInt(val, lo, hi int) int {
	if val < lo {
		return lo
	}

	if val > hi {
		return hi
	}

	return val
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
