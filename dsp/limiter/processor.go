package limiter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/dsp/delay"
	"github.com/cwbudde/algo-limiter/dsp/effects/dynamics"
	"github.com/cwbudde/algo-vecmath"
)

// LookAheadTime is the default look-ahead in seconds. The audio delay and the
// gain-reduction fade always share one look-ahead time.
const LookAheadTime = 0.005

// LatencyReporter receives the processing latency whenever it changes.
// SetLatencySamples may be called from the audio goroutine and must not
// block.
type LatencyReporter interface {
	SetLatencySamples(samples int)
}

// LatencyReporterFunc adapts a function to LatencyReporter.
type LatencyReporterFunc func(samples int)

// SetLatencySamples calls f(samples).
func (f LatencyReporterFunc) SetLatencySamples(samples int) { f(samples) }

type options struct {
	reporter      LatencyReporter
	logger        *slog.Logger
	lookAheadTime float64
}

// Option configures a Processor.
type Option func(*options)

// WithLatencyReporter sets the receiver of latency changes.
func WithLatencyReporter(r LatencyReporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithLogger sets the logger used outside the audio path. The default
// discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLookAheadTime overrides LookAheadTime for both the audio delay and the
// reduction fade.
func WithLookAheadTime(seconds float64) Option {
	return func(o *options) {
		o.lookAheadTime = seconds
	}
}

// Processor is the block-level limiter. It derives a peak detector signal
// from the input channels, computes a smoothed gain reduction and applies it
// to every input channel in place. With look-ahead enabled the audio is
// delayed and the reduction is faded in ahead of each peak.
//
// Prepare, Process and Reset belong to the audio goroutine. Parameters are
// changed through the shared Params from any goroutine and take effect at
// the start of the next block.
type Processor struct {
	params   *Params
	reporter LatencyReporter
	logger   *slog.Logger

	gain     *dynamics.GainComputer
	smoother *dynamics.LookAheadSmoother
	delay    *delay.Delay

	sidechain []float64
	reduction []float64

	sampleRate   float64
	maxBlockSize int
	channels     int
	prepared     bool

	appliedVersion uint64
	activeInputs   int
	lookAhead      bool
	latency        int
}

// New creates a processor reading from params. A nil params gets a fresh
// default set.
func New(params *Params, opts ...Option) (*Processor, error) {
	o := options{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		lookAheadTime: LookAheadTime,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if params == nil {
		params = NewParams()
	}

	smoother, err := dynamics.NewLookAheadSmoother(o.lookAheadTime)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	d, err := delay.NewDelay(o.lookAheadTime)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	gc, err := dynamics.NewGainComputer(core.DefaultProcessorConfig().SampleRate)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	return &Processor{
		params:   params,
		reporter: o.reporter,
		logger:   o.logger,
		gain:     gc,
		smoother: smoother,
		delay:    d,
	}, nil
}

// Params returns the parameter set the processor reads from.
func (p *Processor) Params() *Params { return p.params }

// Prepare allocates all buffers for the given stream format, applies the
// current parameters, clears all state and reports the latency.
func (p *Processor) Prepare(sampleRate float64, maxBlockSize, channels int) error {
	if channels < 1 {
		return fmt.Errorf("limiter channel count must be >= 1: %d", channels)
	}

	if err := p.gain.Prepare(sampleRate); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if err := p.smoother.Prepare(sampleRate, maxBlockSize); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if err := p.delay.Prepare(sampleRate, maxBlockSize, channels); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}

	p.sidechain = core.EnsureLen(p.sidechain, maxBlockSize)
	p.reduction = core.EnsureLen(p.reduction, maxBlockSize)

	p.sampleRate = sampleRate
	p.maxBlockSize = maxBlockSize
	p.channels = channels

	p.appliedVersion = p.params.Version()
	settings := p.params.Snapshot()
	if err := p.applySettings(settings); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	p.prepared = true
	p.lookAhead = settings.LookAhead
	p.Reset()
	p.updateLatency()

	p.logger.Info("limiter prepared",
		"sample_rate", sampleRate,
		"max_block_size", maxBlockSize,
		"channels", channels,
		"look_ahead", p.lookAhead,
		"latency_samples", p.latency)

	return nil
}

// Process limits buf in place. The first numInputs channels carry audio;
// any further channels are cleared. All channels must have the same length,
// at most the prepared block size. numInputs may change between blocks; a
// channel that becomes active again starts from an empty delay line.
//
// Process panics if the processor is not prepared or the block violates the
// prepared format. It never allocates, locks or logs.
func (p *Processor) Process(buf [][]float64, numInputs int) {
	if !p.prepared {
		panic(ErrNotPrepared)
	}
	if numInputs < 1 || numInputs > len(buf) || numInputs > p.channels {
		panic(fmt.Sprintf("limiter: %d input channels invalid for %d buffers and %d prepared channels",
			numInputs, len(buf), p.channels))
	}

	n := len(buf[0])
	if n > p.maxBlockSize {
		panic(fmt.Sprintf("limiter: block of %d exceeds prepared %d", n, p.maxBlockSize))
	}

	p.syncParams()

	for ch := p.activeInputs; ch < numInputs; ch++ {
		p.delay.ResetChannel(ch)
	}
	p.activeInputs = numInputs

	for _, ch := range buf[numInputs:] {
		core.Zero(ch)
	}

	if n == 0 {
		return
	}

	inputs := buf[:numInputs]
	sidechain := dynamics.DetectPeak(p.sidechain, inputs)
	reduction := p.reduction[:n]

	if p.lookAhead {
		p.gain.ComputeDecibels(sidechain, reduction)
		p.delay.ProcessInPlace(inputs)

		p.smoother.Push(reduction)
		p.smoother.Process()
		p.smoother.Read(reduction)

		p.gain.ApplyMakeUp(reduction)
	} else {
		p.gain.ComputeLinear(sidechain, reduction)
	}

	for _, ch := range inputs {
		vecmath.MulBlockInPlace(ch[:n], reduction)
	}
}

// Reset clears the envelope, the audio delay and the reduction fade.
// Parameters and the prepared format are kept.
func (p *Processor) Reset() {
	p.gain.Reset()
	p.delay.Reset()
	p.smoother.Reset()
	p.activeInputs = p.channels
}

// LatencySamples returns the current processing latency in samples: the
// look-ahead delay when look-ahead is enabled, otherwise zero.
func (p *Processor) LatencySamples() int {
	return p.latency
}

// LookAheadSamples returns the look-ahead delay in samples at the prepared
// sample rate, whether or not look-ahead is enabled.
func (p *Processor) LookAheadSamples() int {
	return p.delay.DelaySamples()
}

// SampleRate returns the prepared sample rate, or zero before Prepare.
func (p *Processor) SampleRate() float64 { return p.sampleRate }

// Meter returns the loudest detector level and the deepest smoothed
// reduction of the last processed block, both in dB. It may be called from
// any goroutine.
func (p *Processor) Meter() (inputDB, reductionDB float64) {
	return p.gain.Meter()
}

// syncParams pushes parameter changes into the gain computer and switches
// the look-ahead topology at a block boundary.
func (p *Processor) syncParams() {
	version := p.params.Version()
	if version == p.appliedVersion {
		return
	}
	p.appliedVersion = version

	settings := p.params.Snapshot()
	if err := p.applySettings(settings); err != nil {
		// Params ranges lie inside the gain computer's domain.
		panic(err)
	}

	if settings.LookAhead == p.lookAhead {
		return
	}

	p.lookAhead = settings.LookAhead
	if p.lookAhead {
		// Drop audio and reductions buffered during an earlier look-ahead run.
		p.delay.Reset()
		p.smoother.Reset()
	}
	p.updateLatency()
}

// applySettings copies settings into the gain computer and reports every
// value it rejected.
func (p *Processor) applySettings(s Settings) error {
	return errors.Join(
		p.gain.SetThreshold(s.ThresholdDB),
		p.gain.SetKnee(s.KneeDB),
		p.gain.SetRatio(s.Ratio),
		p.gain.SetAttackTime(s.AttackMs/1000),
		p.gain.SetReleaseTime(s.ReleaseMs/1000),
		p.gain.SetMakeUpGain(s.MakeUpDB),
	)
}

func (p *Processor) updateLatency() {
	latency := 0
	if p.lookAhead {
		latency = p.delay.DelaySamples()
	}

	p.latency = latency
	if p.reporter != nil {
		p.reporter.SetLatencySamples(latency)
	}
}
