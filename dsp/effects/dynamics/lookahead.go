package dynamics

import (
	"fmt"

	"github.com/cwbudde/algo-limiter/dsp/core"
)

const maxLookAheadTime = 0.1

type smootherPhase int

const (
	phaseIdle smootherPhase = iota
	phasePushed
	phaseProcessed
)

// LookAheadSmoother delays a gain-reduction stream in dB by a fixed time and
// fades each reduction in over that time, so the reduction is already fully
// engaged when the matching audio leaves an equally long delay line.
//
// Every block goes through exactly one Push, one Process and one Read, in
// that order, with the same length for Push and Read. Any other sequence
// panics.
type LookAheadSmoother struct {
	delayTime    float64
	delaySamples int
	maxBlockSize int

	buffer     []float64
	writePos   int
	lastPushed int
	phase      smootherPhase
}

// NewLookAheadSmoother returns a smoother with the given delay in seconds.
// The delay takes effect on the next Prepare.
func NewLookAheadSmoother(delaySeconds float64) (*LookAheadSmoother, error) {
	if delaySeconds < 0 || delaySeconds > maxLookAheadTime || !core.IsFinite(delaySeconds) {
		return nil, fmt.Errorf("look-ahead delay must be in [0, %f]: %f", maxLookAheadTime, delaySeconds)
	}

	return &LookAheadSmoother{delayTime: delaySeconds}, nil
}

// Prepare sizes the internal buffer to maxBlockSize plus the delay and
// clears it.
func (s *LookAheadSmoother) Prepare(sampleRate float64, maxBlockSize int) error {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return fmt.Errorf("look-ahead sample rate must be positive and finite: %f", sampleRate)
	}
	if maxBlockSize <= 0 {
		return fmt.Errorf("look-ahead block size must be > 0: %d", maxBlockSize)
	}

	s.delaySamples = core.TimeToSamples(s.delayTime, sampleRate)
	s.maxBlockSize = maxBlockSize

	size := maxBlockSize + s.delaySamples
	if len(s.buffer) != size {
		s.buffer = make([]float64, size)
	}
	s.Reset()

	return nil
}

// DelayTime returns the configured delay in seconds.
func (s *LookAheadSmoother) DelayTime() float64 { return s.delayTime }

// DelaySamples returns the delay in samples at the prepared sample rate.
func (s *LookAheadSmoother) DelaySamples() int { return s.delaySamples }

// Reset clears the buffered reduction history.
func (s *LookAheadSmoother) Reset() {
	core.Zero(s.buffer)
	s.writePos = 0
	s.lastPushed = 0
	s.phase = phaseIdle
}

// Push appends one block of reduction values in dB.
func (s *LookAheadSmoother) Push(src []float64) {
	if s.phase != phaseIdle {
		panic("dynamics: look-ahead Push called twice without Process and Read")
	}
	if len(src) > s.maxBlockSize {
		panic(fmt.Sprintf("dynamics: look-ahead block of %d exceeds prepared %d", len(src), s.maxBlockSize))
	}

	size := len(s.buffer)
	first := min(size-s.writePos, len(src))
	copy(s.buffer[s.writePos:], src[:first])
	copy(s.buffer, src[first:])

	s.writePos = (s.writePos + len(src)) % size
	s.lastPushed = len(src)
	s.phase = phasePushed
}

// Process fades in the reductions of the last pushed block. Walking back
// from the newest sample, each reduction deeper than the running ramp starts
// a new linear ramp that reaches zero after the delay time; shallower
// samples are pulled down onto the ramp. The ramp continues into the still
// unread history until it is no longer the deeper value.
func (s *LookAheadSmoother) Process() {
	if s.phase != phasePushed {
		panic("dynamics: look-ahead Process called without Push")
	}
	s.phase = phaseProcessed

	if s.delaySamples == 0 {
		return
	}

	size := len(s.buffer)
	delay := float64(s.delaySamples)
	idx := s.writePos
	next, step := 0.0, 0.0

	for range s.lastPushed {
		idx = prevIndex(idx, size)

		v := s.buffer[idx]
		if v > next {
			s.buffer[idx] = next
			next += step
		} else {
			step = -v / delay
			next = v + step
		}
	}

	for range s.delaySamples {
		idx = prevIndex(idx, size)

		v := s.buffer[idx]
		if !(v > next) {
			break
		}
		s.buffer[idx] = next
		next += step
	}
}

// Read copies the block that is delaySamples behind the last Push into dst.
// len(dst) must equal the length of the last pushed block.
func (s *LookAheadSmoother) Read(dst []float64) {
	if s.phase != phaseProcessed {
		panic("dynamics: look-ahead Read called without Process")
	}
	if len(dst) != s.lastPushed {
		panic(fmt.Sprintf("dynamics: look-ahead read of %d after push of %d", len(dst), s.lastPushed))
	}
	s.phase = phaseIdle

	size := len(s.buffer)
	start := s.writePos - s.lastPushed - s.delaySamples
	if start < 0 {
		start += size
	}

	first := min(size-start, len(dst))
	copy(dst[:first], s.buffer[start:])
	copy(dst[first:], s.buffer[:len(dst)-first])
}

func prevIndex(idx, size int) int {
	if idx == 0 {
		return size - 1
	}

	return idx - 1
}
