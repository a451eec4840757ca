package delay

import (
	"fmt"

	"github.com/cwbudde/algo-limiter/dsp/core"
)

const maxDelaySeconds = 1.0

// Delay delays every channel of a block by a fixed time. The delay time is
// set at construction and takes effect on the next Prepare.
type Delay struct {
	delayTime    float64
	sampleRate   float64
	delaySamples int
	maxBlockSize int
	lines        []Line
}

// NewDelay returns a multichannel delay of delaySeconds.
func NewDelay(delaySeconds float64) (*Delay, error) {
	if delaySeconds < 0 || delaySeconds > maxDelaySeconds || !core.IsFinite(delaySeconds) {
		return nil, fmt.Errorf("delay time must be in [0, %f]: %f", maxDelaySeconds, delaySeconds)
	}
	return &Delay{delayTime: delaySeconds}, nil
}

// Prepare sizes storage for the given stream format and clears all lines.
// Each line holds maxBlockSize + delay samples.
func (d *Delay) Prepare(sampleRate float64, maxBlockSize, channels int) error {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return fmt.Errorf("delay sample rate must be positive and finite: %f", sampleRate)
	}
	if maxBlockSize <= 0 {
		return fmt.Errorf("delay block size must be > 0: %d", maxBlockSize)
	}
	if channels <= 0 {
		return fmt.Errorf("delay channel count must be > 0: %d", channels)
	}

	d.sampleRate = sampleRate
	d.maxBlockSize = maxBlockSize
	d.delaySamples = core.TimeToSamples(d.delayTime, sampleRate)

	if len(d.lines) != channels {
		d.lines = make([]Line, channels)
	}
	for i := range d.lines {
		if err := d.lines[i].Prepare(maxBlockSize + d.delaySamples); err != nil {
			return err
		}
	}
	return nil
}

// DelayTime returns the configured delay in seconds.
func (d *Delay) DelayTime() float64 { return d.delayTime }

// DelaySamples returns the delay in samples at the prepared sample rate.
func (d *Delay) DelaySamples() int { return d.delaySamples }

// Channels returns the prepared channel count.
func (d *Delay) Channels() int { return len(d.lines) }

// ProcessInPlace delays up to Channels() channels of buf. All channels must
// have the same length, at most the prepared block size.
func (d *Delay) ProcessInPlace(buf [][]float64) {
	if len(buf) > len(d.lines) {
		panic(fmt.Sprintf("delay: %d channels exceed prepared %d", len(buf), len(d.lines)))
	}
	for ch, block := range buf {
		d.lines[ch].Process(block, d.delaySamples)
	}
}

// ResetChannel flushes the line of one channel.
func (d *Delay) ResetChannel(ch int) {
	d.lines[ch].Reset()
}

// Reset flushes all delay lines.
func (d *Delay) Reset() {
	for i := range d.lines {
		d.lines[i].Reset()
	}
}
