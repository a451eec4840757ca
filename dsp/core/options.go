package core

import "fmt"

// MaxChannels is the widest stream format ProcessorConfig accepts.
const MaxChannels = 2

// ProcessorConfig is the stream format a processor is prepared for.
type ProcessorConfig struct {
	SampleRate float64
	BlockSize  int
	Channels   int
}

// ProcessorOption mutates a ProcessorConfig.
type ProcessorOption func(*ProcessorConfig)

// DefaultProcessorConfig returns a 48 kHz stereo format with 512-sample blocks.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		SampleRate: 48000,
		BlockSize:  512,
		Channels:   2,
	}
}

// WithSampleRate sets the processing sample rate.
func WithSampleRate(sampleRate float64) ProcessorOption {
	return func(cfg *ProcessorConfig) {
		if sampleRate > 0 {
			cfg.SampleRate = sampleRate
		}
	}
}

// WithBlockSize sets the maximum processing block size.
func WithBlockSize(blockSize int) ProcessorOption {
	return func(cfg *ProcessorConfig) {
		if blockSize > 0 {
			cfg.BlockSize = blockSize
		}
	}
}

// WithChannels sets the channel count. Only mono and stereo are accepted.
func WithChannels(channels int) ProcessorOption {
	return func(cfg *ProcessorConfig) {
		if channels >= 1 && channels <= MaxChannels {
			cfg.Channels = channels
		}
	}
}

// ApplyProcessorOptions applies zero or more options to the default config.
func ApplyProcessorOptions(opts ...ProcessorOption) ProcessorConfig {
	cfg := DefaultProcessorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Validate reports the first field outside its accepted range. Options skip
// invalid values silently; Validate is for formats built by hand or decoded
// from a file.
func (c ProcessorConfig) Validate() error {
	if c.SampleRate <= 0 || !IsFinite(c.SampleRate) {
		return fmt.Errorf("sample rate must be > 0: %f", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0: %d", c.BlockSize)
	}
	if c.Channels < 1 || c.Channels > MaxChannels {
		return fmt.Errorf("channel count must be in [1, %d]: %d", MaxChannels, c.Channels)
	}
	return nil
}
