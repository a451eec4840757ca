package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/dsp/limiter"
	"gopkg.in/yaml.v3"
)

// Config is a YAML preset: stream format, limiter parameters and logging.
type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Limiter LimiterConfig `yaml:"limiter"`
	Logging LoggingConfig `yaml:"logging"`
}

type StreamConfig struct {
	SampleRate float64 `yaml:"sample_rate"`
	BlockSize  int     `yaml:"block_size"`
	Channels   int     `yaml:"channels"`
}

// LimiterConfig mirrors limiter.Settings with YAML-friendly names.
type LimiterConfig struct {
	ThresholdDB float64 `yaml:"threshold_db"`
	KneeDB      float64 `yaml:"knee_db"`
	AttackMs    float64 `yaml:"attack_ms"`
	ReleaseMs   float64 `yaml:"release_ms"`
	Ratio       float64 `yaml:"ratio"`
	MakeUpDB    float64 `yaml:"make_up_db"`
	LookAhead   bool    `yaml:"look_ahead"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with the processor and
// parameter defaults.
func DefaultConfig() Config {
	stream := core.DefaultProcessorConfig()
	settings := limiter.DefaultSettings()

	return Config{
		Stream: StreamConfig{
			SampleRate: stream.SampleRate,
			BlockSize:  stream.BlockSize,
			Channels:   stream.Channels,
		},
		Limiter: limiterConfigFromSettings(settings),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML preset on top of DefaultConfig. Unknown keys
// and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyOverrides sets individual parameters by key, e.g. "threshold": -6.
// Keys are applied in sorted order so errors are reported deterministically.
func (c *Config) ApplyOverrides(overrides map[string]float64) error {
	if len(overrides) == 0 {
		return nil
	}

	params := limiter.NewParams()
	if err := params.Apply(c.Limiter.Settings()); err != nil {
		return err
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := params.SetByKey(k, overrides[k]); err != nil {
			return fmt.Errorf("override %s: %w", k, err)
		}
	}

	c.Limiter = limiterConfigFromSettings(params.Snapshot())

	return nil
}

// Validate checks the whole preset.
func (c Config) Validate() error {
	stream := core.ProcessorConfig{
		SampleRate: c.Stream.SampleRate,
		BlockSize:  c.Stream.BlockSize,
		Channels:   c.Stream.Channels,
	}
	if err := stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	if err := c.Limiter.Settings().Validate(); err != nil {
		return err
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ProcessorConfig returns the stream format as processor options.
func (c Config) ProcessorConfig() core.ProcessorConfig {
	return core.ApplyProcessorOptions(
		core.WithSampleRate(c.Stream.SampleRate),
		core.WithBlockSize(c.Stream.BlockSize),
		core.WithChannels(c.Stream.Channels),
	)
}

// Settings converts the preset into limiter settings.
func (l LimiterConfig) Settings() limiter.Settings {
	return limiter.Settings{
		ThresholdDB: l.ThresholdDB,
		KneeDB:      l.KneeDB,
		AttackMs:    l.AttackMs,
		ReleaseMs:   l.ReleaseMs,
		Ratio:       l.Ratio,
		MakeUpDB:    l.MakeUpDB,
		LookAhead:   l.LookAhead,
	}
}

func limiterConfigFromSettings(s limiter.Settings) LimiterConfig {
	return LimiterConfig{
		ThresholdDB: s.ThresholdDB,
		KneeDB:      s.KneeDB,
		AttackMs:    s.AttackMs,
		ReleaseMs:   s.ReleaseMs,
		Ratio:       s.Ratio,
		MakeUpDB:    s.MakeUpDB,
		LookAhead:   s.LookAhead,
	}
}
