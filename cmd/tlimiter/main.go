// Command tlimiter inspects and runs the look-ahead limiter offline.
//
// Usage:
//
//	tlimiter [flags] <command>
//
// Examples:
//
//	tlimiter curve --set threshold=-12 --set ratio=4
//	tlimiter latency --sample-rate 44100 --sample-rate 96000
//	tlimiter thd --level -6 --freq 1000
//	tlimiter -c preset.yaml render < in.f32 > out.f32
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/cwbudde/algo-limiter/dsp/limiter"
)

var version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string             `short:"c" type:"path" help:"YAML preset with stream format, limiter parameters and logging."`
	LogLevel string             `name:"log-level" help:"Log level (error, warn, info, debug). Overrides the preset."`
	Set      map[string]float64 `short:"s" placeholder:"KEY=VALUE" help:"Override a parameter by key, e.g. --set threshold=-6."`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Show version information."`

	Curve   CurveCmd   `cmd:"" help:"Print the static input/output characteristic."`
	Params  ParamsCmd  `cmd:"" help:"List parameters with their ranges and current values."`
	Latency LatencyCmd `cmd:"" help:"Report the processing latency per sample rate."`
	THD     THDCmd     `cmd:"" name:"thd" help:"Measure the distortion added to a sine tone."`
	Render  RenderCmd  `cmd:"" help:"Limit raw interleaved float32 little-endian PCM."`
}

// environment is bound into every command's Run method.
type environment struct {
	cfg    Config
	logger *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

func newEnvironment(g Globals, stdin io.Reader, stdout, stderr io.Writer) (*environment, error) {
	cfg := DefaultConfig()
	if g.Config != "" {
		loaded, err := LoadConfigFile(g.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}

	if err := cfg.ApplyOverrides(g.Set); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)

	return &environment{
		cfg:    cfg,
		logger: setupLogger(stderr, level),
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

// newProcessor builds and prepares a processor for the configured stream,
// optionally at a different sample rate.
func (e *environment) newProcessor(sampleRate float64, opts ...limiter.Option) (*limiter.Processor, error) {
	params := limiter.NewParams()
	if err := params.Apply(e.cfg.Limiter.Settings()); err != nil {
		return nil, err
	}

	stream := e.cfg.ProcessorConfig()
	if sampleRate <= 0 {
		sampleRate = stream.SampleRate
	}

	opts = append([]limiter.Option{limiter.WithLogger(e.logger)}, opts...)
	p, err := limiter.New(params, opts...)
	if err != nil {
		return nil, err
	}

	if err := p.Prepare(sampleRate, stream.BlockSize, stream.Channels); err != nil {
		return nil, err
	}

	return p, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tlimiter"),
		kong.Description("Look-ahead limiter and compressor toolbox"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	env, err := newEnvironment(cli.Globals, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := ctx.Run(env); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}
