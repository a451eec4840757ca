package main

import (
	"fmt"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/dsp/limiter"
	"github.com/cwbudde/algo-limiter/measure/thd"
)

// CurveCmd prints the static characteristic.
type CurveCmd struct {
	Min    float64 `default:"-60" help:"Lowest input level in dB."`
	Max    float64 `default:"12" help:"Highest input level in dB."`
	Points int     `default:"19" help:"Number of levels to print."`
}

func (c *CurveCmd) Run(env *environment) error {
	if c.Points < 1 || c.Max < c.Min {
		return fmt.Errorf("curve needs points >= 1 and max >= min")
	}

	settings := env.cfg.Limiter.Settings()
	points, err := limiter.Characteristic(settings, limiter.LevelRange(c.Min, c.Max, c.Points))
	if err != nil {
		return err
	}

	printTitle(env.stdout, "Static characteristic")
	printKeyValue(env.stdout, "Threshold", limiter.FormatValue(limiter.ParamThreshold, settings.ThresholdDB))
	printKeyValue(env.stdout, "Ratio", limiter.FormatValue(limiter.ParamRatio, settings.Ratio))
	printKeyValue(env.stdout, "Knee", limiter.FormatValue(limiter.ParamKnee, settings.KneeDB))
	fmt.Fprintln(env.stdout)

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Input [dB]\tReduction [dB]\tOutput [dB]\t\n")
	for _, p := range points {
		fmt.Fprintf(tw, "%.1f\t%.2f\t%.2f\t\n", p.InputDB, p.ReductionDB, p.OutputDB)
	}

	return tw.Flush()
}

// ParamsCmd lists the parameter set.
type ParamsCmd struct{}

func (c *ParamsCmd) Run(env *environment) error {
	params := limiter.NewParams()
	if err := params.Apply(env.cfg.Limiter.Settings()); err != nil {
		return err
	}

	printTitle(env.stdout, "Parameters")

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Key\tName\tRange\tDefault\tValue\n")
	for _, d := range limiter.Definitions() {
		fmt.Fprintf(tw, "%s\t%s\t[%s, %s]\t%s\t%s\n",
			d.Key,
			d.Name,
			strconv.FormatFloat(d.Min, 'g', -1, 64),
			strconv.FormatFloat(d.Max, 'g', -1, 64),
			limiter.FormatValue(d.ID, d.Default),
			limiter.FormatValue(d.ID, params.Get(d.ID)),
		)
	}

	return tw.Flush()
}

// LatencyCmd reports the latency the host has to compensate.
type LatencyCmd struct {
	SampleRate []float64 `name:"sample-rate" help:"Sample rates to report. Defaults to the preset rate."`
}

func (c *LatencyCmd) Run(env *environment) error {
	rates := c.SampleRate
	if len(rates) == 0 {
		rates = []float64{env.cfg.Stream.SampleRate}
	}

	printTitle(env.stdout, "Latency")

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Sample rate [Hz]\tLook-ahead\tReported [samples]\tLook-ahead [samples]\n")

	for _, rate := range rates {
		reported := -1
		p, err := env.newProcessor(rate, limiter.WithLatencyReporter(limiter.LatencyReporterFunc(func(samples int) {
			reported = samples
		})))
		if err != nil {
			return err
		}

		fmt.Fprintf(tw, "%g\t%s\t%d\t%d\n",
			rate,
			limiter.FormatValue(limiter.ParamLookAhead, boolToValue(env.cfg.Limiter.LookAhead)),
			reported,
			p.LookAheadSamples(),
		)
	}

	return tw.Flush()
}

// THDCmd runs a sine through the limiter and measures its distortion.
type THDCmd struct {
	Freq    float64 `default:"1000" help:"Tone frequency in Hz."`
	Level   float64 `default:"0" help:"Tone peak level in dBFS."`
	Seconds float64 `default:"1" help:"Tone length in seconds. The last FFT frame is analyzed."`
	FFTSize int     `name:"fft-size" default:"8192" help:"FFT size."`
}

func (c *THDCmd) Run(env *environment) error {
	stream := env.cfg.ProcessorConfig()
	length := int(c.Seconds * stream.SampleRate)
	if length < c.FFTSize {
		return fmt.Errorf("thd needs at least %d samples, tone has %d", c.FFTSize, length)
	}

	p, err := env.newProcessor(0)
	if err != nil {
		return err
	}

	amplitude := core.DecibelsToGain(c.Level)
	step := 2 * math.Pi * c.Freq / stream.SampleRate

	channels := core.NewChannels(stream.Channels, length)
	for i := range length {
		x := amplitude * math.Sin(step*float64(i))
		for ch := range channels {
			channels[ch][i] = x
		}
	}

	block := make([][]float64, stream.Channels)
	for start := 0; start < length; start += stream.BlockSize {
		end := min(start+stream.BlockSize, length)
		for ch := range block {
			block[ch] = channels[ch][start:end]
		}
		p.Process(block, stream.Channels)
	}

	res, err := thd.Analyze(channels[0][length-c.FFTSize:], thd.Config{
		SampleRate:      stream.SampleRate,
		FFTSize:         c.FFTSize,
		FundamentalFreq: c.Freq,
	})
	if err != nil {
		return err
	}

	inputDB, reductionDB := p.Meter()

	printTitle(env.stdout, "Harmonic distortion")
	printKeyValue(env.stdout, "Fundamental", fmt.Sprintf("%.1f Hz", res.FundamentalFreq))
	printKeyValue(env.stdout, "Input peak", fmt.Sprintf("%.2f dB", inputDB))
	printKeyValue(env.stdout, "Gain reduction", fmt.Sprintf("%.2f dB", reductionDB))
	printKeyValue(env.stdout, "THD", fmt.Sprintf("%.4f %% (%.1f dB)", res.THD*100, res.THDDB()))
	printKeyValue(env.stdout, "THD+N", fmt.Sprintf("%.4f %% (%.1f dB)", res.THDN*100, res.THDNDB()))

	return nil
}

// RenderCmd limits a raw PCM stream.
type RenderCmd struct {
	Input      string `short:"i" type:"existingfile" help:"Input file. Defaults to standard input."`
	Output     string `short:"o" type:"path" help:"Output file. Defaults to standard output."`
	Compensate bool   `help:"Drop the look-ahead latency so output aligns with input."`
}

func (c *RenderCmd) Run(env *environment) error {
	stream := env.cfg.ProcessorConfig()

	p, err := env.newProcessor(0)
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(c.Input, env.stdin)
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(c.Output, env.stdout)
	if err != nil {
		return err
	}

	frames, err := newRenderer(p, stream.Channels, stream.BlockSize, c.Compensate).run(in, out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	inputDB, reductionDB := p.Meter()
	env.logger.Info("render finished",
		"frames", frames,
		"latency_samples", p.LatencySamples(),
		"compensated", c.Compensate,
		"last_input_db", inputDB,
		"last_reduction_db", reductionDB)

	return nil
}

func boolToValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
