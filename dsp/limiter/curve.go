package limiter

import (
	"fmt"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/dsp/effects/dynamics"
)

// CurvePoint is one point of the static input/output characteristic.
type CurvePoint struct {
	InputDB     float64
	ReductionDB float64
	OutputDB    float64
}

// Characteristic evaluates the static curve of s, make-up gain included, at
// each input level. It is meant for displays and reports, not the audio path.
func Characteristic(s Settings, levelsDB []float64) ([]CurvePoint, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	gc, err := dynamics.NewGainComputer(core.DefaultProcessorConfig().SampleRate)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	proc := &Processor{gain: gc}
	if err := proc.applySettings(s); err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	out := make([]CurvePoint, len(levelsDB))
	for i, level := range levelsDB {
		out[i] = CurvePoint{
			InputDB:     level,
			ReductionDB: gc.GainReduction(level),
			OutputDB:    gc.Characteristic(level),
		}
	}

	return out, nil
}

// LevelRange returns count levels spaced evenly from minDB to maxDB.
func LevelRange(minDB, maxDB float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return []float64{minDB}
	}

	out := make([]float64, count)
	step := (maxDB - minDB) / float64(count-1)
	for i := range out {
		out[i] = minDB + step*float64(i)
	}
	out[count-1] = maxDB

	return out
}
