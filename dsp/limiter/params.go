package limiter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cwbudde/algo-limiter/dsp/effects/dynamics"
)

// ParamID identifies one automatable parameter.
type ParamID int

const (
	ParamThreshold ParamID = iota
	ParamKnee
	ParamAttack
	ParamRelease
	ParamRatio
	ParamMakeUp
	ParamLookAhead

	numParams
)

var (
	// ErrUnknownParameter is returned for ids outside the parameter set.
	ErrUnknownParameter = errors.New("limiter: unknown parameter")
	// ErrNotPrepared is returned by operations that need a prior Prepare.
	ErrNotPrepared = errors.New("limiter: processor not prepared")
)

// Definition describes the range and presentation of a parameter.
type Definition struct {
	ID      ParamID
	Key     string
	Name    string
	Unit    string
	Min     float64
	Max     float64
	Default float64
	Step    float64
	Toggle  bool

	// CurveParam marks parameters that change the static characteristic.
	CurveParam bool
}

var definitions = [numParams]Definition{
	ParamThreshold: {ID: ParamThreshold, Key: "threshold", Name: "Threshold", Unit: "dB", Min: -50, Max: 10, Default: -30, Step: 0.1, CurveParam: true},
	ParamKnee:      {ID: ParamKnee, Key: "knee", Name: "Knee", Unit: "dB", Min: 0, Max: 30, Default: 0, Step: 0.1, CurveParam: true},
	ParamAttack:    {ID: ParamAttack, Key: "attack", Name: "Attack Time", Unit: "ms", Min: 0, Max: 100, Default: 30, Step: 0.1},
	ParamRelease:   {ID: ParamRelease, Key: "release", Name: "Release Time", Unit: "ms", Min: 0, Max: 800, Default: 150, Step: 0.1},
	ParamRatio:     {ID: ParamRatio, Key: "ratio", Name: "Ratio", Unit: " : 1", Min: 1, Max: 16, Default: 16, Step: 0.1, CurveParam: true},
	ParamMakeUp:    {ID: ParamMakeUp, Key: "makeUp", Name: "MakeUp Gain", Unit: "dB", Min: -10, Max: 20, Default: 0, Step: 0.1, CurveParam: true},
	ParamLookAhead: {ID: ParamLookAhead, Key: "lookAhead", Name: "Look-Ahead", Min: 0, Max: 1, Default: 0, Step: 1, Toggle: true},
}

// Definitions returns the definitions of all parameters in id order.
func Definitions() []Definition {
	out := make([]Definition, numParams)
	copy(out, definitions[:])
	return out
}

// String returns the stable key of id, e.g. "threshold".
func (id ParamID) String() string {
	if !id.valid() {
		return "ParamID(" + strconv.Itoa(int(id)) + ")"
	}
	return definitions[id].Key
}

// Definition returns the definition of id.
func (id ParamID) Definition() (Definition, error) {
	if !id.valid() {
		return Definition{}, fmt.Errorf("%w: %d", ErrUnknownParameter, int(id))
	}
	return definitions[id], nil
}

func (id ParamID) valid() bool {
	return id >= 0 && id < numParams
}

// ParseParamID looks up a parameter by key. Matching ignores case.
func ParseParamID(key string) (ParamID, error) {
	for _, d := range definitions {
		if strings.EqualFold(d.Key, key) {
			return d.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, key)
}

// Settings is a plain copy of all parameter values in their display units.
type Settings struct {
	ThresholdDB float64
	KneeDB      float64
	AttackMs    float64
	ReleaseMs   float64
	Ratio       float64
	MakeUpDB    float64
	LookAhead   bool
}

// DefaultSettings returns the default value of every parameter.
func DefaultSettings() Settings {
	return Settings{
		ThresholdDB: definitions[ParamThreshold].Default,
		KneeDB:      definitions[ParamKnee].Default,
		AttackMs:    definitions[ParamAttack].Default,
		ReleaseMs:   definitions[ParamRelease].Default,
		Ratio:       definitions[ParamRatio].Default,
		MakeUpDB:    definitions[ParamMakeUp].Default,
		LookAhead:   definitions[ParamLookAhead].Default > 0.5,
	}
}

// Validate checks every value against its parameter range.
func (s Settings) Validate() error {
	v := s.values()
	for i, d := range definitions {
		if v[i] < d.Min || v[i] > d.Max || math.IsNaN(v[i]) {
			return fmt.Errorf("limiter %s must be in [%f, %f]: %f", d.Key, d.Min, d.Max, v[i])
		}
	}
	return nil
}

func (s Settings) values() [numParams]float64 {
	var v [numParams]float64
	v[ParamThreshold] = s.ThresholdDB
	v[ParamKnee] = s.KneeDB
	v[ParamAttack] = s.AttackMs
	v[ParamRelease] = s.ReleaseMs
	v[ParamRatio] = s.Ratio
	v[ParamMakeUp] = s.MakeUpDB
	if s.LookAhead {
		v[ParamLookAhead] = 1
	}
	return v
}

// Params holds the live parameter values shared between a control goroutine
// and the audio goroutine. Each value is stored atomically on its own; a
// reader may observe a mix of old and new values while several are being
// written.
type Params struct {
	values  [numParams]atomic.Uint64
	version atomic.Uint64

	characteristicChanged atomic.Bool
}

// NewParams returns parameters holding their defaults.
func NewParams() *Params {
	p := &Params{}
	for i, d := range definitions {
		p.values[i].Store(math.Float64bits(d.Default))
	}
	p.characteristicChanged.Store(true)
	return p
}

// Set stores value for id after validating it against the parameter range.
// Toggles accept any value in [0, 1] and store 0 or 1.
func (p *Params) Set(id ParamID, value float64) error {
	d, err := id.Definition()
	if err != nil {
		return err
	}

	if value < d.Min || value > d.Max || math.IsNaN(value) {
		return fmt.Errorf("limiter %s must be in [%f, %f]: %f", d.Key, d.Min, d.Max, value)
	}

	if d.Toggle {
		if value > 0.5 {
			value = 1
		} else {
			value = 0
		}
	}

	p.values[id].Store(math.Float64bits(value))
	p.version.Add(1)

	if d.CurveParam {
		p.characteristicChanged.Store(true)
	}

	return nil
}

// SetByKey is Set addressed by parameter key.
func (p *Params) SetByKey(key string, value float64) error {
	id, err := ParseParamID(key)
	if err != nil {
		return err
	}
	return p.Set(id, value)
}

// Get returns the current value of id. Unknown ids return NaN.
func (p *Params) Get(id ParamID) float64 {
	if !id.valid() {
		return math.NaN()
	}
	return math.Float64frombits(p.values[id].Load())
}

// Apply validates all of s and stores it. Nothing is stored on error.
func (p *Params) Apply(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	v := s.values()
	for i := range definitions {
		if err := p.Set(ParamID(i), v[i]); err != nil {
			return err
		}
	}

	return nil
}

// Snapshot returns the current values. It does not allocate.
func (p *Params) Snapshot() Settings {
	return Settings{
		ThresholdDB: p.Get(ParamThreshold),
		KneeDB:      p.Get(ParamKnee),
		AttackMs:    p.Get(ParamAttack),
		ReleaseMs:   p.Get(ParamRelease),
		Ratio:       p.Get(ParamRatio),
		MakeUpDB:    p.Get(ParamMakeUp),
		LookAhead:   p.Get(ParamLookAhead) > 0.5,
	}
}

// Version increases with every successful Set.
func (p *Params) Version() uint64 {
	return p.version.Load()
}

// CharacteristicChanged reports whether a parameter affecting the static
// curve changed since the last call, and clears the flag.
func (p *Params) CharacteristicChanged() bool {
	return p.characteristicChanged.Swap(false)
}

// FormatValue renders value the way a host would display id. Ratios at or
// above the limiting switch print as "inf".
func FormatValue(id ParamID, value float64) string {
	switch id {
	case ParamRatio:
		if value >= dynamics.InfiniteRatioThreshold {
			return "inf"
		}
		return strconv.FormatFloat(value, 'f', 2, 64)
	case ParamLookAhead:
		if value > 0.5 {
			return "on"
		}
		return "off"
	}

	if !id.valid() {
		return strconv.FormatFloat(value, 'g', -1, 64)
	}

	return strconv.FormatFloat(value, 'f', 1, 64) + " " + definitions[id].Unit
}
