package limiter

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/internal/testutil"
)

type latencyRecorder struct {
	calls []int
}

func (r *latencyRecorder) SetLatencySamples(samples int) {
	r.calls = append(r.calls, samples)
}

func (r *latencyRecorder) last() int {
	if len(r.calls) == 0 {
		return -1
	}
	return r.calls[len(r.calls)-1]
}

func newTestProcessor(t *testing.T, s Settings, sampleRate float64, blockSize, channels int) (*Processor, *latencyRecorder) {
	t.Helper()

	params := NewParams()
	if err := params.Apply(s); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	rec := &latencyRecorder{}
	p, err := New(params, WithLatencyReporter(rec))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := p.Prepare(sampleRate, blockSize, channels); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	return p, rec
}

func processInBlocks(p *Processor, buf [][]float64, numInputs, blockSize int) {
	for _, block := range testutil.Chunks(buf, blockSize) {
		p.Process(block, numInputs)
	}
}

func limiterSettings(thresholdDB float64, lookAhead bool) Settings {
	s := DefaultSettings()
	s.ThresholdDB = thresholdDB
	s.AttackMs = 0
	s.ReleaseMs = 150
	s.Ratio = 16
	s.KneeDB = 0
	s.LookAhead = lookAhead
	return s
}

func TestNewValidatesLookAheadTime(t *testing.T) {
	if _, err := New(nil, WithLookAheadTime(-0.001)); err == nil {
		t.Fatal("expected error for negative look-ahead time")
	}

	p, err := New(nil, WithLookAheadTime(0.01))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Prepare(48000, 256, 2); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if got := p.LookAheadSamples(); got != 480 {
		t.Fatalf("LookAheadSamples() = %d, want 480", got)
	}
	if p.Params() == nil {
		t.Fatal("New(nil) must create default params")
	}
}

func TestPrepareValidation(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		sampleRate float64
		blockSize  int
		channels   int
	}{
		{"zero sample rate", 0, 256, 2},
		{"nan sample rate", math.NaN(), 256, 2},
		{"zero block size", 48000, 0, 2},
		{"zero channels", 48000, 256, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Prepare(tt.sampleRate, tt.blockSize, tt.channels); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPrepareReportsLatency(t *testing.T) {
	tests := []struct {
		sampleRate float64
		lookAhead  bool
		want       int
	}{
		{48000, false, 0},
		{48000, true, 240},
		{44100, true, 220},
		{96000, true, 480},
	}

	for _, tt := range tests {
		p, rec := newTestProcessor(t, limiterSettings(-10, tt.lookAhead), tt.sampleRate, 512, 2)

		if got := p.LatencySamples(); got != tt.want {
			t.Fatalf("fs=%v lookAhead=%v: LatencySamples() = %d, want %d", tt.sampleRate, tt.lookAhead, got, tt.want)
		}
		if rec.last() != tt.want {
			t.Fatalf("fs=%v lookAhead=%v: reported %v, want %d", tt.sampleRate, tt.lookAhead, rec.calls, tt.want)
		}
	}
}

func TestLatencyFollowsLookAheadToggle(t *testing.T) {
	p, rec := newTestProcessor(t, limiterSettings(-10, false), 48000, 128, 2)
	buf := core.NewChannels(2, 128)

	if err := p.Params().Set(ParamLookAhead, 1); err != nil {
		t.Fatal(err)
	}
	if p.LatencySamples() != 0 {
		t.Fatal("latency must not change before the next block")
	}

	p.Process(buf, 2)
	if p.LatencySamples() != 240 || rec.last() != 240 {
		t.Fatalf("after enabling: latency=%d reported=%v", p.LatencySamples(), rec.calls)
	}

	calls := len(rec.calls)
	if err := p.Params().Set(ParamThreshold, -12); err != nil {
		t.Fatal(err)
	}
	p.Process(buf, 2)
	if len(rec.calls) != calls {
		t.Fatalf("unrelated parameter change reported latency: %v", rec.calls)
	}

	if err := p.Params().Set(ParamLookAhead, 0); err != nil {
		t.Fatal(err)
	}
	p.Process(buf, 2)
	if p.LatencySamples() != 0 || rec.last() != 0 {
		t.Fatalf("after disabling: latency=%d reported=%v", p.LatencySamples(), rec.calls)
	}
}

func TestBelowThresholdIsUnity(t *testing.T) {
	for _, lookAhead := range []bool{false, true} {
		p, _ := newTestProcessor(t, limiterSettings(-20, lookAhead), 48000, 256, 2)

		left := testutil.DeterministicSine(440, 48000, 0.05, 2048)
		right := testutil.DeterministicSine(660, 48000, 0.05, 2048)
		buf := testutil.Channels(left, right)

		processInBlocks(p, buf, 2, 256)

		latency := p.LatencySamples()
		for i := latency; i < len(left); i++ {
			if buf[0][i] != left[i-latency] || buf[1][i] != right[i-latency] {
				t.Fatalf("lookAhead=%v: sample %d changed: got (%v, %v), want (%v, %v)",
					lookAhead, i, buf[0][i], buf[1][i], left[i-latency], right[i-latency])
			}
		}
	}
}

func TestMakeUpGainAppliedBelowThreshold(t *testing.T) {
	for _, lookAhead := range []bool{false, true} {
		s := limiterSettings(-20, lookAhead)
		s.MakeUpDB = 6
		p, _ := newTestProcessor(t, s, 48000, 256, 1)

		in := testutil.DeterministicSine(1000, 48000, 0.01, 1024)
		buf := testutil.Channels(in)
		processInBlocks(p, buf, 1, 256)

		gain := core.DecibelsToGain(6)
		latency := p.LatencySamples()
		for i := latency; i < len(in); i++ {
			want := in[i-latency] * gain
			if math.Abs(buf[0][i]-want) > 1e-12 {
				t.Fatalf("lookAhead=%v: out[%d] = %v, want %v", lookAhead, i, buf[0][i], want)
			}
		}
	}
}

func TestBrickWallNeverExceedsCeiling(t *testing.T) {
	const (
		sampleRate  = 48000.0
		thresholdDB = -6.0
		length      = 24000
	)

	for _, lookAhead := range []bool{false, true} {
		for _, makeUp := range []float64{0, 3} {
			s := limiterSettings(thresholdDB, lookAhead)
			s.MakeUpDB = makeUp
			p, _ := newTestProcessor(t, s, sampleRate, 480, 2)

			envelope := testutil.Step(core.DecibelsToGain(-20), core.DecibelsToGain(20), length/4, length)
			left := testutil.DeterministicSine(997, sampleRate, 1, length)
			right := testutil.DeterministicNoise(3, 1, length)
			for i := range envelope {
				left[i] *= envelope[i]
				right[i] *= envelope[i]
			}

			buf := testutil.Channels(left, right)
			processInBlocks(p, buf, 2, 480)

			ceiling := core.DecibelsToGain(thresholdDB+makeUp) * (1 + 1e-9)
			for ch := range buf {
				testutil.RequireFinite(t, buf[ch])
				if peak := testutil.PeakAbs(buf[ch]); peak > ceiling {
					t.Fatalf("lookAhead=%v makeUp=%v ch=%d: peak %v exceeds ceiling %v",
						lookAhead, makeUp, ch, peak, ceiling)
				}
			}

			if _, reduction := p.Meter(); reduction > -10 {
				t.Fatalf("lookAhead=%v: expected deep reduction, meter reports %v dB", lookAhead, reduction)
			}
		}
	}
}

func TestLookAheadReductionLeadsThePeak(t *testing.T) {
	const (
		sampleRate  = 48000.0
		blockSize   = 256
		length      = 4096
		peakAt      = 1000
		thresholdDB = -20.0
		bed         = 0.01
	)

	s := limiterSettings(thresholdDB, true)
	p, _ := newTestProcessor(t, s, sampleRate, blockSize, 2)

	spike := testutil.Impulse(length, peakAt)
	buf := testutil.Channels(spike, testutil.DC(bed, length))
	processInBlocks(p, buf, 2, blockSize)

	delay := p.LatencySamples()
	if delay != 240 {
		t.Fatalf("LatencySamples() = %d, want 240", delay)
	}

	if got := testutil.FirstAbove(buf[0], 0); got != peakAt+delay {
		t.Fatalf("delayed spike at %d, want %d", got, peakAt+delay)
	}
	if got, want := buf[0][peakAt+delay], core.DecibelsToGain(thresholdDB); math.Abs(got-want) > 1e-12 {
		t.Fatalf("spike output %v, want %v", got, want)
	}

	for i := 0; i < delay; i++ {
		if buf[1][i] != 0 {
			t.Fatalf("bed[%d] = %v before the delay filled, want 0", i, buf[1][i])
		}
	}

	for i := delay; i < peakAt; i++ {
		if buf[1][i] != bed {
			t.Fatalf("bed[%d] = %v reduced too early", i, buf[1][i])
		}
	}

	step := -thresholdDB / float64(delay)
	for _, ahead := range []int{1, 60, 120, 180, 239} {
		i := peakAt + delay - ahead
		want := bed * core.DecibelsToGain(thresholdDB+step*float64(ahead))
		if math.Abs(buf[1][i]-want) > 1e-12 {
			t.Fatalf("bed %d samples ahead of the peak = %v, want %v", ahead, buf[1][i], want)
		}
	}

	for i := peakAt + 1; i < peakAt+delay; i++ {
		if buf[1][i] > buf[1][i-1] {
			t.Fatalf("reduction not monotonic towards the peak at %d", i)
		}
	}
}

func TestWithoutLookAheadReductionFollowsThePeak(t *testing.T) {
	const (
		length = 2048
		peakAt = 1000
		bed    = 0.01
	)

	p, _ := newTestProcessor(t, limiterSettings(-20, false), 48000, 256, 2)

	buf := testutil.Channels(testutil.Impulse(length, peakAt), testutil.DC(bed, length))
	processInBlocks(p, buf, 2, 256)

	for i := 0; i < peakAt; i++ {
		if buf[1][i] != bed {
			t.Fatalf("bed[%d] = %v, want untouched %v", i, buf[1][i], bed)
		}
	}
	if buf[1][peakAt] >= bed {
		t.Fatalf("bed at the peak = %v, want reduced", buf[1][peakAt])
	}
}

func TestEnablingLookAheadFlushesStaleAudio(t *testing.T) {
	s := limiterSettings(0, true)
	p, _ := newTestProcessor(t, s, 48000, 256, 1)

	loud := testutil.Channels(testutil.DC(0.5, 256))
	p.Process(loud, 1)

	if err := p.Params().Set(ParamLookAhead, 0); err != nil {
		t.Fatal(err)
	}
	p.Process(testutil.Channels(testutil.DC(0.5, 256)), 1)

	if err := p.Params().Set(ParamLookAhead, 1); err != nil {
		t.Fatal(err)
	}
	silent := testutil.Channels(make([]float64, 256))
	p.Process(silent, 1)

	if peak := testutil.PeakAbs(silent[0]); peak != 0 {
		t.Fatalf("stale audio leaked after re-enabling look-ahead: peak %v", peak)
	}
}

func TestInfiniteInputSampleRecovers(t *testing.T) {
	for _, lookAhead := range []bool{false, true} {
		const (
			blockSize = 256
			blocks    = 400
		)

		p, _ := newTestProcessor(t, limiterSettings(-6, lookAhead), 48000, blockSize, 2)

		for b := range blocks {
			buf := testutil.Channels(testutil.DC(0.1, blockSize), testutil.DC(0.1, blockSize))
			if b == 0 {
				buf[0][50] = math.Inf(1)
			}

			p.Process(buf, 2)

			if b < 2 {
				continue
			}
			for _, ch := range buf {
				testutil.RequireFinite(t, ch)
			}
			if b == blocks-1 {
				for i, v := range buf[1] {
					if math.Abs(v-0.1) > 1e-4 {
						t.Fatalf("lookAhead=%v: out[%d] = %v after recovery, want 0.1", lookAhead, i, v)
					}
				}
			}
		}

		if in, red := p.Meter(); !core.IsFinite(in) || !core.IsFinite(red) {
			t.Fatalf("lookAhead=%v: Meter() = %v, %v", lookAhead, in, red)
		}
	}
}

func TestParameterRangesFitGainComputer(t *testing.T) {
	proc, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, d := range Definitions() {
		for _, v := range []float64{d.Min, d.Default, d.Max} {
			params := NewParams()
			if err := params.Set(d.ID, v); err != nil {
				t.Fatalf("Set(%v, %v) error = %v", d.ID, v, err)
			}
			if err := proc.applySettings(params.Snapshot()); err != nil {
				t.Fatalf("%s = %v rejected by the gain computer: %v", d.Key, v, err)
			}
		}
	}

	bad := DefaultSettings()
	bad.Ratio = 0.5
	bad.KneeDB = -1
	if err := proc.applySettings(bad); err == nil {
		t.Fatal("expected ratio and knee errors")
	}
}

func TestExtraOutputChannelsCleared(t *testing.T) {
	p, _ := newTestProcessor(t, limiterSettings(-10, false), 48000, 64, 3)

	buf := testutil.Channels(
		testutil.DeterministicNoise(1, 0.1, 64),
		testutil.DeterministicNoise(2, 0.1, 64),
		testutil.DC(0.7, 64),
	)
	p.Process(buf, 2)

	for i, v := range buf[2] {
		if v != 0 {
			t.Fatalf("extra channel sample %d = %v, want 0", i, v)
		}
	}
}

func TestReactivatedInputStartsWithEmptyDelay(t *testing.T) {
	const blockSize = 256

	p, _ := newTestProcessor(t, limiterSettings(10, true), 48000, blockSize, 2)

	for range 2 {
		p.Process(testutil.Channels(testutil.DC(0.5, blockSize), testutil.DC(0.5, blockSize)), 2)
	}
	p.Process(testutil.Channels(testutil.DC(0.5, blockSize), testutil.DC(0.5, blockSize)), 1)

	buf := testutil.Channels(testutil.DC(0.5, blockSize), make([]float64, blockSize))
	p.Process(buf, 2)

	for i, v := range buf[1] {
		if v != 0 {
			t.Fatalf("right[%d] = %v, want 0 after the channel was idle", i, v)
		}
	}
	if math.Abs(buf[0][0]-0.5) > 1e-9 {
		t.Fatalf("left[0] = %v, want 0.5", buf[0][0])
	}
}

func TestMonoUsesOwnPeak(t *testing.T) {
	p, _ := newTestProcessor(t, limiterSettings(-20, false), 48000, 64, 1)

	buf := testutil.Channels(testutil.DC(1, 64))
	p.Process(buf, 1)

	want := core.DecibelsToGain(-20)
	if math.Abs(buf[0][63]-want) > 1e-12 {
		t.Fatalf("mono output %v, want %v", buf[0][63], want)
	}
}

func TestProcessContractViolationsPanic(t *testing.T) {
	unprepared, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequirePanics(t, "unprepared", func() {
		unprepared.Process(core.NewChannels(1, 8), 1)
	})

	p, _ := newTestProcessor(t, limiterSettings(-10, false), 48000, 32, 2)

	testutil.RequirePanics(t, "no inputs", func() { p.Process(core.NewChannels(2, 8), 0) })
	testutil.RequirePanics(t, "too many inputs", func() { p.Process(core.NewChannels(3, 8), 3) })
	testutil.RequirePanics(t, "oversized block", func() { p.Process(core.NewChannels(2, 33), 2) })
}

func TestResetClearsEnvelopeAndDelay(t *testing.T) {
	s := limiterSettings(-20, true)
	s.ReleaseMs = 800
	p, _ := newTestProcessor(t, s, 48000, 256, 1)

	p.Process(testutil.Channels(testutil.DC(1, 256)), 1)
	p.Reset()

	quiet := testutil.DeterministicSine(500, 48000, 0.01, 512)
	buf := testutil.Channels(quiet)
	processInBlocks(p, buf, 1, 256)

	delay := p.LatencySamples()
	for i := range delay {
		if buf[0][i] != 0 {
			t.Fatalf("out[%d] = %v after Reset, want flushed delay", i, buf[0][i])
		}
	}
	for i := delay; i < len(quiet); i++ {
		if buf[0][i] != quiet[i-delay] {
			t.Fatalf("out[%d] = %v, want unity gain after Reset", i, buf[0][i])
		}
	}
}

func TestParameterChangesApplyAtNextBlock(t *testing.T) {
	p, _ := newTestProcessor(t, limiterSettings(0, false), 48000, 64, 1)

	buf := testutil.Channels(testutil.DC(0.5, 64))
	p.Process(buf, 1)
	if buf[0][63] != 0.5 {
		t.Fatalf("output %v, want untouched below threshold", buf[0][63])
	}

	if err := p.Params().Set(ParamThreshold, -12); err != nil {
		t.Fatal(err)
	}
	buf = testutil.Channels(testutil.DC(0.5, 64))
	p.Process(buf, 1)

	want := core.DecibelsToGain(-12)
	if math.Abs(buf[0][63]-want) > 1e-9 {
		t.Fatalf("output %v, want %v after threshold change", buf[0][63], want)
	}

	inputDB, reductionDB := p.Meter()
	if math.Abs(inputDB-core.GainToDecibels(0.5)) > 1e-9 {
		t.Fatalf("meter input %v", inputDB)
	}
	if math.Abs(reductionDB-(-12-core.GainToDecibels(0.5))) > 1e-9 {
		t.Fatalf("meter reduction %v", reductionDB)
	}
}

func TestConcurrentParameterWrites(t *testing.T) {
	p, _ := newTestProcessor(t, limiterSettings(-10, false), 48000, 128, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 500 {
			_ = p.Params().Set(ParamThreshold, -float64(i%40))
			_ = p.Params().Set(ParamLookAhead, float64(i%2))
			_, _ = p.Meter()
		}
	}()

	buf := testutil.Channels(
		testutil.DeterministicNoise(7, 1, 128),
		testutil.DeterministicNoise(8, 1, 128),
	)
	for range 500 {
		p.Process(buf, 2)
	}
	wg.Wait()

	for ch := range buf {
		testutil.RequireFinite(t, buf[ch])
	}
}

func TestPrepareLogs(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	p, err := New(nil, WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Prepare(44100, 128, 2); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), "limiter prepared") || !strings.Contains(out.String(), "sample_rate=44100") {
		t.Fatalf("unexpected log output %q", out.String())
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	p, _ := newTestProcessor(t, limiterSettings(-10, true), 48000, 256, 2)
	buf := testutil.Channels(
		testutil.DeterministicNoise(1, 1, 256),
		testutil.DeterministicNoise(2, 1, 256),
	)

	allocs := testing.AllocsPerRun(100, func() {
		p.Process(buf, 2)
	})
	if allocs != 0 {
		t.Fatalf("Process allocated %v times per run", allocs)
	}
}

func BenchmarkProcessLookAhead(b *testing.B) {
	params := NewParams()
	_ = params.Set(ParamLookAhead, 1)

	p, err := New(params)
	if err != nil {
		b.Fatal(err)
	}
	if err := p.Prepare(48000, 512, 2); err != nil {
		b.Fatal(err)
	}

	buf := testutil.Channels(
		testutil.DeterministicNoise(1, 1, 512),
		testutil.DeterministicNoise(2, 1, 512),
	)

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		p.Process(buf, 2)
	}
}
