package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/algo-limiter/dsp/core"
	"github.com/cwbudde/algo-limiter/dsp/limiter"
)

const bytesPerSample = 4

// renderer streams interleaved little-endian float32 PCM through a
// prepared processor.
type renderer struct {
	proc      *limiter.Processor
	channels  int
	blockSize int

	raw  []byte
	buf  [][]float64
	view [][]float64

	// Output frames still to drop for latency compensation.
	skip int
}

func newRenderer(proc *limiter.Processor, channels, blockSize int, compensate bool) *renderer {
	r := &renderer{
		proc:      proc,
		channels:  channels,
		blockSize: blockSize,
		raw:       make([]byte, blockSize*channels*bytesPerSample),
		buf:       core.NewChannels(channels, blockSize),
		view:      make([][]float64, channels),
	}
	if compensate {
		r.skip = proc.LatencySamples()
	}
	return r
}

// run processes in until EOF and returns the number of frames written. With
// latency compensation the look-ahead tail is flushed with silence so the
// output is exactly as long as the input and time-aligned with it.
func (r *renderer) run(in io.Reader, out io.Writer) (int64, error) {
	br := bufio.NewReader(in)
	bw := bufio.NewWriter(out)
	frameBytes := r.channels * bytesPerSample

	var written int64
	tail := r.skip

	for {
		n, err := io.ReadFull(br, r.raw)
		if n%frameBytes != 0 {
			return written, fmt.Errorf("render: input ends inside a frame (%d stray bytes)", n%frameBytes)
		}

		if frames := n / frameBytes; frames > 0 {
			w, werr := r.processFrames(bw, frames)
			written += w
			if werr != nil {
				return written, werr
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("render: read input: %w", err)
		}
	}

	for tail > 0 {
		frames := min(tail, r.blockSize)
		clear(r.raw[:frames*frameBytes])

		w, err := r.processFrames(bw, frames)
		written += w
		if err != nil {
			return written, err
		}
		tail -= frames
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("render: flush output: %w", err)
	}

	return written, nil
}

func (r *renderer) processFrames(w io.Writer, frames int) (int64, error) {
	block := r.view
	for ch := range block {
		block[ch] = r.buf[ch][:frames]
	}

	decodeInterleaved(block, r.raw)
	r.proc.Process(block, r.channels)

	start := min(r.skip, frames)
	r.skip -= start
	if start == frames {
		return 0, nil
	}

	for ch := range block {
		block[ch] = block[ch][start:]
	}
	n := encodeInterleaved(r.raw, block)

	if _, err := w.Write(r.raw[:n]); err != nil {
		return 0, fmt.Errorf("render: write output: %w", err)
	}

	return int64(frames - start), nil
}

func decodeInterleaved(dst [][]float64, src []byte) {
	channels := len(dst)
	for i := range dst[0] {
		for ch := range dst {
			bits := binary.LittleEndian.Uint32(src[(i*channels+ch)*bytesPerSample:])
			dst[ch][i] = float64(math.Float32frombits(bits))
		}
	}
}

func encodeInterleaved(dst []byte, src [][]float64) int {
	channels := len(src)
	for i := range src[0] {
		for ch := range src {
			bits := math.Float32bits(float32(src[ch][i]))
			binary.LittleEndian.PutUint32(dst[(i*channels+ch)*bytesPerSample:], bits)
		}
	}
	return len(src[0]) * channels * bytesPerSample
}
