package delay

import "fmt"

// Line is a circular delay line for one channel.
type Line struct {
	buffer   []float64
	writePos int
}

// NewLine returns a delay line of fixed size.
func NewLine(size int) (*Line, error) {
	l := &Line{}
	if err := l.Prepare(size); err != nil {
		return nil, err
	}
	return l, nil
}

// Prepare resizes the line and clears it. Storage is reused when the size
// is unchanged.
func (l *Line) Prepare(size int) error {
	if size <= 0 {
		return fmt.Errorf("delay size must be > 0: %d", size)
	}
	if len(l.buffer) != size {
		l.buffer = make([]float64, size)
	}
	l.Reset()
	return nil
}

// Len returns internal buffer size.
func (l *Line) Len() int {
	return len(l.buffer)
}

// Write writes one sample.
func (l *Line) Write(sample float64) {
	l.buffer[l.writePos] = sample
	l.writePos++
	if l.writePos >= len(l.buffer) {
		l.writePos = 0
	}
}

// Read reads an integer delay in samples. Read(1) is the most recently
// written sample.
func (l *Line) Read(delay int) float64 {
	size := len(l.buffer)
	if size == 0 {
		return 0
	}
	readPos := (l.writePos - delay%size + size) % size
	return l.buffer[readPos]
}

// Process replaces block with its content delayed by delay samples.
// len(block)+delay must not exceed Len.
func (l *Line) Process(block []float64, delay int) {
	n := len(block)
	size := len(l.buffer)
	if n == 0 {
		return
	}
	if n+delay > size {
		panic(fmt.Sprintf("delay: block of %d with delay %d exceeds line size %d", n, delay, size))
	}

	// The whole block is written before anything is read so that in-place
	// processing sees input[i-delay] for i >= delay.
	first := min(size-l.writePos, n)
	copy(l.buffer[l.writePos:], block[:first])
	copy(l.buffer, block[first:])

	readPos := l.writePos - delay
	if readPos < 0 {
		readPos += size
	}
	first = min(size-readPos, n)
	copy(block[:first], l.buffer[readPos:])
	copy(block[first:], l.buffer[:n-first])

	l.writePos = (l.writePos + n) % size
}

// Reset clears line state.
func (l *Line) Reset() {
	for i := range l.buffer {
		l.buffer[i] = 0
	}
	l.writePos = 0
}
