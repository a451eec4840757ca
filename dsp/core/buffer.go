package core

// EnsureLen returns a slice with the requested length, reusing buf capacity if possible.
func EnsureLen(buf []float64, n int) []float64 {
	if n <= 0 {
		return buf[:0]
	}
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]float64, n)
}

// Zero sets all values in buf to 0.
func Zero(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}

// NewChannels allocates a channel-major block of zeroed samples.
func NewChannels(channels, length int) [][]float64 {
	if channels < 0 {
		channels = 0
	}
	if length < 0 {
		length = 0
	}

	backing := make([]float64, channels*length)
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = backing[ch*length : (ch+1)*length : (ch+1)*length]
	}
	return out
}
