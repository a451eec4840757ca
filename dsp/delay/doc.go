// Package delay provides fixed circular delay lines for block-based
// processing.
//
// Line is a single-channel ring buffer with sample and block access. Delay
// wraps one Line per channel and derives its length from a delay time, a
// sample rate and the largest block the host will deliver.
package delay
