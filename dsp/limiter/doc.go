// Package limiter assembles the dynamics building blocks into a block-level
// look-ahead limiter/compressor.
//
// A Processor reads its settings from a shared Params set. Control code may
// call Params.Set from any goroutine while the audio goroutine runs
// Processor.Process; new values take effect at the next block.
//
// Without look-ahead the gain reduction is computed and applied in the same
// sample. With look-ahead the audio is delayed by LookAheadTime and each
// reduction is faded in over the same time, so peaks are already attenuated
// when they reach the output. The processor then reports that delay through
// its LatencyReporter.
package limiter
