// Package dynamics provides the building blocks of a look-ahead peak
// limiter.
//
// Included pieces:
//   - DetectPeak: Reduces a multichannel block to a rectified detector signal.
//   - GainComputer: Soft-knee static curve with attack/release smoothing,
//     emitting either reduction in dB or a linear gain with make-up applied.
//   - LookAheadSmoother: Delays a dB reduction stream and fades each
//     reduction in ahead of the audio it belongs to.
//
// None of the processing methods allocate. Build with -tags fastmath to
// replace the dB conversions on the sample path with fast approximations.
package dynamics
