// Package limits provides centralized tuning constants and validation
// functions for the decode and export pipeline. This package ensures
// consistent limit enforcement across all components of the exporter.
//
// # Constant Groups
//
// The package defines two groups of constants:
//
//   - Decode scheduling limits (MaxFrameBuffer, DecodeBatchSize,
//     SeekSampleThreshold, MaxSyncFallbackCandidates, MaxDecodeAheadPasses,
//     MaxFrameRetries): these shape how far ahead the scheduler decodes, how
//     much decoded data it retains per clip, and how hard it tries before
//     promoting a transient miss to a hard failure.
//
//   - Timing limits (MetadataTimeout, SampleWaitTimeout, RetryBackoff,
//     TrailingEvictionWindow): bounded waits for asynchronous container
//     parsing and decoder output, and the trailing window used when evicting
//     frames the export loop has already passed.
//
// Several values (SeekSampleThreshold, FinalCheckToleranceFactor) are tuned
// empirically rather than derived; they are kept here as named constants so
// the scenario-level behavior they produce stays stable.
//
// # Validation Functions
//
// Validation helpers return structured errors usable with errors.Is:
//
//	if err := limits.ValidateFrameRate(fps); err != nil {
//	    // ErrInvalidFrameRate
//	}
package limits
