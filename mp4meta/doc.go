// Package mp4meta builds per-file sample indexes from MP4 container
// metadata for the decode scheduler.
//
// The package wraps github.com/abema/go-mp4 to extract, for the first video
// track of a file: codec configuration (avcC payload, dimensions, codec
// string), and the full sample table in decode order with presentation
// timestamps, decode timestamps, durations and sync-sample flags.
//
// Parsing is split in two phases. Probe reads the movie header synchronously
// and fails fast when the file has no video track. ExtractSamples then
// streams encoded sample payloads into a SampleIndex, typically from a
// goroutine, so that decoding can begin before the whole table has been
// materialized. A SampleIndex is append-only while extraction runs and
// read-only once marked complete.
package mp4meta
