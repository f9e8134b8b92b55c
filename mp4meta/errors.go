package mp4meta

import "errors"

// Sentinel errors for container parsing.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrNoVideoTrack indicates the container holds no decodable video track.
	ErrNoVideoTrack = errors.New("no video track in container")

	// ErrParse indicates the container structure could not be parsed.
	ErrParse = errors.New("container parse failed")

	// ErrNoSamples indicates the video track declares zero samples.
	ErrNoSamples = errors.New("video track has no samples")

	// ErrIndexComplete indicates an append was attempted on a completed index.
	ErrIndexComplete = errors.New("sample index already complete")
)
