package decode

import "errors"

// Sentinel errors for decode scheduler operations.
// These errors enable reliable error classification using errors.Is().

// Initialization errors.
var (
	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("scheduler already initialized")

	// ErrNoClips indicates Initialize was called with an empty clip set.
	ErrNoClips = errors.New("no clips to initialize")

	// ErrMetadataTimeout indicates container metadata parsing exceeded its bound.
	ErrMetadataTimeout = errors.New("container metadata parse timed out")

	// ErrDecoderConfig indicates the decoder rejected the clip's codec configuration.
	ErrDecoderConfig = errors.New("decoder configuration rejected")
)

// Scheduling errors.
var (
	// ErrNotRunning indicates the scheduler is not in the running state.
	ErrNotRunning = errors.New("scheduler is not running")

	// ErrUnknownClip indicates the clip id is not managed by this scheduler.
	ErrUnknownClip = errors.New("unknown clip")

	// ErrSampleTimeout indicates no samples arrived within the bounded wait.
	ErrSampleTimeout = errors.New("timed out waiting for samples")

	// ErrFrameNotFound indicates no matching frame exists after all retries.
	ErrFrameNotFound = errors.New("no frame found for requested time")

	// ErrSeekFailed indicates every sync-sample candidate was rejected,
	// including the first sample of the stream.
	ErrSeekFailed = errors.New("seek failed on all sync candidates")
)

// Decoder errors.
var (
	// ErrDecoderClosed indicates a submission to a closed decoder.
	ErrDecoderClosed = errors.New("decoder is closed")

	// ErrDecoderNotConfigured indicates Submit before Configure.
	ErrDecoderNotConfigured = errors.New("decoder is not configured")

	// ErrKeyframeRequired indicates a non-sync sample was submitted right
	// after a decoder reset.
	ErrKeyframeRequired = errors.New("keyframe required after reset")
)
