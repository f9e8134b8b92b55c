package export

import "errors"

var (
	// ErrMissingCollaborator indicates the exporter was built without a
	// compositor or sink encoder.
	ErrMissingCollaborator = errors.New("missing export collaborator")

	// ErrNoClips indicates an export was requested with no clips at all.
	ErrNoClips = errors.New("no clips to export")

	// ErrVerifyFailed indicates the first frame of a clip active at the
	// export start never decoded within the bounded verification retries.
	ErrVerifyFailed = errors.New("first-frame verification failed")

	// ErrExportAborted wraps the per-frame failure that aborted an export
	// run.
	ErrExportAborted = errors.New("export aborted")

	// ErrUnknownMode indicates a forced export mode outside the known set.
	ErrUnknownMode = errors.New("unknown export mode")
)
