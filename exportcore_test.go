package exportcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/exportcore/export"
	"github.com/clipforge/exportcore/limits"
)

type nopCompositor struct{}

func (nopCompositor) Render(t float64, frames map[string]*Frame, params map[string]export.ClipParams) ([]byte, error) {
	return []byte{0x00}, nil
}

type nopSink struct{}

func (nopSink) Encode(t float64, image []byte) error { return nil }
func (nopSink) Finalize() error                      { return nil }
func (nopSink) Abort()                               {}

func validOptions() *Options {
	o := NewOptions()
	o.End = 2
	o.Clips = []ClipInfo{{ID: "c1", Name: "clip-1", Data: []byte("x"), Start: 0, Duration: 2}}
	o.Compositor = nopCompositor{}
	o.Sink = nopSink{}
	return o
}

func TestNewOptionsDefaults(t *testing.T) {
	o := NewOptions()
	assert.Equal(t, 30.0, o.FPS)
	assert.Equal(t, ModeAuto, o.Mode)
}

func TestNewValidation(t *testing.T) {
	o := validOptions()
	o.End = 0
	_, err := New(o)
	assert.ErrorIs(t, err, limits.ErrInvalidTimeRange)

	o = validOptions()
	o.FPS = -5
	_, err = New(o)
	assert.ErrorIs(t, err, limits.ErrInvalidFrameRate)

	o = validOptions()
	o.Clips = nil
	_, err = New(o)
	assert.ErrorIs(t, err, export.ErrNoClips)

	o = validOptions()
	o.Sink = nil
	_, err = New(o)
	assert.ErrorIs(t, err, export.ErrMissingCollaborator)

	_, err = New(validOptions())
	assert.NoError(t, err)
}

func TestFallbackChain(t *testing.T) {
	assert.Equal(t, []Mode{ModeSequential, ModeRawSeek}, fallbackChain(ModeParallel))
	assert.Equal(t, []Mode{ModeRawSeek}, fallbackChain(ModeSequential))
	assert.Empty(t, fallbackChain(ModeRawSeek))
}

// TestRunUndecodableClipsExhaustAllModes drives the facade with bytes that
// are not a container: automatic selection degrades all the way down and the
// run fails before any frame is rendered.
func TestRunUndecodableClipsExhaustAllModes(t *testing.T) {
	exp, err := New(validOptions())
	require.NoError(t, err)
	defer exp.Close()

	err = exp.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrVerifyFailed)
}

func TestCloseIdempotent(t *testing.T) {
	exp, err := New(validOptions())
	require.NoError(t, err)
	exp.Close()
	exp.Close()
}
