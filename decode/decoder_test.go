package decode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/exportcore/mp4meta"
)

func newConfiguredPassthrough(t *testing.T) *PassthroughDecoder {
	t.Helper()
	d := NewPassthroughDecoder()
	require.NoError(t, d.Configure(Config{Codec: "avc1.64001F", Width: 1280, Height: 720}))
	t.Cleanup(func() { d.Close() })
	return d
}

func passthroughSample(index int, sync bool) *mp4meta.Sample {
	return &mp4meta.Sample{
		Index:     index,
		CTS:       int64(index) * 1000,
		Duration:  1000,
		Sync:      sync,
		Data:      []byte{byte(index), 0x42},
		Timescale: 30000,
	}
}

func TestPassthroughRequiresConfiguration(t *testing.T) {
	d := NewPassthroughDecoder()
	defer d.Close()

	err := d.Submit(passthroughSample(0, true))
	assert.ErrorIs(t, err, ErrDecoderNotConfigured)

	err = d.Configure(Config{})
	assert.ErrorIs(t, err, ErrDecoderConfig)
}

func TestPassthroughDeliversInSubmissionOrder(t *testing.T) {
	d := newConfiguredPassthrough(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(passthroughSample(i, i == 0)))
	}
	require.NoError(t, d.Flush(context.Background()))

	for i := 0; i < 5; i++ {
		select {
		case f := <-d.Output():
			assert.Equal(t, float64(i)*1000/30000, f.CTS)
			assert.Equal(t, 1280, f.Width)
			assert.Equal(t, 720, f.Height)
			f.Release()
		case <-time.After(time.Second):
			t.Fatalf("frame %d never delivered", i)
		}
	}
}

func TestPassthroughCopiesPayload(t *testing.T) {
	d := newConfiguredPassthrough(t)

	s := passthroughSample(0, true)
	require.NoError(t, d.Submit(s))
	require.NoError(t, d.Flush(context.Background()))

	// Mutating the submitted bytes must not reach the delivered frame.
	s.Data[0] = 0xFF

	f := <-d.Output()
	img, ok := f.Image.(*rawImage)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x42}, img.data)
	f.Release()
}

func TestPassthroughEnforcesSyncAfterReset(t *testing.T) {
	d := newConfiguredPassthrough(t)

	require.NoError(t, d.Submit(passthroughSample(0, true)))
	require.NoError(t, d.Flush(context.Background()))
	<-d.Output()

	require.NoError(t, d.Reset())

	err := d.Submit(passthroughSample(1, false))
	assert.ErrorIs(t, err, ErrKeyframeRequired)

	// The rejection applies to that sample only; a sync sample recovers.
	require.NoError(t, d.Submit(passthroughSample(2, true)))
	require.NoError(t, d.Submit(passthroughSample(3, false)))
	require.NoError(t, d.Flush(context.Background()))

	f := <-d.Output()
	assert.Equal(t, 2*1000.0/30000, f.CTS)
	f.Release()
	f = <-d.Output()
	assert.Equal(t, 3*1000.0/30000, f.CTS)
	f.Release()
}

func TestPassthroughResetDropsQueuedSamples(t *testing.T) {
	d := newConfiguredPassthrough(t)

	// Fill past the channel depth so some samples are still queued, then
	// reset: only the already-delivered frames may come out.
	total := outputChannelDepth * 3
	for i := 0; i < total; i++ {
		require.NoError(t, d.Submit(passthroughSample(i, i == 0)))
	}
	require.NoError(t, d.Reset())
	require.NoError(t, d.Close())

	delivered := 0
	for f := range d.Output() {
		f.Release()
		delivered++
	}
	assert.Less(t, delivered, total, "reset must drop queued samples")
}

func TestPassthroughFlushHonorsContext(t *testing.T) {
	d := newConfiguredPassthrough(t)

	// Nobody consumes: with the channel full and samples queued, Flush can
	// only give up when the context does.
	for i := 0; i < outputChannelDepth+4; i++ {
		require.NoError(t, d.Submit(passthroughSample(i, i == 0)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Flush(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Drain so Close can complete.
	go func() {
		for f := range d.Output() {
			f.Release()
		}
	}()
	require.NoError(t, d.Close())
}

func TestPassthroughCloseIdempotent(t *testing.T) {
	d := NewPassthroughDecoder()
	require.NoError(t, d.Configure(Config{Codec: "avc1.64001F"}))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	err := d.Submit(passthroughSample(0, true))
	assert.ErrorIs(t, err, ErrDecoderClosed)
	assert.ErrorIs(t, d.Reset(), ErrDecoderClosed)

	_, open := <-d.Output()
	assert.False(t, open, "output channel must be closed after Close")
}
