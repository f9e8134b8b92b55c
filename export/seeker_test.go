package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/mp4meta"
)

func newTestSeeker(t *testing.T, index *mp4meta.SampleIndex) (*VideoSeeker, *scriptedDecoder) {
	t.Helper()
	dec := newScriptedDecoder()
	require.NoError(t, dec.Configure(decode.Config{Codec: "avc1.64001F", Width: 640, Height: 480}))
	vs := NewVideoSeeker("clip-1", dec, index)
	t.Cleanup(vs.Close)
	return vs, dec
}

func TestSeekFrameReturnsNearest(t *testing.T) {
	vs, dec := newTestSeeker(t, buildSeqIndex(t, 300, 60))

	f, err := vs.SeekFrame(context.Background(), 3.0)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.InDelta(t, 3.0, f.CTS, 1.0/seqFPS)

	// The run started at the sync sample before the target.
	submitted := dec.submitted
	require.NotEmpty(t, submitted)
	assert.Equal(t, 60, submitted[0])
	assert.Equal(t, 90, submitted[len(submitted)-1])

	// Every frame except the still-held returned one was released.
	released := 0
	for _, img := range dec.images {
		if img.releaseCount() > 0 {
			released++
		}
	}
	assert.Equal(t, len(dec.images)-1, released)

	f.Release()
	assert.True(t, dec.allReleased())
}

func TestSeekFrameStatelessBetweenRequests(t *testing.T) {
	vs, _ := newTestSeeker(t, buildSeqIndex(t, 300, 60))
	ctx := context.Background()

	f1, err := vs.SeekFrame(ctx, 8.0)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, f1.CTS, 1.0/seqFPS)
	f1.Release()

	// A backward request needs no special handling: every request reseeks.
	f2, err := vs.SeekFrame(ctx, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f2.CTS, 1.0/seqFPS)
	f2.Release()
}

func TestSeekFrameFallsBackToEarlierSync(t *testing.T) {
	si := mp4meta.NewSampleIndex(30000)
	syncAt := map[int]bool{0: true, 2: true, 5: true, 8: true}
	for i := 0; i < 12; i++ {
		require.NoError(t, si.Append(&mp4meta.Sample{
			CTS: int64(i) * 1000, DTS: int64(i) * 1000, Duration: 1000,
			Sync: syncAt[i], Data: []byte{0x65},
		}))
	}
	require.NoError(t, si.Finish())

	vs, dec := newTestSeeker(t, si)
	dec.rejectSync[5] = true

	f, err := vs.SeekFrame(context.Background(), 6.0*1000/30000)
	require.NoError(t, err)
	assert.InDelta(t, 6.0*1000/30000, f.CTS, 1.0/seqFPS)
	f.Release()

	assert.Equal(t, 2, dec.submitted[0], "run restarted from the accepted earlier sync sample")
}

func TestSeekFrameFailsWhenAllSyncsRejected(t *testing.T) {
	vs, dec := newTestSeeker(t, buildSeqIndex(t, 300, 60))
	for _, idx := range []int{0, 60, 120, 180, 240} {
		dec.rejectSync[idx] = true
	}

	_, err := vs.SeekFrame(context.Background(), 8.0)
	assert.ErrorIs(t, err, decode.ErrSeekFailed)
}

func TestSeekFrameEmptyIndex(t *testing.T) {
	vs, _ := newTestSeeker(t, mp4meta.NewSampleIndex(30000))

	_, err := vs.SeekFrame(context.Background(), 1.0)
	assert.ErrorIs(t, err, decode.ErrFrameNotFound)
}
