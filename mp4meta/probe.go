package mp4meta

import (
	"context"
	"fmt"
	"io"

	mp4 "github.com/abema/go-mp4"
	"github.com/sirupsen/logrus"
)

// TrackInfo is the decoder-facing description of a file's video track.
type TrackInfo struct {
	// Codec is the RFC 6381 codec string, e.g. "avc1.64001F".
	Codec string

	// Width and Height are the coded dimensions in pixels.
	Width  uint32
	Height uint32

	// Timescale is the media timescale of the track.
	Timescale uint32

	// DurationSeconds is the total duration of the track's samples.
	DurationSeconds float64

	// DecoderConfig is the raw decoder configuration payload (avcC).
	DecoderConfig []byte
}

// FileInfo holds the parsed metadata of one container file: the video
// track's decoder configuration plus the sample layout needed to stream
// payloads into a SampleIndex.
type FileInfo struct {
	Track TrackInfo

	layout []sampleMeta
}

type sampleMeta struct {
	offset   int64
	size     uint32
	dts      int64
	cts      int64
	duration uint32
	sync     bool
}

// SampleCount returns the number of samples the container declares.
func (fi *FileInfo) SampleCount() int {
	return len(fi.layout)
}

// Probe parses the movie metadata of an MP4 stream and returns the first
// video track's decoder configuration together with the sample layout.
// Returns ErrNoVideoTrack when no AVC video track is present and ErrParse
// when the container structure is unreadable.
func Probe(r io.ReadSeeker) (*FileInfo, error) {
	info, err := mp4.Probe(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	trackIdx := -1
	var track *mp4.Track
	for i, t := range info.Tracks {
		if t.Codec == mp4.CodecAVC1 {
			trackIdx = i
			track = t
			break
		}
	}
	if track == nil {
		// mp4.Probe tolerates arbitrary input and just reports zero tracks.
		// Distinguish a readable container without video from bytes that are
		// not an MP4 at all by checking for a movie box.
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		moov, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov()})
		if err != nil || len(moov) == 0 {
			return nil, fmt.Errorf("%w: no movie box", ErrParse)
		}
		return nil, ErrNoVideoTrack
	}
	if len(track.Samples) == 0 {
		return nil, ErrNoSamples
	}

	trakInfos, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil || trackIdx >= len(trakInfos) {
		return nil, fmt.Errorf("%w: trak extraction failed: %v", ErrParse, err)
	}
	trak := trakInfos[trackIdx]

	width, height := readDimensions(r, trak)
	decoderConfig := readDecoderConfig(r, trak)
	syncSet, allSync := readSyncTable(r, trak)

	fi := &FileInfo{
		Track: TrackInfo{
			Codec:         codecString(decoderConfig),
			Width:         width,
			Height:        height,
			Timescale:     track.Timescale,
			DecoderConfig: decoderConfig,
		},
	}

	fi.layout = buildLayout(track, syncSet, allSync)
	var total uint64
	for _, m := range fi.layout {
		total += uint64(m.duration)
	}
	if track.Timescale > 0 {
		fi.Track.DurationSeconds = float64(total) / float64(track.Timescale)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Probe",
		"codec":     fi.Track.Codec,
		"width":     width,
		"height":    height,
		"timescale": track.Timescale,
		"samples":   len(fi.layout),
		"duration":  fi.Track.DurationSeconds,
	}).Debug("Container metadata parsed")

	return fi, nil
}

// buildLayout flattens the chunk table into per-sample file offsets and
// computes decode and presentation timestamps in decode order.
func buildLayout(track *mp4.Track, syncSet map[int]bool, allSync bool) []sampleMeta {
	layout := make([]sampleMeta, 0, len(track.Samples))
	var dts int64
	sampleID := 0
	for _, chunk := range track.Chunks {
		offset := int64(chunk.DataOffset)
		for i := uint32(0); i < chunk.SamplesPerChunk && sampleID < len(track.Samples); i++ {
			s := track.Samples[sampleID]
			sync := allSync || syncSet[sampleID+1] // stss numbers samples from 1
			layout = append(layout, sampleMeta{
				offset:   offset,
				size:     s.Size,
				dts:      dts,
				cts:      dts + int64(s.CompositionTimeOffset),
				duration: s.TimeDelta,
				sync:     sync,
			})
			offset += int64(s.Size)
			dts += int64(s.TimeDelta)
			sampleID++
		}
	}
	return layout
}

// readDimensions extracts coded dimensions from the track header.
// Best effort: zero dimensions are legal and left for the decoder to infer.
func readDimensions(r io.ReadSeeker, trak *mp4.BoxInfo) (uint32, uint32) {
	boxes, err := mp4.ExtractBoxWithPayload(r, trak, mp4.BoxPath{mp4.BoxTypeTkhd()})
	if err != nil || len(boxes) == 0 {
		return 0, 0
	}
	tkhd, ok := boxes[0].Payload.(*mp4.Tkhd)
	if !ok {
		return 0, 0
	}
	// Fixed-point 16.16.
	return tkhd.Width >> 16, tkhd.Height >> 16
}

// readDecoderConfig extracts the raw avcC payload bytes.
func readDecoderConfig(r io.ReadSeeker, trak *mp4.BoxInfo) []byte {
	path := mp4.BoxPath{
		mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd(),
		mp4.StrToBoxType("avc1"), mp4.StrToBoxType("avcC"),
	}
	boxes, err := mp4.ExtractBox(r, trak, path)
	if err != nil || len(boxes) == 0 {
		return nil
	}
	bi := boxes[0]
	payloadSize := bi.Size - bi.HeaderSize
	if _, err := r.Seek(int64(bi.Offset+bi.HeaderSize), io.SeekStart); err != nil {
		return nil
	}
	buf := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil
	}
	return buf
}

// readSyncTable extracts the sync-sample table. A missing stss box means
// every sample is a sync sample.
func readSyncTable(r io.ReadSeeker, trak *mp4.BoxInfo) (map[int]bool, bool) {
	path := mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStss()}
	boxes, err := mp4.ExtractBoxWithPayload(r, trak, path)
	if err != nil || len(boxes) == 0 {
		return nil, true
	}
	stss, ok := boxes[0].Payload.(*mp4.Stss)
	if !ok {
		return nil, true
	}
	syncSet := make(map[int]bool, len(stss.SampleNumber))
	for _, n := range stss.SampleNumber {
		syncSet[int(n)] = true
	}
	return syncSet, false
}

// codecString derives the RFC 6381 codec string from the avcC payload.
func codecString(avcC []byte) string {
	if len(avcC) >= 4 {
		return fmt.Sprintf("avc1.%02X%02X%02X", avcC[1], avcC[2], avcC[3])
	}
	return "avc1"
}

// ExtractSamples streams encoded payloads into the index in decode order.
// Intended to run in its own goroutine; appends happen incrementally so
// consumers can begin decoding before extraction finishes. The index is
// finished (made read-only) before returning, including on cancellation.
func ExtractSamples(ctx context.Context, r io.ReadSeeker, fi *FileInfo, si *SampleIndex) error {
	logrus.WithFields(logrus.Fields{
		"function": "ExtractSamples",
		"samples":  len(fi.layout),
	}).Debug("Starting sample extraction")

	for i := range fi.layout {
		select {
		case <-ctx.Done():
			si.Finish()
			return ctx.Err()
		default:
		}

		m := &fi.layout[i]
		if _, err := r.Seek(m.offset, io.SeekStart); err != nil {
			si.Finish()
			return fmt.Errorf("%w: sample %d seek: %v", ErrParse, i, err)
		}
		data := make([]byte, m.size)
		if _, err := io.ReadFull(r, data); err != nil {
			si.Finish()
			return fmt.Errorf("%w: sample %d read: %v", ErrParse, i, err)
		}

		err := si.Append(&Sample{
			CTS:       m.cts,
			DTS:       m.dts,
			Duration:  m.duration,
			Sync:      m.sync,
			Data:      data,
			Timescale: fi.Track.Timescale,
		})
		if err != nil {
			return err
		}
	}

	if err := si.Finish(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ExtractSamples",
		"samples":  si.Count(),
	}).Debug("Sample extraction complete")
	return nil
}
