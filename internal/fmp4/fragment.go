package fmp4

import (
	"time"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/streamctx"
)

// trun flags
const (
	trunDataOffset       = 0x000001
	trunFirstSampleFlags = 0x000004
	trunSampleDuration   = 0x000100
	trunSampleSize       = 0x000200
	trunSampleFlags      = 0x000400
	trunSampleCTS        = 0x000800
)

// TrackFragmenter packages the samples of one track as a series of movie fragments
type TrackFragmenter struct {
	track   *streamctx.TrackContext
	handler Handler
	// NALU length field size of the decoder configuration, video only
	lengthSize int

	pending      []fragment.Sample
	tail         fragment.Sample
	hasTail      bool
	lastDuration uint32
	// used for the final sample when no duration was ever observed
	fallback uint32
}

var _ fragment.Fragmenter = (*TrackFragmenter)(nil)

// NewAudioFragmenter creates a fragmenter for the audio track
func NewAudioFragmenter(track *streamctx.TrackContext) *TrackFragmenter {
	return &TrackFragmenter{track: track, handler: HandlerSound}
}

// NewVideoFragmenter creates a fragmenter for an AVC track described by record
func NewVideoFragmenter(track *streamctx.TrackContext, record []byte) (*TrackFragmenter, error) {
	cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(record)
	if err != nil {
		return nil, errors.Wrap(err, "fmp4: decoder configuration")
	}
	return &TrackFragmenter{
		track:      track,
		handler:    HandlerVideo,
		lengthSize: int(cd.RecordInfo.LengthSizeMinusOne) + 1,
	}, nil
}

// WriteSample appends a sample to the fragmenter. The most recent sample is
// held back until the next one arrives so that its duration is known.
func (f *TrackFragmenter) WriteSample(s fragment.Sample) error {
	if f.handler == HandlerVideo {
		data, err := f.toAVCC(s.Data)
		if err != nil {
			return err
		}
		s.Data = data
		if f.hasTail && f.tail.Time == s.Time {
			// coalesce NALUs of one picture split over several tags
			b := make([]byte, 0, len(f.tail.Data)+len(s.Data))
			b = append(b, f.tail.Data...)
			f.tail.Data = append(b, s.Data...)
			f.tail.Keyframe = f.tail.Keyframe || s.Keyframe
			return nil
		}
	}
	if f.hasTail {
		f.pending = append(f.pending, f.tail)
	}
	f.tail = s
	f.hasTail = true
	return nil
}

// reformat Annex B NALUs as AVCC
func (f *TrackFragmenter) toAVCC(data []byte) ([]byte, error) {
	nalus, typ := h264parser.SplitNALUs(data)
	if typ != h264parser.NALU_ANNEXB {
		return data, nil
	}
	b := make([]byte, 0, len(data)+len(nalus)*f.lengthSize)
	for _, nalu := range nalus {
		j := len(nalu)
		switch f.lengthSize {
		case 4:
			b = append(b, byte(j>>24))
			fallthrough
		case 3:
			b = append(b, byte(j>>16))
			fallthrough
		case 2:
			b = append(b, byte(j>>8))
			fallthrough
		case 1:
			b = append(b, byte(j))
		default:
			return nil, errors.New("fmp4: invalid AVCC length size")
		}
		b = append(b, nalu...)
	}
	return b, nil
}

// SetFallbackDuration sets the duration given to a flushed sample when the
// track never had two samples to derive one from
func (f *TrackFragmenter) SetFallbackDuration(d time.Duration) {
	f.fallback = uint32(toScale(d))
}

// Fragment serializes the pending samples, except the held back one, as a
// moof and mdat pair. It returns an empty fragment when nothing is pending.
func (f *TrackFragmenter) Fragment() (fragment.Fragment, error) {
	return f.build()
}

// Flush serializes every remaining sample including the held back one. The
// last sample reuses the previous sample duration.
func (f *TrackFragmenter) Flush() (fragment.Fragment, error) {
	if f.hasTail {
		f.pending = append(f.pending, f.tail)
		f.tail = fragment.Sample{}
		f.hasTail = false
	}
	return f.build()
}

func toScale(t time.Duration) uint64 {
	if t < 0 {
		return 0
	}
	return uint64(t / (time.Second / streamctx.TimeScale))
}

func (f *TrackFragmenter) build() (fragment.Fragment, error) {
	if len(f.pending) == 0 {
		return fragment.Fragment{}, nil
	}
	startDTS := toScale(f.pending[0].Time)
	tfhd := &mp4.Tfhd{TrackID: f.track.TrackID}
	tfdt := &mp4.Tfdt{BaseMediaDecodeTimeV1: startDTS}
	tfdt.SetVersion(1)
	trun := &mp4.Trun{
		SampleCount: uint32(len(f.pending)),
		Entries:     make([]mp4.TrunEntry, 0, len(f.pending)),
	}
	trunFlags := uint32(trunDataOffset)
	curDTS := startDTS
	var total uint64
	var mdatLen int
	for i, s := range f.pending {
		// the next sample's decode time gives this sample's duration
		var duration uint32
		var nextDTS uint64
		switch j := i + 1; {
		case j < len(f.pending):
			nextDTS = toScale(f.pending[j].Time)
		case f.hasTail:
			nextDTS = toScale(f.tail.Time)
		case f.lastDuration != 0:
			nextDTS = curDTS + uint64(f.lastDuration)
		default:
			nextDTS = curDTS + uint64(f.fallback)
		}
		if nextDTS > curDTS {
			duration = uint32(nextDTS - curDTS)
			f.lastDuration = duration
		}
		sc := streamctx.SampleContext{
			IsKeyframe:            s.Keyframe || f.handler == HandlerSound,
			DecodeTime:            curDTS,
			CompositionTimeOffset: int32(s.CompositionTime / time.Millisecond),
			SampleDuration:        duration,
			SampleSize:            uint32(len(s.Data)),
		}
		entry := mp4.TrunEntry{
			SampleDuration: sc.SampleDuration,
			SampleSize:     sc.SampleSize,
			SampleFlags:    sc.Flags(),
		}
		if i == 0 {
			// Optimistically use the first sample's fields as defaults.
			// A later sample with different values clears the default.
			tfhd.DefaultSampleDuration = entry.SampleDuration
			tfhd.DefaultSampleSize = entry.SampleSize
			tfhd.DefaultSampleFlags = entry.SampleFlags
			trun.FirstSampleFlags = entry.SampleFlags
		} else {
			if entry.SampleDuration != tfhd.DefaultSampleDuration {
				tfhd.DefaultSampleDuration = 0
			}
			if entry.SampleSize != tfhd.DefaultSampleSize {
				tfhd.DefaultSampleSize = 0
			}
			// The first sample's flags can be given separately, so the
			// default flags come from the second sample.
			if i == 1 {
				tfhd.DefaultSampleFlags = entry.SampleFlags
			} else if entry.SampleFlags != tfhd.DefaultSampleFlags {
				tfhd.DefaultSampleFlags = 0
			}
		}
		if sc.CompositionTimeOffset != 0 {
			trunFlags |= trunSampleCTS
			if sc.CompositionTimeOffset < 0 {
				// negative composition offsets need version 1
				trun.SetVersion(1)
			}
			entry.SampleCompositionTimeOffsetV0 = uint32(sc.CompositionTimeOffset)
			entry.SampleCompositionTimeOffsetV1 = sc.CompositionTimeOffset
		}
		curDTS = nextDTS
		total += uint64(duration)
		mdatLen += len(s.Data)
		trun.Entries = append(trun.Entries, entry)
	}

	tfhdFlags := uint32(mp4.TfhdDefaultBaseIsMoof)
	if tfhd.DefaultSampleSize != 0 {
		tfhdFlags |= mp4.TfhdDefaultSampleSizePresent
	} else {
		trunFlags |= trunSampleSize
	}
	if tfhd.DefaultSampleDuration != 0 {
		tfhdFlags |= mp4.TfhdDefaultSampleDurationPresent
	} else {
		trunFlags |= trunSampleDuration
	}
	if tfhd.DefaultSampleFlags != 0 {
		tfhdFlags |= mp4.TfhdDefaultSampleFlagsPresent
		if trun.FirstSampleFlags != tfhd.DefaultSampleFlags {
			trunFlags |= trunFirstSampleFlags
		}
	} else {
		trunFlags |= trunSampleFlags
	}
	tfhd.SetFlags(tfhdFlags)
	trun.SetFlags(trunFlags)

	seq := f.track.NextSequence()
	moof := newBox(&mp4.Moof{},
		newBox(&mp4.Mfhd{SequenceNumber: seq}),
		newBox(&mp4.Traf{}, newBox(tfhd), newBox(tfdt), newBox(trun)),
	)
	head, err := Marshal(moof)
	if err != nil {
		return fragment.Fragment{}, err
	}
	trun.DataOffset = int32(len(head) + 8)

	data := make([]byte, 0, mdatLen)
	for _, s := range f.pending {
		data = append(data, s.Data...)
	}
	var buf seekablebuffer.Buffer
	if err := Write(&buf, moof, newBox(&mp4.Mdat{Data: data})); err != nil {
		return fragment.Fragment{}, err
	}
	frag := fragment.Fragment{
		Bytes:       buf.Bytes(),
		Length:      buf.Len(),
		Independent: f.pending[0].Keyframe || f.handler == HandlerSound,
		Duration:    time.Duration(total) * time.Millisecond,
		Sequence:    seq,
		TrackID:     f.track.TrackID,
	}
	f.pending = f.pending[:0]
	return frag, nil
}
