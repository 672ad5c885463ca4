package streamctx

// TrackType is the media type of a track
type TrackType uint8

const (
	TrackVideo TrackType = iota + 1
	TrackAudio
)

// Track ids are static: one video and one audio track per stream.
const (
	VideoTrackID uint32 = 1
	AudioTrackID uint32 = 2
	NextTrackID  uint32 = 3
)

// TrackContext identifies one elementary stream inside the container
type TrackContext struct {
	TrackType      TrackType
	TrackID        uint32
	SequenceNumber uint32
}

func newTrack(typ TrackType, id uint32) TrackContext {
	return TrackContext{TrackType: typ, TrackID: id, SequenceNumber: 1}
}

// NextSequence returns the sequence number for the next fragment and advances it
func (t *TrackContext) NextSequence() uint32 {
	n := t.SequenceNumber
	t.SequenceNumber++
	return n
}

// SampleContext describes the placement of one access unit
type SampleContext struct {
	IsLeading     bool
	IsNonSync     bool
	IsKeyframe    bool
	HasRedundancy bool
	// DecodeTime is in track timescale units
	DecodeTime uint64
	// CompositionTimeOffset is added to DecodeTime to get the presentation time
	CompositionTimeOffset int32
	SampleDuration        uint32
	SampleSize            uint32
}

// sample_flags bit layout (ISO/IEC 14496-12 8.8.3.1)
const (
	sampleIsLeading       = 1 << 26
	sampleDependsOnOthers = 1 << 24
	sampleDependsOnNone   = 2 << 24
	sampleHasRedundancy   = 1 << 20
	sampleIsNonSync       = 1 << 16
)

// Flags packs the sample into an ISO BMFF sample_flags word
func (s SampleContext) Flags() uint32 {
	var f uint32
	if s.IsLeading {
		f |= sampleIsLeading
	}
	if s.IsKeyframe {
		f |= sampleDependsOnNone
	} else {
		f |= sampleDependsOnOthers
	}
	if s.HasRedundancy {
		f |= sampleHasRedundancy
	}
	if s.IsNonSync || !s.IsKeyframe {
		f |= sampleIsNonSync
	}
	return f
}

// PresentationTime returns the decode time shifted by the composition offset
func (s SampleContext) PresentationTime() int64 {
	return int64(s.DecodeTime) + int64(s.CompositionTimeOffset)
}
