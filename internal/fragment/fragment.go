// Package fragment defines the samples and serialized fragments exchanged
// between the remuxer and its fragmenters.
package fragment

import (
	"time"
)

// Sample is one access unit waiting to be packaged
type Sample struct {
	// Time is the decode timestamp
	Time time.Duration
	// CompositionTime is the presentation offset from Time
	CompositionTime time.Duration
	Keyframe        bool
	Data            []byte
}

// Fragment is a serialized moof and mdat pair
type Fragment struct {
	Bytes       []byte
	Length      int
	Independent bool
	Duration    time.Duration
	// Sequence is the moof sequence number
	Sequence uint32
	// TrackID identifies the track the samples belong to
	TrackID uint32
}

// File naming of a stored stream
const (
	InitName         = "init.mp4"
	SegmentExtension = ".m4s"
)

// Header names the initialization segment of a stored stream
type Header struct {
	HeaderName     string
	HeaderContents []byte
}

// NewHeader describes an init segment stored as init.mp4
func NewHeader(contents []byte) Header {
	return Header{
		HeaderName:     InitName,
		HeaderContents: contents,
	}
}

// Fragmenter packages the samples of one track
type Fragmenter interface {
	WriteSample(Sample) error
	// Fragment packages the samples whose duration is known
	Fragment() (Fragment, error)
	// Flush packages every remaining sample
	Flush() (Fragment, error)
	// SetFallbackDuration sets the duration of a last sample that has no successor
	SetFallbackDuration(time.Duration)
}
