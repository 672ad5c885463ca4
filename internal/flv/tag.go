package flv

import (
	"fmt"
	"time"

	"github.com/nareix/joy4/format/flv/flvio"
)

// TagType identifies the kind of payload carried by an FLV tag
type TagType uint8

const (
	TagAudio TagType = iota + 1
	TagVideo
	TagScript
	TagEncryption
)

// filter bit of the tag type byte, set on encrypted tags
const tagFilter = 0x20

func (t TagType) String() string {
	switch t {
	case TagAudio:
		return "audio"
	case TagVideo:
		return "video"
	case TagScript:
		return "script"
	case TagEncryption:
		return "encryption"
	}
	return fmt.Sprintf("TagType(%d)", uint8(t))
}

// Tag is a single demultiplexed FLV tag
type Tag struct {
	Type TagType
	// Time is the decode timestamp of the tag
	Time time.Duration
	// Packet holds the audio or video sub-header and the codec payload in Packet.Data
	Packet flvio.Tag
}

// Header is the FLV file header
type Header struct {
	Version  uint8
	HasAudio bool
	HasVideo bool
}

func tagTypeOf(b uint8) (TagType, bool) {
	if b&tagFilter != 0 {
		return TagEncryption, true
	}
	switch b & 0x1f {
	case flvio.TAG_AUDIO:
		return TagAudio, true
	case flvio.TAG_VIDEO:
		return TagVideo, true
	case flvio.TAG_SCRIPTDATA:
		return TagScript, true
	}
	return 0, false
}
