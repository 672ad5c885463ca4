// Package streamctx accumulates what is known about an FLV stream until an
// MP4 initialization segment can be built from it.
package streamctx

import (
	"strconv"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg1audio"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/codec"
	"github.com/cleoag/remux/internal/flv"
)

// TimeScale is the movie and media timescale, in units per second
const TimeScale = 1000

// samples per AAC-LC frame
const aacFrameSamples = 1024

// Container metadata defaults
const (
	DefaultMajorBrand   = "isom"
	DefaultMinorVersion = "512"
)

// DefaultCompatibleBrands returns a fresh copy of the default compatible brand list
func DefaultCompatibleBrands() []string {
	return []string{"isom", "iso2", "avc1", "mp41"}
}

// StreamContext is the configuration state of one stream. It is owned by a
// single goroutine and is not safe for concurrent use.
type StreamContext struct {
	FPS        float64
	FPSNum     uint32
	DurationMs uint32
	Width      float64
	Height     float64

	HasAudio bool
	HasVideo bool

	AudioCodecID          uint8
	AudioCodecType        AudioCodecType
	AudioDataRate         uint32
	AudioSampleRate       uint32
	AudioChannels         uint8
	AudioChannelsExtended uint8
	// AudioFrameSamples is the number of PCM samples one coded frame decodes to
	AudioFrameSamples uint32
	AudioAACInfo      []byte

	VideoCodecID   uint8
	VideoCodecType VideoCodecType
	VideoDataRate  uint32
	VideoAVCCInfo  []byte

	MajorBrand       string
	MinorVersion     string
	CompatibleBrands []string
	// ReplaceCompatibleBrands makes a compatible_brands metadata entry replace
	// the current list instead of being appended to it
	ReplaceCompatibleBrands bool

	VideoTrack TrackContext
	AudioTrack TrackContext

	flvHeaderConfigured     bool
	metadataConfigured      bool
	videoMetadataConfigured bool
	audioMetadataConfigured bool
	headerSent              bool

	audioCodecDeclared bool
	audioDisabled      bool
}

func New() *StreamContext {
	return &StreamContext{
		MajorBrand:       DefaultMajorBrand,
		MinorVersion:     DefaultMinorVersion,
		CompatibleBrands: DefaultCompatibleBrands(),
		VideoTrack:       newTrack(TrackVideo, VideoTrackID),
		AudioTrack:       newTrack(TrackAudio, AudioTrackID),
	}
}

// ParseFlvHeader records which media types the stream announces
func (c *StreamContext) ParseFlvHeader(h flv.Header) {
	c.HasAudio = h.HasAudio
	c.HasVideo = h.HasVideo
	c.flvHeaderConfigured = true
	c.resolveAudio()
}

// ParseMetadata copies the known onMetaData fields. Absent fields keep their
// current value.
func (c *StreamContext) ParseMetadata(m flv.RawMetaData) {
	if v, ok := m.Number("duration"); ok {
		c.DurationMs = uint32(v * TimeScale)
	}
	if v, ok := m.Number("width"); ok {
		c.Width = v
	}
	if v, ok := m.Number("height"); ok {
		c.Height = v
	}
	if v, ok := m.Number("framerate"); ok {
		c.FPS = v
		c.FPSNum = uint32(v * TimeScale)
	}
	if v, ok := m.Number("audiocodecid"); ok {
		c.AudioCodecID = uint8(v)
		c.AudioCodecType = AudioCodecTypeOf(c.AudioCodecID)
		c.audioCodecDeclared = true
	}
	if v, ok := m.Number("audiodatarate"); ok {
		c.AudioDataRate = uint32(v)
	}
	if v, ok := m.Number("videocodecid"); ok {
		c.VideoCodecID = uint8(v)
		c.VideoCodecType = VideoCodecTypeOf(c.VideoCodecID)
	}
	if v, ok := m.Number("videodatarate"); ok {
		c.VideoDataRate = uint32(v)
	}
	if v, ok := m.String("major_brand"); ok {
		c.MajorBrand = v
	}
	if v, ok := m.String("minor_version"); ok {
		c.MinorVersion = v
	}
	if v, ok := m.String("compatible_brands"); ok {
		brands := splitBrands(v)
		if c.ReplaceCompatibleBrands {
			c.CompatibleBrands = brands
		} else {
			c.CompatibleBrands = append(c.CompatibleBrands, brands...)
		}
	}
	c.metadataConfigured = true
	c.resolveAudio()
}

// resolveAudio completes the audio step for streams that get no audio track:
// the header announces no audio, or the metadata declares a codec that has no
// sample entry.
func (c *StreamContext) resolveAudio() {
	if c.flvHeaderConfigured && !c.HasAudio {
		c.audioDisabled = true
	}
	if c.audioCodecDeclared && c.AudioCodecType == AudioNone && !c.audioMetadataConfigured {
		c.audioDisabled = true
	}
	if c.audioDisabled {
		c.AudioCodecType = AudioNone
		c.audioMetadataConfigured = true
	}
}

// AudioDisabled reports whether the stream was resolved to carry no audio track
func (c *StreamContext) AudioDisabled() bool {
	return c.audioDisabled
}

// splitBrands cuts a flat brand string into at most four 4-character brands.
// A trailing partial brand is ignored.
func splitBrands(s string) []string {
	var brands []string
	for len(s) >= 4 && len(brands) < 4 {
		brands = append(brands, s[:4])
		s = s[4:]
	}
	return brands
}

// ConfigureAudioMetadata applies an audio configuration record. Raw audio
// payloads, and any payload of a stream without an audio track, leave the
// context unchanged.
func (c *StreamContext) ConfigureAudioMetadata(res codec.AudioParseResult) error {
	if c.audioDisabled {
		return nil
	}
	switch r := res.(type) {
	case *codec.AACSequenceHeader:
		if c.AudioCodecType != AudioAAC {
			return errors.Wrapf(ErrCodecMismatch, "declared %s, got AAC sequence header", c.AudioCodecType)
		}
		rate, ok := AACSampleRate(r.Config.SampleRateIndex)
		if !ok {
			return errors.Wrapf(ErrSamplingIndex, "index %d", r.Config.SampleRateIndex)
		}
		c.AudioChannels = uint8(r.Config.ChannelConfig)
		c.AudioSampleRate = rate
		c.AudioFrameSamples = aacFrameSamples
		c.AudioAACInfo = append([]byte(nil), r.Raw...)
	case *codec.MP3Header:
		if c.AudioCodecType != AudioMP3 {
			return errors.Wrapf(ErrCodecMismatch, "declared %s, got MP3 frame", c.AudioCodecType)
		}
		switch r.Channel {
		case mpeg1audio.ChannelModeMono:
			c.AudioChannels = 1
		case mpeg1audio.ChannelModeDualChannel, mpeg1audio.ChannelModeStereo:
			c.AudioChannels = 2
		case mpeg1audio.ChannelModeJointStereo:
			c.AudioChannels = 2
			c.AudioChannelsExtended = r.ChannelExtended
		default:
			return errors.Errorf("unknown MP3 channel mode %d", r.Channel)
		}
		c.AudioSampleRate = uint32(r.SampleRate)
		c.AudioFrameSamples = uint32(r.Samples)
	case *codec.AudioRaw:
		return nil
	default:
		return errors.Errorf("unknown audio parse result %T", res)
	}
	c.audioMetadataConfigured = true
	return nil
}

// ConfigureVideoMetadata applies a video configuration record. End of
// sequence markers, coded frames and unsupported codecs leave the context
// unchanged.
func (c *StreamContext) ConfigureVideoMetadata(res codec.VideoParseResult) error {
	switch r := res.(type) {
	case *codec.AVCSequenceHeader:
		c.VideoAVCCInfo = append([]byte(nil), r.Record...)
		if c.Width == 0 && c.Height == 0 {
			c.Width = float64(r.Width())
			c.Height = float64(r.Height())
		}
		c.videoMetadataConfigured = true
	case *codec.AVCEndOfSequence:
	case *codec.AVCNalu:
	case *codec.VideoUnsupported:
	default:
		return errors.Errorf("unknown video parse result %T", res)
	}
	return nil
}

// MinorVersionNumber returns the minor version as the integer stored in ftyp
func (c *StreamContext) MinorVersionNumber() (uint32, error) {
	v, err := strconv.ParseUint(c.MinorVersion, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidMetadata, "minor_version %q", c.MinorVersion)
	}
	return uint32(v), nil
}

// MetadataConfigured reports whether script metadata has been applied
func (c *StreamContext) MetadataConfigured() bool {
	return c.metadataConfigured
}

// IsConfigured reports whether everything needed for the initialization segment is known
func (c *StreamContext) IsConfigured() bool {
	return c.flvHeaderConfigured &&
		c.metadataConfigured &&
		c.videoMetadataConfigured &&
		c.audioMetadataConfigured
}

// Pending lists the configuration steps that have not completed yet
func (c *StreamContext) Pending() []string {
	var p []string
	if !c.flvHeaderConfigured {
		p = append(p, "flv header")
	}
	if !c.metadataConfigured {
		p = append(p, "metadata")
	}
	if !c.videoMetadataConfigured {
		p = append(p, "video config")
	}
	if !c.audioMetadataConfigured {
		p = append(p, "audio config")
	}
	return p
}

func (c *StreamContext) IsHeaderSent() bool {
	return c.headerSent
}

// SetHeaderSent sets the header latch. It can only be raised on a configured stream.
func (c *StreamContext) SetHeaderSent(sent bool) error {
	if sent && !c.IsConfigured() {
		return ErrNotConfigured
	}
	c.headerSent = sent
	return nil
}

// SetConfigured forces all readiness flags. Only for tests.
func (c *StreamContext) SetConfigured(configured bool) {
	c.flvHeaderConfigured = configured
	c.metadataConfigured = configured
	c.videoMetadataConfigured = configured
	c.audioMetadataConfigured = configured
}

// Reset restores the initial state, keeping ReplaceCompatibleBrands. Only for tests.
func (c *StreamContext) Reset() {
	replace := c.ReplaceCompatibleBrands
	*c = *New()
	c.ReplaceCompatibleBrands = replace
}
