// Package fmp4 builds fragmented MP4 initialization segments and movie
// fragments from a configured stream.
package fmp4

import (
	"github.com/abema/go-mp4"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/streamctx"
)

// Handler is the media handler of a track
type Handler uint8

const (
	HandlerVideo Handler = iota + 1
	HandlerSound
)

func (h Handler) String() string {
	switch h {
	case HandlerVideo:
		return "vide"
	case HandlerSound:
		return "soun"
	}
	return "unknown"
}

const (
	objectTypeAAC   = 0x40 // ISO/IEC 14496-3
	objectTypeMP3   = 0x6b // ISO/IEC 11172-3
	streamTypeAudio = 0x05

	// 72 dpi in 16.16
	resolution72 = 0x00480000
)

var unityMatrix = [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}

// InitSegment is the box tree of an initialization segment
type InitSegment struct {
	Ftyp *Box
	Moov *Box
}

// Tracks returns the trak boxes in the order they are serialized
func (s *InitSegment) Tracks() []*Box {
	return s.Moov.ChildrenOf(mp4.BoxTypeTrak())
}

// Bytes serializes ftyp followed by moov
func (s *InitSegment) Bytes() ([]byte, error) {
	return Marshal(s.Ftyp, s.Moov)
}

// Assemble builds the initialization segment of a configured stream. A
// stream whose audio codec is unknown gets no audio track.
func Assemble(c *streamctx.StreamContext) (*InitSegment, error) {
	if !c.IsConfigured() {
		return nil, streamctx.ErrNotConfigured
	}
	ftyp, err := FileType(c)
	if err != nil {
		return nil, err
	}
	moov, err := Movie(c)
	if err != nil {
		return nil, err
	}
	return &InitSegment{Ftyp: ftyp, Moov: moov}, nil
}

// FileType builds the ftyp box from the container metadata
func FileType(c *streamctx.StreamContext) (*Box, error) {
	minor, err := c.MinorVersionNumber()
	if err != nil {
		return nil, err
	}
	ftyp := &mp4.Ftyp{
		MajorBrand:   brand(c.MajorBrand),
		MinorVersion: minor,
	}
	for _, b := range c.CompatibleBrands {
		ftyp.CompatibleBrands = append(ftyp.CompatibleBrands, mp4.CompatibleBrandElem{CompatibleBrand: brand(b)})
	}
	return newBox(ftyp), nil
}

// SegmentType returns the styp box that starts each media segment file
func SegmentType() *Box {
	return newBox(&mp4.Styp{
		MajorBrand: [4]byte{'m', 's', 'd', 'h'},
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'m', 's', 'i', 'x'}},
		},
	})
}

// brand pads or truncates s to a four character code
func brand(s string) [4]byte {
	b := [4]byte{' ', ' ', ' ', ' '}
	copy(b[:], s)
	return b
}

// Movie builds the moov box: the movie header, the video track, the audio
// track when an audio codec is known, then the fragment defaults.
func Movie(c *streamctx.StreamContext) (*Box, error) {
	moov := newBox(&mp4.Moov{}, MovieHeader(c))
	mvex := newBox(&mp4.Mvex{})

	video, err := track(c, HandlerVideo, c.VideoTrack)
	if err != nil {
		return nil, err
	}
	moov.Children = append(moov.Children, video)
	mvex.Children = append(mvex.Children, trackExtends(c.VideoTrack))

	if c.AudioCodecType != streamctx.AudioNone {
		audio, err := track(c, HandlerSound, c.AudioTrack)
		if err != nil {
			return nil, err
		}
		moov.Children = append(moov.Children, audio)
		mvex.Children = append(mvex.Children, trackExtends(c.AudioTrack))
	}
	moov.Children = append(moov.Children, mvex)
	return moov, nil
}

// MovieHeader builds the mvhd box
func MovieHeader(c *streamctx.StreamContext) *Box {
	return newBox(&mp4.Mvhd{
		Timescale:   streamctx.TimeScale,
		DurationV0:  c.DurationMs,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      unityMatrix,
		NextTrackID: streamctx.NextTrackID,
	})
}

func trackExtends(t streamctx.TrackContext) *Box {
	return newBox(&mp4.Trex{
		TrackID:                       t.TrackID,
		DefaultSampleDescriptionIndex: 1,
	})
}

func track(c *streamctx.StreamContext, h Handler, t streamctx.TrackContext) (*Box, error) {
	tkhd := &mp4.Tkhd{
		FullBox:    mp4.FullBox{Flags: [3]byte{0, 0, 3}}, // enabled | in movie
		TrackID:    t.TrackID,
		DurationV0: c.DurationMs,
		Matrix:     unityMatrix,
	}
	var hdlr *mp4.Hdlr
	var mediaHeader *Box
	var entry *Box
	var err error
	switch h {
	case HandlerVideo:
		tkhd.Width = fixed16(c.Width)
		tkhd.Height = fixed16(c.Height)
		hdlr = &mp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}
		mediaHeader = newBox(&mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}})
		entry, err = videoSampleEntry(c)
	case HandlerSound:
		tkhd.AlternateGroup = 1
		tkhd.Volume = 0x0100
		hdlr = &mp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}
		mediaHeader = newBox(&mp4.Smhd{})
		entry, err = audioSampleEntry(c, t)
	default:
		return nil, errors.Errorf("fmp4: unknown handler %d", h)
	}
	if err != nil {
		return nil, err
	}
	stbl := newBox(&mp4.Stbl{},
		newBox(&mp4.Stsd{EntryCount: 1}, entry),
		newBox(&mp4.Stts{}),
		newBox(&mp4.Stsc{}),
		newBox(&mp4.Stsz{}),
		newBox(&mp4.Stco{}),
	)
	dinf := newBox(&mp4.Dinf{},
		newBox(&mp4.Dref{EntryCount: 1},
			newBox(&mp4.Url{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.UrlSelfContained}}}),
		),
	)
	mdia := newBox(&mp4.Mdia{},
		newBox(&mp4.Mdhd{
			Timescale:  streamctx.TimeScale,
			DurationV0: c.DurationMs,
			Language:   [3]byte{'u', 'n', 'd'},
		}),
		newBox(hdlr),
		newBox(&mp4.Minf{}, mediaHeader, dinf, stbl),
	)
	return newBox(&mp4.Trak{}, newBox(tkhd), mdia), nil
}

func videoSampleEntry(c *streamctx.StreamContext) (*Box, error) {
	if c.VideoCodecType != streamctx.VideoAVC1 {
		return nil, errors.Wrapf(streamctx.ErrUnsupportedCodec, "video codec %s", c.VideoCodecType)
	}
	avc1 := &mp4.VisualSampleEntry{
		SampleEntry: mp4.SampleEntry{
			AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.BoxTypeAvc1()},
			DataReferenceIndex: 1,
		},
		Width:           uint16(c.Width),
		Height:          uint16(c.Height),
		Horizresolution: resolution72,
		Vertresolution:  resolution72,
		FrameCount:      1,
		Depth:           0x0018,
		PreDefined3:     -1,
	}
	return newBox(avc1, rawBox(mp4.BoxTypeAvcC(), c.VideoAVCCInfo)), nil
}

func audioSampleEntry(c *streamctx.StreamContext, t streamctx.TrackContext) (*Box, error) {
	channels := uint16(c.AudioChannels)
	if channels == 0 {
		// AAC channel configuration 0 leaves the layout to the stream
		channels = 2
	}
	// SampleRate is 16.16 fixed point; rates above 65535 are left to the
	// decoder configuration
	var rate uint32
	if c.AudioSampleRate <= 0xffff {
		rate = c.AudioSampleRate << 16
	}
	mp4a := &mp4.AudioSampleEntry{
		SampleEntry: mp4.SampleEntry{
			AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.BoxTypeMp4a()},
			DataReferenceIndex: 1,
		},
		ChannelCount: channels,
		SampleSize:   16,
		SampleRate:   rate,
	}
	bitrate := c.AudioDataRate * 1000
	var descriptors []mp4.Descriptor
	switch c.AudioCodecType {
	case streamctx.AudioAAC:
		asc := c.AudioAACInfo
		descriptors = []mp4.Descriptor{
			{
				Tag:          mp4.ESDescrTag,
				Size:         32 + uint32(len(asc)),
				ESDescriptor: &mp4.ESDescriptor{ESID: uint16(t.TrackID)},
			},
			{
				Tag:  mp4.DecoderConfigDescrTag,
				Size: 18 + uint32(len(asc)),
				DecoderConfigDescriptor: &mp4.DecoderConfigDescriptor{
					ObjectTypeIndication: objectTypeAAC,
					StreamType:           streamTypeAudio,
					Reserved:             true,
					MaxBitrate:           bitrate,
					AvgBitrate:           bitrate,
				},
			},
			{Tag: mp4.DecSpecificInfoTag, Size: uint32(len(asc)), Data: asc},
			{Tag: mp4.SLConfigDescrTag, Size: 1, Data: []byte{0x02}},
		}
	case streamctx.AudioMP3:
		descriptors = []mp4.Descriptor{
			{
				Tag:          mp4.ESDescrTag,
				Size:         27,
				ESDescriptor: &mp4.ESDescriptor{ESID: uint16(t.TrackID)},
			},
			{
				Tag:  mp4.DecoderConfigDescrTag,
				Size: 13,
				DecoderConfigDescriptor: &mp4.DecoderConfigDescriptor{
					ObjectTypeIndication: objectTypeMP3,
					StreamType:           streamTypeAudio,
					Reserved:             true,
					MaxBitrate:           bitrate,
					AvgBitrate:           bitrate,
				},
			},
			{Tag: mp4.SLConfigDescrTag, Size: 1, Data: []byte{0x02}},
		}
	default:
		return nil, errors.Wrapf(streamctx.ErrUnsupportedCodec, "audio codec %s", c.AudioCodecType)
	}
	return newBox(mp4a, newBox(&mp4.Esds{Descriptors: descriptors})), nil
}

// fixed16 converts to 16.16 fixed point
func fixed16(v float64) uint32 {
	return uint32(v * 65536)
}
