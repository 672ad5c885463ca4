package codec

import (
	"time"

	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/flv"
)

// VideoParseResult is one of *AVCSequenceHeader, *AVCEndOfSequence, *AVCNalu
// or *VideoUnsupported.
type VideoParseResult interface {
	videoParseResult()
}

// AVCSequenceHeader carries an AVC decoder configuration record
type AVCSequenceHeader struct {
	Record []byte
	Codec  h264parser.CodecData
}

func (s *AVCSequenceHeader) Width() int  { return s.Codec.Width() }
func (s *AVCSequenceHeader) Height() int { return s.Codec.Height() }

// AVCEndOfSequence marks the end of the video stream
type AVCEndOfSequence struct{}

// AVCNalu is one access unit made of length-prefixed NAL units
type AVCNalu struct {
	Data     []byte
	Keyframe bool
	// CompositionTime is the offset of the presentation time from the decode time
	CompositionTime time.Duration
}

// VideoUnsupported is the payload of a video codec other than AVC
type VideoUnsupported struct {
	CodecID uint8
	Data    []byte
}

func (*AVCSequenceHeader) videoParseResult() {}
func (*AVCEndOfSequence) videoParseResult()  {}
func (*AVCNalu) videoParseResult()           {}
func (*VideoUnsupported) videoParseResult()  {}

// ParseVideo decodes the payload of a video tag
func ParseVideo(tag flv.Tag) (VideoParseResult, error) {
	if tag.Type != flv.TagVideo {
		return nil, errors.Errorf("codec: %s tag is not video", tag.Type)
	}
	pkt := tag.Packet
	if pkt.CodecID != flvio.VIDEO_H264 {
		return &VideoUnsupported{CodecID: pkt.CodecID, Data: pkt.Data}, nil
	}
	switch pkt.AVCPacketType {
	case flvio.AVC_SEQHDR:
		cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(pkt.Data)
		if err != nil {
			return nil, errors.Wrap(err, "codec: AVC sequence header")
		}
		return &AVCSequenceHeader{Record: pkt.Data, Codec: cd}, nil
	case flvio.AVC_NALU:
		if len(pkt.Data) == 0 {
			return nil, errors.New("codec: empty AVC packet")
		}
		return &AVCNalu{
			Data:            pkt.Data,
			Keyframe:        pkt.FrameType == flvio.FRAME_KEY,
			CompositionTime: time.Duration(pkt.CompositionTime) * time.Millisecond,
		}, nil
	case flvio.AVC_EOS:
		return &AVCEndOfSequence{}, nil
	}
	return nil, errors.Errorf("codec: unknown AVC packet type %d", pkt.AVCPacketType)
}
