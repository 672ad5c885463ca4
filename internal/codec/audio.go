// Package codec decodes the codec sub-headers carried by FLV audio and video tags.
package codec

import (
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg1audio"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/flv"
)

// AudioParseResult is one of *AACSequenceHeader, *MP3Header or *AudioRaw.
type AudioParseResult interface {
	audioParseResult()
}

// AACSequenceHeader carries an AAC AudioSpecificConfig
type AACSequenceHeader struct {
	Config aacparser.MPEG4AudioConfig
	// Raw is the config exactly as received
	Raw []byte
}

// MP3Header is a decoded MPEG-1/2 layer 2/3 frame header together with the frame
type MP3Header struct {
	Channel mpeg1audio.ChannelMode
	// ChannelExtended holds the mode extension of joint stereo frames
	ChannelExtended uint8
	SampleRate      int
	// Samples is the number of PCM samples the frame decodes to
	Samples int
	Data    []byte
}

// AudioRaw is an audio payload that carries no configuration, such as a raw AAC frame
type AudioRaw struct {
	SoundFormat uint8
	Data        []byte
}

func (*AACSequenceHeader) audioParseResult() {}
func (*MP3Header) audioParseResult()         {}
func (*AudioRaw) audioParseResult()          {}

// ParseAudio decodes the payload of an audio tag
func ParseAudio(tag flv.Tag) (AudioParseResult, error) {
	if tag.Type != flv.TagAudio {
		return nil, errors.Errorf("codec: %s tag is not audio", tag.Type)
	}
	pkt := tag.Packet
	switch pkt.SoundFormat {
	case flvio.SOUND_AAC:
		switch pkt.AACPacketType {
		case flvio.AAC_SEQHDR:
			cfg, err := aacparser.ParseMPEG4AudioConfigBytes(pkt.Data)
			if err != nil {
				return nil, errors.Wrap(err, "codec: AAC sequence header")
			}
			return &AACSequenceHeader{Config: cfg, Raw: pkt.Data}, nil
		case flvio.AAC_RAW:
			return &AudioRaw{SoundFormat: pkt.SoundFormat, Data: pkt.Data}, nil
		}
		return nil, errors.Errorf("codec: unknown AAC packet type %d", pkt.AACPacketType)
	case flvio.SOUND_MP3:
		return parseMP3(pkt.Data)
	}
	return &AudioRaw{SoundFormat: pkt.SoundFormat, Data: pkt.Data}, nil
}

func parseMP3(data []byte) (*MP3Header, error) {
	var h mpeg1audio.FrameHeader
	if err := h.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "codec: MP3 frame header")
	}
	m := &MP3Header{
		Channel:    h.ChannelMode,
		SampleRate: h.SampleRate,
		Samples:    h.SampleCount(),
		Data:       data,
	}
	if h.ChannelMode == mpeg1audio.ChannelModeJointStereo {
		m.ChannelExtended = (data[3] >> 4) & 0x3
	}
	return m, nil
}
