package streamctx

import (
	"fmt"

	"github.com/nareix/joy4/format/flv/flvio"
)

// AudioCodecType is the audio codec resolved from the declared codec id
type AudioCodecType uint8

const (
	AudioNone AudioCodecType = iota
	AudioAAC
	AudioMP3
)

func (t AudioCodecType) String() string {
	switch t {
	case AudioNone:
		return "none"
	case AudioAAC:
		return "aac"
	case AudioMP3:
		return "mp3"
	}
	return fmt.Sprintf("AudioCodecType(%d)", uint8(t))
}

// AudioCodecTypeOf maps an FLV sound format id to a codec type
func AudioCodecTypeOf(id uint8) AudioCodecType {
	switch id {
	case flvio.SOUND_AAC:
		return AudioAAC
	case flvio.SOUND_MP3:
		return AudioMP3
	}
	return AudioNone
}

// VideoCodecType is the video codec resolved from the declared codec id
type VideoCodecType uint8

const (
	VideoNone VideoCodecType = iota
	VideoAVC1
)

func (t VideoCodecType) String() string {
	switch t {
	case VideoNone:
		return "none"
	case VideoAVC1:
		return "avc1"
	}
	return fmt.Sprintf("VideoCodecType(%d)", uint8(t))
}

// VideoCodecTypeOf maps an FLV video codec id to a codec type
func VideoCodecTypeOf(id uint8) VideoCodecType {
	if id == flvio.VIDEO_H264 {
		return VideoAVC1
	}
	return VideoNone
}

// AAC sampling frequencies indexed by sampling_frequency_index
var aacSampleRates = [13]uint32{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AACSampleRate resolves an AAC sampling frequency index
func AACSampleRate(index uint) (uint32, bool) {
	if index >= uint(len(aacSampleRates)) {
		return 0, false
	}
	return aacSampleRates[index], true
}
