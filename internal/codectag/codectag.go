// Package codectag formats RFC 6381 codec strings for a configured stream.
package codectag

import (
	"fmt"
	"strings"

	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/streamctx"
)

// Video returns the codec string of the video track
func Video(c *streamctx.StreamContext) (codec string, err error) {
	switch c.VideoCodecType {
	case streamctx.VideoAVC1:
		cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(c.VideoAVCCInfo)
		if err != nil {
			return "", errors.Wrap(err, "codectag: decoder configuration")
		}
		codec = fmt.Sprintf("avc1.%02x%02x%02x",
			cd.RecordInfo.AVCProfileIndication,
			cd.RecordInfo.ProfileCompatibility,
			cd.RecordInfo.AVCLevelIndication)
	default:
		err = errors.Errorf("codectag: video codec type=%v is not supported", c.VideoCodecType)
	}
	return
}

// Audio returns the codec string of the audio track
func Audio(c *streamctx.StreamContext) (codec string, err error) {
	switch c.AudioCodecType {
	case streamctx.AudioAAC:
		config, err := aacparser.ParseMPEG4AudioConfigBytes(c.AudioAACInfo)
		if err != nil {
			return "", errors.Wrap(err, "codectag: audio specific config")
		}
		codec = fmt.Sprintf("mp4a.40.%d", config.ObjectType)
	case streamctx.AudioMP3:
		codec = "mp4a.6B"
	default:
		err = errors.Errorf("codectag: audio codec type=%v is not supported", c.AudioCodecType)
	}
	return
}

// Codecs returns the comma separated codec strings of every track the
// initialization segment carries
func Codecs(c *streamctx.StreamContext) (string, error) {
	video, err := Video(c)
	if err != nil {
		return "", err
	}
	tags := []string{video}
	if c.AudioCodecType != streamctx.AudioNone {
		audio, err := Audio(c)
		if err != nil {
			return "", err
		}
		tags = append(tags, audio)
	}
	return strings.Join(tags, ","), nil
}

// ContentType returns the MIME type of the fragmented stream including its
// codecs parameter
func ContentType(c *streamctx.StreamContext) string {
	codecs, err := Codecs(c)
	if err != nil {
		return "video/mp4"
	}
	return fmt.Sprintf("video/mp4; codecs=%q", codecs)
}
