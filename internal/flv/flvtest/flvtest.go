// Package flvtest builds FLV byte streams and codec fixtures for tests.
package flvtest

import (
	"bytes"
	"math"

	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/nareix/joy4/utils/bits/pio"
)

// SPS is a 352x288 High profile sequence parameter set
var SPS = []byte{
	0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
	0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
	0x00, 0x03, 0x00, 0x3d, 0x08,
}

// PPS is a picture parameter set matching SPS
var PPS = []byte{0x68, 0xee, 0x3c, 0x80}

// AVCRecord returns an AVC decoder configuration record holding SPS and PPS
func AVCRecord() []byte {
	b := []byte{0x01, SPS[1], SPS[2], SPS[3], 0xff, 0xe1, 0, 0}
	pio.PutU16BE(b[6:], uint16(len(SPS)))
	b = append(b, SPS...)
	b = append(b, 0x01, 0, 0)
	pio.PutU16BE(b[len(b)-2:], uint16(len(PPS)))
	return append(b, PPS...)
}

// ASC returns an AAC-LC audio specific config
func ASC(sampleRateIndex, channels uint8) []byte {
	const objectType = 2
	return []byte{
		objectType<<3 | sampleRateIndex>>1,
		(sampleRateIndex&1)<<7 | channels<<3,
	}
}

// MP3Frame returns an MPEG-1 layer 3 frame header at 128 kbit/s and 44.1 kHz
// followed by zero padding. mode is the 2-bit channel mode and ext the mode extension.
func MP3Frame(mode, ext uint8) []byte {
	b := make([]byte, 32)
	b[0] = 0xff
	b[1] = 0xfb
	b[2] = 0x90
	b[3] = mode<<6 | (ext&0x3)<<4
	return b
}

// Prop is one entry of an onMetaData array
type Prop struct {
	Key   string
	Value interface{}
}

// Writer accumulates an FLV stream
type Writer struct {
	bytes.Buffer
}

// NewWriter starts a stream with the file header and the first previous-tag-size
func NewWriter(hasAudio, hasVideo bool) *Writer {
	w := new(Writer)
	var flags byte
	if hasAudio {
		flags |= flvio.FILE_HAS_AUDIO
	}
	if hasVideo {
		flags |= flvio.FILE_HAS_VIDEO
	}
	w.Write([]byte{'F', 'L', 'V', 0x01, flags, 0, 0, 0, 9})
	w.Write([]byte{0, 0, 0, 0})
	return w
}

// Tag appends a raw tag with the given type byte
func (w *Writer) Tag(tagType uint8, ts uint32, body []byte) {
	hdr := make([]byte, 11)
	hdr[0] = tagType
	pio.PutU24BE(hdr[1:], uint32(len(body)))
	pio.PutU24BE(hdr[4:], ts&0xffffff)
	hdr[7] = uint8(ts >> 24)
	w.Write(hdr)
	w.Write(body)
	trailer := make([]byte, 4)
	pio.PutU32BE(trailer, uint32(len(hdr)+len(body)))
	w.Write(trailer)
}

func (w *Writer) audio(format, packetType uint8, ts uint32, data []byte) {
	body := []byte{format<<4 | 3<<2 | 1<<1 | 1}
	if format == flvio.SOUND_AAC {
		body = append(body, packetType)
	}
	w.Tag(flvio.TAG_AUDIO, ts, append(body, data...))
}

// AACSequenceHeader appends an AAC audio specific config tag
func (w *Writer) AACSequenceHeader(ts uint32, asc []byte) {
	w.audio(flvio.SOUND_AAC, flvio.AAC_SEQHDR, ts, asc)
}

// AAC appends a raw AAC frame
func (w *Writer) AAC(ts uint32, frame []byte) {
	w.audio(flvio.SOUND_AAC, flvio.AAC_RAW, ts, frame)
}

// MP3 appends an MP3 frame
func (w *Writer) MP3(ts uint32, frame []byte) {
	w.audio(flvio.SOUND_MP3, 0, ts, frame)
}

func (w *Writer) video(frameType, packetType uint8, ts uint32, cts int32, data []byte) {
	body := []byte{frameType<<4 | flvio.VIDEO_H264, packetType, 0, 0, 0}
	pio.PutI24BE(body[2:], cts)
	w.Tag(flvio.TAG_VIDEO, ts, append(body, data...))
}

// AVCSequenceHeader appends an AVC decoder configuration record tag
func (w *Writer) AVCSequenceHeader(ts uint32, record []byte) {
	w.video(flvio.FRAME_KEY, flvio.AVC_SEQHDR, ts, 0, record)
}

// AVC appends a video frame made of length-prefixed NAL units
func (w *Writer) AVC(ts uint32, keyframe bool, cts int32, nalus []byte) {
	frameType := uint8(flvio.FRAME_INTER)
	if keyframe {
		frameType = flvio.FRAME_KEY
	}
	w.video(frameType, flvio.AVC_NALU, ts, cts, nalus)
}

// AVCEndOfSequence appends an end-of-sequence marker
func (w *Writer) AVCEndOfSequence(ts uint32) {
	w.video(flvio.FRAME_KEY, flvio.AVC_EOS, ts, 0, nil)
}

// Metadata appends an onMetaData script tag
func (w *Writer) Metadata(props ...Prop) {
	w.Tag(flvio.TAG_SCRIPTDATA, 0, ScriptData("onMetaData", props...))
}

// ScriptData encodes a script tag body: the name followed by an ECMA array
func ScriptData(name string, props ...Prop) []byte {
	var b bytes.Buffer
	amfString(&b, name)
	b.WriteByte(0x08)
	n := make([]byte, 4)
	pio.PutU32BE(n, uint32(len(props)))
	b.Write(n)
	for _, p := range props {
		amfKey(&b, p.Key)
		switch v := p.Value.(type) {
		case float64:
			b.WriteByte(0x00)
			f := make([]byte, 8)
			pio.PutU64BE(f, math.Float64bits(v))
			b.Write(f)
		case bool:
			b.WriteByte(0x01)
			if v {
				b.WriteByte(1)
			} else {
				b.WriteByte(0)
			}
		case string:
			amfString(&b, v)
		}
	}
	b.Write([]byte{0, 0, 0x09})
	return b.Bytes()
}

func amfKey(b *bytes.Buffer, s string) {
	n := make([]byte, 2)
	pio.PutU16BE(n, uint16(len(s)))
	b.Write(n)
	b.WriteString(s)
}

func amfString(b *bytes.Buffer, s string) {
	b.WriteByte(0x02)
	amfKey(b, s)
}

// NALU wraps a NAL unit with a 4-byte length prefix
func NALU(nalu []byte) []byte {
	b := make([]byte, 4, 4+len(nalu))
	pio.PutU32BE(b, uint32(len(nalu)))
	return append(b, nalu...)
}
