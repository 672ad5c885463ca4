// Package mp4mux writes a configured stream as a fragmented MP4
// initialization segment followed by media segments.
package mp4mux

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/fmp4"
	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/ratedetect"
	"github.com/cleoag/remux/internal/streamctx"
)

// DefaultInterval is the longest a segment is held open without a keyframe
const DefaultInterval = 200 * time.Millisecond

// Output receives the serialized stream
type Output interface {
	// WriteInit receives the ftyp and moov boxes, once, before any segment
	WriteInit(init []byte) error
	// WriteSegment receives the fragments flushed together
	WriteSegment(seg Segment) error
}

// Segment is the set of track fragments flushed at one point of the stream
type Segment struct {
	// Sequence numbers segments from 1
	Sequence    int
	Fragments   []fragment.Fragment
	Duration    time.Duration
	Independent bool
}

// Bytes concatenates the fragments of the segment
func (s Segment) Bytes() []byte {
	var b bytes.Buffer
	for _, f := range s.Fragments {
		b.Write(f.Bytes)
	}
	return b.Bytes()
}

// Size returns the number of bytes in the segment
func (s Segment) Size() int {
	var n int
	for _, f := range s.Fragments {
		n += f.Length
	}
	return n
}

// Muxer splits the media of one stream into segments. A segment is cut
// before every video keyframe and whenever Interval has elapsed.
type Muxer struct {
	Interval time.Duration

	out   Output
	video fragment.Fragmenter
	audio fragment.Fragmenter
	rate  ratedetect.Detector
	last  time.Duration
	seq   int
}

func New(out Output) *Muxer {
	return &Muxer{
		Interval: DefaultInterval,
		out:      out,
	}
}

// WriteHeader assembles and writes the initialization segment, then prepares
// a fragmenter for every track it describes
func (m *Muxer) WriteHeader(c *streamctx.StreamContext) error {
	init, err := fmp4.Assemble(c)
	if err != nil {
		return err
	}
	b, err := init.Bytes()
	if err != nil {
		return errors.Wrap(err, "mp4mux: serialize initialization segment")
	}
	video, err := fmp4.NewVideoFragmenter(&c.VideoTrack, c.VideoAVCCInfo)
	if err != nil {
		return err
	}
	m.video = video
	if c.FPS > 0 {
		m.video.SetFallbackDuration(time.Duration(float64(time.Second) / c.FPS))
	}
	if c.AudioCodecType != streamctx.AudioNone {
		m.audio = fmp4.NewAudioFragmenter(&c.AudioTrack)
		if c.AudioSampleRate != 0 && c.AudioFrameSamples != 0 {
			m.audio.SetFallbackDuration(time.Duration(c.AudioFrameSamples) * time.Second / time.Duration(c.AudioSampleRate))
		}
	}
	return m.out.WriteInit(b)
}

// WriteVideo adds an AVC access unit
func (m *Muxer) WriteVideo(s fragment.Sample) error {
	if m.video == nil {
		return errors.New("mp4mux: header not written")
	}
	m.rate.Append(s.Time)
	if err := m.video.WriteSample(s); err != nil {
		return err
	}
	// the new sample is held back, so a keyframe starts the next segment
	if s.Keyframe || s.Time-m.last >= m.Interval {
		return m.flush(s.Time, false)
	}
	return nil
}

// WriteAudio adds an audio frame. Frames of a stream without an audio track
// are discarded.
func (m *Muxer) WriteAudio(s fragment.Sample) error {
	if m.audio == nil {
		if m.video == nil {
			return errors.New("mp4mux: header not written")
		}
		return nil
	}
	if err := m.audio.WriteSample(s); err != nil {
		return err
	}
	if s.Time-m.last >= m.Interval {
		return m.flush(s.Time, false)
	}
	return nil
}

// WriteTrailer flushes every buffered sample
func (m *Muxer) WriteTrailer() error {
	if m.video == nil {
		return nil
	}
	if r := m.rate.Rate(); !r.IsZero() {
		m.video.SetFallbackDuration(r.FrameDuration())
	}
	return m.flush(m.last, true)
}

// Rate returns the frame rate detected from the video timestamps
func (m *Muxer) Rate() ratedetect.Rate {
	return m.rate.Rate()
}

func (m *Muxer) flush(now time.Duration, final bool) error {
	m.last = now
	var seg Segment
	for _, f := range []fragment.Fragmenter{m.video, m.audio} {
		if f == nil {
			continue
		}
		var frag fragment.Fragment
		var err error
		if final {
			frag, err = f.Flush()
		} else {
			frag, err = f.Fragment()
		}
		if err != nil {
			return err
		}
		if frag.Length == 0 {
			continue
		}
		if len(seg.Fragments) == 0 {
			seg.Independent = frag.Independent
		} else {
			seg.Independent = seg.Independent && frag.Independent
		}
		if frag.Duration > seg.Duration {
			seg.Duration = frag.Duration
		}
		seg.Fragments = append(seg.Fragments, frag)
	}
	if len(seg.Fragments) == 0 {
		return nil
	}
	m.seq++
	seg.Sequence = m.seq
	return m.out.WriteSegment(seg)
}
