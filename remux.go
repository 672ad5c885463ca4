// Package remux converts an FLV tag stream into fragmented MP4.
//
// A Remuxer consumes Messages from a channel on a single goroutine. It
// collects the FLV header, the onMetaData object and the codec sequence
// headers until the stream is configured, writes the initialization segment
// once, and from then on packages queued tags into media segments.
package remux

import (
	"strings"
	"time"

	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cleoag/remux/internal/codec"
	"github.com/cleoag/remux/internal/codectag"
	"github.com/cleoag/remux/internal/flv"
	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/metrics"
	"github.com/cleoag/remux/internal/streamctx"
	"github.com/cleoag/remux/mp4mux"
)

const (
	DefaultQueueLength   = 1024
	DefaultMessageBuffer = 64
)

// OverflowPolicy selects the tag that is dropped when the tag queue is full
type OverflowPolicy int

const (
	// RejectNewest drops the tag being queued
	RejectNewest OverflowPolicy = iota
	// DropOldest drops the tag at the head of the queue
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case RejectNewest:
		return "reject-newest"
	case DropOldest:
		return "drop-oldest"
	}
	return "unknown"
}

// ParseOverflowPolicy parses the names returned by OverflowPolicy.String
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "", "reject-newest":
		return RejectNewest, nil
	case "drop-oldest":
		return DropOldest, nil
	}
	return 0, errors.Errorf("unknown overflow policy %q", s)
}

// ContentTypeSetter is implemented by outputs that need the MIME type of the
// stream before the initialization segment is written
type ContentTypeSetter interface {
	SetContentType(contentType string)
}

// Finisher is implemented by outputs that complete the stream after the last
// segment, such as a playlist that is closed
type Finisher interface {
	Finish() error
}

// Remuxer turns the messages of one stream into fragmented MP4. The zero
// values of the exported fields select the defaults; they must not be changed
// once Run has started.
type Remuxer struct {
	// ID names the stream in log entries
	ID string
	// QueueLength bounds the number of tags waiting to be remuxed
	QueueLength int
	// OverflowPolicy decides which tag is dropped from a full queue
	OverflowPolicy OverflowPolicy
	// MessageBuffer is the capacity of channels created by NewChannel
	MessageBuffer int
	// FragmentInterval is the longest a segment is held open without a video keyframe
	FragmentInterval time.Duration
	// ReplaceCompatibleBrands makes a compatible_brands metadata entry replace
	// the default brands instead of extending them
	ReplaceCompatibleBrands bool
	// Log receives the remuxer log entries. Defaults to the logrus standard logger.
	Log logrus.FieldLogger
	// Metrics is optional
	Metrics *metrics.Metrics

	out    Output
	log    logrus.FieldLogger
	stream *streamctx.StreamContext
	mux    *mp4mux.Muxer
	queue  []flv.Tag
	// leading queue entries configure has already examined, and whether
	// metadata was configured when it did
	scanned     int
	scannedMeta bool
	remuxing    bool
	err         error
	dropped     int
	segments    int
}

// New creates a remuxer writing to out
func New(out Output) *Remuxer {
	return &Remuxer{out: out}
}

// NewChannel returns a message channel with MessageBuffer capacity. Senders
// block while it is full.
func (r *Remuxer) NewChannel() chan Message {
	n := r.MessageBuffer
	if n <= 0 {
		n = DefaultMessageBuffer
	}
	return make(chan Message, n)
}

// Err returns the fault that stopped remuxing, if any. It must not be called
// concurrently with Run.
func (r *Remuxer) Err() error {
	return r.err
}

// HeaderSent reports whether the initialization segment has been written. It
// must not be called concurrently with Run.
func (r *Remuxer) HeaderSent() bool {
	return r.stream != nil && r.stream.IsHeaderSent()
}

// Segments returns the number of media segments written so far. It must not
// be called concurrently with Run.
func (r *Remuxer) Segments() int {
	return r.segments
}

// Dropped returns the number of tags dropped so far. It must not be called
// concurrently with Run.
func (r *Remuxer) Dropped() int {
	return r.dropped
}

func (r *Remuxer) setup() {
	if r.QueueLength <= 0 {
		r.QueueLength = DefaultQueueLength
	}
	if r.FragmentInterval <= 0 {
		r.FragmentInterval = mp4mux.DefaultInterval
	}
	if r.Log == nil {
		r.Log = logrus.StandardLogger()
	}
	r.log = r.Log.WithField("stream", r.ID)
	r.stream = streamctx.New()
	r.stream.ReplaceCompatibleBrands = r.ReplaceCompatibleBrands
	r.mux = mp4mux.New(&instrumentedOutput{Output: r.out, r: r})
	r.mux.Interval = r.FragmentInterval
}

// Run consumes messages until CloseWorker is received or msgs is closed. In
// both cases buffered media is flushed to the output and nil is returned;
// faults are reported by Err.
func (r *Remuxer) Run(msgs <-chan Message) error {
	r.setup()
	r.Metrics.StreamStarted()
	defer r.Metrics.StreamEnded()
	for {
		msg, ok := <-msgs
		if !ok {
			r.log.Info("message channel closed")
			r.finish()
			return nil
		}
		if _, ok := msg.(CloseWorker); ok {
			r.finish()
			return nil
		}
		r.apply(msg)
		if !r.remuxing {
			continue
		}
		r.process()
	}
}

func (r *Remuxer) apply(msg Message) {
	switch m := msg.(type) {
	case PushTag:
		r.enqueue(m.Tag)
	case PushFlvHeader:
		r.stream.ParseFlvHeader(m.Header)
		r.log.WithFields(logrus.Fields{
			"audio": m.Header.HasAudio,
			"video": m.Header.HasVideo,
		}).Debug("flv header")
	case PushMetadata:
		r.stream.ParseMetadata(m.Metadata)
		r.log.WithFields(logrus.Fields{
			"duration": r.stream.DurationMs,
			"width":    r.stream.Width,
			"height":   r.stream.Height,
			"audio":    r.stream.AudioCodecType,
			"video":    r.stream.VideoCodecType,
		}).Debug("metadata")
	case StartRemuxing:
		r.remuxing = true
	case StopRemuxing:
		r.remuxing = false
	case Heartbeat:
	default:
		r.log.Warnf("unknown message %T", msg)
	}
}

func (r *Remuxer) enqueue(tag flv.Tag) {
	if r.err != nil {
		// a rejected stream discards everything it is sent
		return
	}
	if len(r.queue) >= r.QueueLength {
		r.drop("queue full", nil)
		if r.OverflowPolicy == RejectNewest {
			return
		}
		r.queue[0] = flv.Tag{}
		r.queue = r.queue[1:]
		if r.scanned > 0 {
			r.scanned--
		}
	}
	r.queue = append(r.queue, tag)
	r.Metrics.RecordQueueDepth(len(r.queue))
}

// process advances the stream as far as the queued tags allow
func (r *Remuxer) process() {
	if r.err != nil {
		r.clear()
		return
	}
	if !r.stream.IsConfigured() {
		if err := r.configure(); err != nil {
			r.fail(err)
			return
		}
		if !r.stream.IsConfigured() {
			r.log.WithField("pending", r.stream.Pending()).Debug("waiting for configuration")
			return
		}
	}
	if !r.stream.IsHeaderSent() {
		if err := r.sendHeader(); err != nil {
			r.fail(err)
			return
		}
	}
	for len(r.queue) > 0 {
		tag := r.queue[0]
		r.queue[0] = flv.Tag{}
		r.queue = r.queue[1:]
		if err := r.remuxTag(tag); err != nil {
			r.fail(err)
			return
		}
	}
	r.scanned = 0
	r.Metrics.RecordQueueDepth(0)
}

// configure feeds the sequence headers found in the queue to the stream
// context. Media tags stay queued until the initialization segment is out.
// Audio tags are only inspected once the metadata has declared the codec
// they are checked against.
func (r *Remuxer) configure() error {
	if meta := r.stream.MetadataConfigured(); meta != r.scannedMeta {
		// audio tags queued ahead of the metadata are inspected now
		r.scanned = 0
		r.scannedMeta = meta
	}
	kept := r.queue[:r.scanned]
	for i := r.scanned; i < len(r.queue); i++ {
		keep, err := r.configureTag(r.queue[i])
		if err != nil {
			if streamctx.IsConfigFault(err) {
				return err
			}
			r.drop("parse", err)
			continue
		}
		if keep {
			kept = append(kept, r.queue[i])
		}
	}
	for i := len(kept); i < len(r.queue); i++ {
		r.queue[i] = flv.Tag{}
	}
	r.queue = kept
	r.scanned = len(kept)
	return nil
}

func (r *Remuxer) configureTag(tag flv.Tag) (keep bool, err error) {
	switch tag.Type {
	case flv.TagAudio:
		if !r.stream.MetadataConfigured() {
			return true, nil
		}
		res, err := codec.ParseAudio(tag)
		if err != nil {
			return false, err
		}
		if err := r.stream.ConfigureAudioMetadata(res); err != nil {
			return false, err
		}
		_, seqhdr := res.(*codec.AACSequenceHeader)
		return !seqhdr, nil
	case flv.TagVideo:
		res, err := codec.ParseVideo(tag)
		if err != nil {
			return false, err
		}
		if err := r.stream.ConfigureVideoMetadata(res); err != nil {
			return false, err
		}
		_, seqhdr := res.(*codec.AVCSequenceHeader)
		return !seqhdr, nil
	}
	r.discard(tag)
	return false, nil
}

func (r *Remuxer) sendHeader() error {
	if ct, ok := r.out.(ContentTypeSetter); ok {
		ct.SetContentType(codectag.ContentType(r.stream))
	}
	if err := r.mux.WriteHeader(r.stream); err != nil {
		return err
	}
	if err := r.stream.SetHeaderSent(true); err != nil {
		return err
	}
	codecs, _ := codectag.Codecs(r.stream)
	r.log.WithFields(logrus.Fields{
		"codecs": codecs,
		"width":  r.stream.Width,
		"height": r.stream.Height,
	}).Info("initialization segment written")
	return nil
}

// remuxTag forwards the media of one tag to the muxer. Tags that cannot be
// used are dropped; only output failures are returned.
func (r *Remuxer) remuxTag(tag flv.Tag) error {
	r.Metrics.RecordTag(tag.Type.String())
	switch tag.Type {
	case flv.TagAudio:
		if r.stream.AudioDisabled() {
			return nil
		}
		res, err := codec.ParseAudio(tag)
		if err != nil {
			r.drop("parse", err)
			return nil
		}
		switch a := res.(type) {
		case *codec.AACSequenceHeader:
			r.log.Debug("ignoring AAC sequence header after configuration")
		case *codec.MP3Header:
			if r.stream.AudioCodecType != streamctx.AudioMP3 {
				r.drop("codec", errors.Wrap(streamctx.ErrCodecMismatch, "MP3 frame"))
				return nil
			}
			return r.mux.WriteAudio(fragment.Sample{Time: tag.Time, Data: a.Data})
		case *codec.AudioRaw:
			if a.SoundFormat != flvio.SOUND_AAC || r.stream.AudioCodecType != streamctx.AudioAAC {
				r.drop("codec", errors.Wrapf(streamctx.ErrCodecMismatch, "sound format %d", a.SoundFormat))
				return nil
			}
			return r.mux.WriteAudio(fragment.Sample{Time: tag.Time, Data: a.Data})
		}
	case flv.TagVideo:
		res, err := codec.ParseVideo(tag)
		if err != nil {
			r.drop("parse", err)
			return nil
		}
		switch v := res.(type) {
		case *codec.AVCNalu:
			return r.mux.WriteVideo(fragment.Sample{
				Time:            tag.Time,
				CompositionTime: v.CompositionTime,
				Keyframe:        v.Keyframe,
				Data:            v.Data,
			})
		case *codec.AVCSequenceHeader:
			r.log.Debug("ignoring AVC sequence header after configuration")
		case *codec.AVCEndOfSequence:
			r.log.Debug("end of sequence")
		case *codec.VideoUnsupported:
			r.drop("codec", errors.Wrapf(streamctx.ErrUnsupportedCodec, "video codec %d", v.CodecID))
		}
	default:
		r.discard(tag)
	}
	return nil
}

// script and encryption tags carry nothing the output can use
func (r *Remuxer) discard(tag flv.Tag) {
	r.log.WithField("type", tag.Type).Debug("tag discarded")
}

func (r *Remuxer) drop(reason string, err error) {
	r.dropped++
	r.Metrics.RecordDrop(reason)
	if err == nil {
		r.log.Warnf("tag dropped: %s", reason)
		return
	}
	r.log.Warnf("tag dropped: %v", err)
}

// fail stops remuxing for the rest of the stream
func (r *Remuxer) fail(err error) {
	r.err = err
	if streamctx.IsConfigFault(err) {
		r.Metrics.RecordRejected(errors.Cause(err).Error())
		r.log.Errorf("stream rejected: %v", err)
	} else {
		r.Metrics.RecordRejected("output")
		r.log.Errorf("output failed: %v", err)
	}
	r.clear()
}

func (r *Remuxer) clear() {
	for i := range r.queue {
		r.queue[i] = flv.Tag{}
	}
	r.queue = r.queue[:0]
	r.scanned = 0
	r.Metrics.RecordQueueDepth(0)
}

// finish drains what is queued and flushes the muxer
func (r *Remuxer) finish() {
	if r.remuxing {
		r.process()
	}
	if r.err == nil && r.stream.IsHeaderSent() {
		if err := r.mux.WriteTrailer(); err != nil {
			r.fail(err)
		}
	}
	if f, ok := r.out.(Finisher); ok && r.err == nil && r.stream.IsHeaderSent() {
		if err := f.Finish(); err != nil {
			r.fail(errors.Wrap(err, "finish output"))
		}
	}
	entry := r.log.WithFields(logrus.Fields{
		"segments": r.segments,
		"dropped":  r.dropped,
	})
	if rate := r.mux.Rate(); !rate.IsZero() && r.stream.FPS == 0 {
		entry = entry.WithField("framerate", rate.String())
	}
	if !r.stream.IsConfigured() {
		entry = entry.WithField("pending", r.stream.Pending())
	}
	entry.Info("remuxer closed")
}

// instrumentedOutput counts what reaches the output
type instrumentedOutput struct {
	Output
	r *Remuxer
}

func (o *instrumentedOutput) WriteInit(init []byte) error {
	if err := o.Output.WriteInit(init); err != nil {
		return errors.Wrap(err, "write initialization segment")
	}
	o.r.Metrics.RecordInit()
	return nil
}

func (o *instrumentedOutput) WriteSegment(seg Segment) error {
	if err := o.Output.WriteSegment(seg); err != nil {
		return errors.Wrapf(err, "write segment %d", seg.Sequence)
	}
	o.r.segments++
	o.r.Metrics.RecordSegment(seg.Duration.Seconds(), seg.Size())
	return nil
}
