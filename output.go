package remux

import (
	"fmt"
	"io"
	"path"

	"github.com/pkg/errors"

	"github.com/cleoag/remux/internal/fmp4"
	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/playlist"
	"github.com/cleoag/remux/internal/storage"
	"github.com/cleoag/remux/mp4mux"
)

// Output receives the initialization segment once, then media segments in order
type Output = mp4mux.Output

// Segment is a group of track fragments flushed together
type Segment = mp4mux.Segment

// WriterOutput writes the stream as one continuous fragmented MP4 file
type WriterOutput struct {
	W io.Writer
}

func (o WriterOutput) WriteInit(init []byte) error {
	_, err := o.W.Write(init)
	return err
}

func (o WriterOutput) WriteSegment(seg Segment) error {
	for _, f := range seg.Fragments {
		if _, err := o.W.Write(f.Bytes); err != nil {
			return err
		}
	}
	if fl, ok := o.W.(interface{ Flush() }); ok {
		fl.Flush()
	}
	return nil
}

// SegmentName returns the file name of the numbered media segment
func SegmentName(seq int) string {
	return fmt.Sprintf("seg-%06d%s", seq, fragment.SegmentExtension)
}

// StorageOutput writes the initialization segment and every media segment as
// separate files below Dir. Each media segment starts with an styp box. An HLS
// playlist listing the segments is rewritten after every segment and closed by
// Finish.
type StorageOutput struct {
	Store storage.Storage
	Dir   string

	styp     []byte
	playlist playlist.Media
}

func (o *StorageOutput) WriteInit(init []byte) error {
	h := fragment.NewHeader(init)
	if err := o.Store.Write(path.Join(o.Dir, h.HeaderName), h.HeaderContents); err != nil {
		return errors.Wrap(err, "write initialization segment")
	}
	o.playlist.Map = h.HeaderName
	return nil
}

// Finish marks the playlist complete
func (o *StorageOutput) Finish() error {
	o.playlist.End()
	return o.writePlaylist()
}

func (o *StorageOutput) writePlaylist() error {
	name := path.Join(o.Dir, playlist.Name)
	if err := o.Store.Write(name, o.playlist.Bytes()); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

func (o *StorageOutput) WriteSegment(seg Segment) error {
	if o.styp == nil {
		b, err := fmp4.Marshal(fmp4.SegmentType())
		if err != nil {
			return err
		}
		o.styp = b
	}
	b := make([]byte, 0, len(o.styp)+seg.Size())
	b = append(b, o.styp...)
	b = append(b, seg.Bytes()...)
	name := SegmentName(seg.Sequence)
	if err := o.Store.Write(path.Join(o.Dir, name), b); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	o.playlist.Append(name, seg.Duration)
	return o.writePlaylist()
}
