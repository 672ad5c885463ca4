package flv

import (
	"bufio"
	"io"
	"time"

	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/nareix/joy4/utils/bits/pio"
	"github.com/pkg/errors"
)

// ErrUnknownTag is returned for a tag whose type byte is not audio, video or
// script data. The tag is skipped and reading can continue.
var ErrUnknownTag = errors.New("flv: unknown tag type")

// Demuxer splits an FLV byte stream into its header and tags
type Demuxer struct {
	r      *bufio.Reader
	b      []byte
	header bool
}

func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{
		r: bufio.NewReaderSize(r, 65536),
		b: make([]byte, 256),
	}
}

// ReadHeader reads the file header. It must be called once before ReadTag.
func (d *Demuxer) ReadHeader() (Header, error) {
	if _, err := io.ReadFull(d.r, d.b[:flvio.FileHeaderLength]); err != nil {
		return Header{}, err
	}
	flags, skip, err := flvio.ParseFileHeader(d.b)
	if err != nil {
		return Header{}, err
	}
	hdr := Header{
		Version:  d.b[3],
		HasAudio: flags&flvio.FILE_HAS_AUDIO != 0,
		HasVideo: flags&flvio.FILE_HAS_VIDEO != 0,
	}
	// skip the rest of the header and the first previous-tag-size field
	if _, err := d.r.Discard(skip); err != nil {
		return hdr, err
	}
	d.header = true
	return hdr, nil
}

// ReadTag reads the next tag from the stream. Tags of an unknown type are
// consumed so that the stream stays aligned and an error is returned.
func (d *Demuxer) ReadTag() (Tag, error) {
	if !d.header {
		return Tag{}, errors.New("flv: header not read")
	}
	peek, err := d.r.Peek(1)
	if err != nil {
		return Tag{}, err
	}
	typ, known := tagTypeOf(peek[0])
	if !known || typ == TagEncryption {
		return d.readOpaque(typ, known)
	}
	ftag, ts, err := flvio.ReadTag(d.r, d.b)
	if err != nil {
		return Tag{}, err
	}
	return Tag{
		Type:   typ,
		Time:   time.Duration(ts) * time.Millisecond,
		Packet: ftag,
	}, nil
}

// read a tag that flvio cannot decode, keeping the body as raw data
func (d *Demuxer) readOpaque(typ TagType, known bool) (Tag, error) {
	if _, err := io.ReadFull(d.r, d.b[:flvio.TagHeaderLength]); err != nil {
		return Tag{}, err
	}
	tagType := d.b[0]
	dataLen := int(pio.U24BE(d.b[1:4]))
	ts := int32(pio.U24BE(d.b[4:7]) | uint32(d.b[7])<<24)
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return Tag{}, err
	}
	// previous tag size
	if _, err := d.r.Discard(4); err != nil {
		return Tag{}, err
	}
	if !known {
		return Tag{}, errors.Wrapf(ErrUnknownTag, "type %d", tagType)
	}
	return Tag{
		Type:   typ,
		Time:   time.Duration(ts) * time.Millisecond,
		Packet: flvio.Tag{Type: tagType, Data: data},
	}, nil
}
