package fmp4

import (
	"io"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"
)

// Box is a node of a logical ISO BMFF box tree
type Box struct {
	Type mp4.BoxType
	// Payload holds the box fields. It may be nil for boxes carried as opaque bytes.
	Payload mp4.IImmutableBox
	// Raw is written after the payload fields
	Raw      []byte
	Children []*Box
}

func newBox(payload mp4.IImmutableBox, children ...*Box) *Box {
	return &Box{Type: payload.GetType(), Payload: payload, Children: children}
}

func rawBox(typ mp4.BoxType, raw []byte) *Box {
	return &Box{Type: typ, Raw: raw}
}

// Child returns the first direct child of the given type
func (b *Box) Child(typ mp4.BoxType) *Box {
	for _, c := range b.Children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// ChildrenOf returns every direct child of the given type
func (b *Box) ChildrenOf(typ mp4.BoxType) []*Box {
	var out []*Box
	for _, c := range b.Children {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// Find walks a path of box types below b and returns the first match
func (b *Box) Find(path ...mp4.BoxType) *Box {
	cur := b
	for _, typ := range path {
		if cur = cur.Child(typ); cur == nil {
			return nil
		}
	}
	return cur
}

// Write serializes boxes in order
func Write(w io.WriteSeeker, boxes ...*Box) error {
	mw := mp4.NewWriter(w)
	for _, b := range boxes {
		if err := writeBox(mw, b); err != nil {
			return err
		}
	}
	return nil
}

func writeBox(w *mp4.Writer, b *Box) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: b.Type}); err != nil {
		return err
	}
	if b.Payload != nil {
		if _, err := mp4.Marshal(w, b.Payload, mp4.Context{}); err != nil {
			return err
		}
	}
	if len(b.Raw) != 0 {
		if _, err := w.Write(b.Raw); err != nil {
			return err
		}
	}
	for _, c := range b.Children {
		if err := writeBox(w, c); err != nil {
			return err
		}
	}
	_, err := w.EndBox()
	return err
}

// Marshal serializes boxes into a byte slice
func Marshal(boxes ...*Box) ([]byte, error) {
	var buf seekablebuffer.Buffer
	if err := Write(&buf, boxes...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
