package remux

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cleoag/remux/internal/flv"
)

// Pump demultiplexes an FLV stream from r and sends it to msgs: the file
// header, StartRemuxing, then one message per tag. onMetaData script tags
// are sent as PushMetadata. Pump returns nil at the end of the stream; it
// never closes msgs.
func Pump(ctx context.Context, r io.Reader, msgs chan<- Message) error {
	send := func(msg Message) error {
		select {
		case msgs <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d := flv.NewDemuxer(r)
	hdr, err := d.ReadHeader()
	if err != nil {
		return errors.Wrap(err, "read flv header")
	}
	if err := send(PushFlvHeader{Header: hdr}); err != nil {
		return err
	}
	if err := send(StartRemuxing{}); err != nil {
		return err
	}
	for {
		tag, err := d.ReadTag()
		switch {
		case err == io.EOF:
			return nil
		case errors.Is(err, flv.ErrUnknownTag):
			continue
		case err != nil:
			return errors.Wrap(err, "read flv tag")
		}
		msg := Message(PushTag{Tag: tag})
		if tag.Type == flv.TagScript {
			if name, meta, err := flv.ParseScriptData(tag.Packet.Data); err == nil && name == flv.OnMetaData {
				msg = PushMetadata{Metadata: meta}
			}
		}
		if err := send(msg); err != nil {
			return err
		}
	}
}

// RemuxStream remuxes one FLV stream read from r into rm's output. It
// returns when the input ends, the remuxer stops or ctx is cancelled.
func RemuxStream(ctx context.Context, rm *Remuxer, r io.Reader) error {
	msgs := rm.NewChannel()
	var g errgroup.Group
	g.Go(func() error {
		return rm.Run(msgs)
	})
	g.Go(func() error {
		defer close(msgs)
		return Pump(ctx, r, msgs)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return rm.Err()
}
