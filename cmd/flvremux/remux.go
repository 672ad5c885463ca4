package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cleoag/remux"
)

// RemuxOptions holds the remux command options
type RemuxOptions struct {
	Output      string
	Dir         string
	Interval    time.Duration
	QueueLength int
	Overflow    string
}

func newRemuxCommand(root *rootOptions) *cobra.Command {
	opts := &RemuxOptions{}

	cmd := &cobra.Command{
		Use:   "remux <input.flv|->",
		Short: "Remux one FLV file",
		Long: `Remux one FLV file or standard input. By default the result is written as a single
fragmented MP4 file next to the input. With --dir the initialization segment and
numbered media segments are written to the configured storage instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRemux(ctx, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file, - for standard output (default: input name with .mp4)")
	flags.StringVar(&opts.Dir, "dir", "", "Write segments below this directory of the configured storage")
	flags.DurationVar(&opts.Interval, "interval", 0, "Longest segment duration without a keyframe")
	flags.IntVar(&opts.QueueLength, "queue-length", 0, "Tag queue capacity")
	flags.StringVar(&opts.Overflow, "overflow", "", "Queue overflow policy (reject-newest or drop-oldest)")
	cmd.MarkFlagsMutuallyExclusive("output", "dir")

	return cmd
}

// outputName derives the default output file from the input file
func outputName(input string) string {
	if input == "-" {
		return "-"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".mp4"
}

func runRemux(ctx context.Context, root *rootOptions, opts *RemuxOptions, input string) error {
	var in io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		in = f
	}

	var out remux.Output
	var closeOut func() error
	if opts.Dir != "" {
		store, release, err := root.openStorage(ctx)
		if err != nil {
			return err
		}
		out = &remux.StorageOutput{Store: store, Dir: opts.Dir}
		closeOut = release
	} else {
		name := opts.Output
		if name == "" {
			name = outputName(input)
		}
		w := os.Stdout
		if name != "-" {
			f, err := os.Create(name)
			if err != nil {
				return errors.Wrap(err, "create output")
			}
			w = f
		}
		out = remux.WriterOutput{W: w}
		closeOut = func() error {
			if w == os.Stdout {
				return nil
			}
			return w.Close()
		}
	}

	rm := remux.New(out)
	rm.ID = filepath.Base(input)
	root.configure(rm)

	start := time.Now()
	err := remux.RemuxStream(ctx, rm, in)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !rm.HeaderSent() {
		return errors.New("stream ended before it was configured")
	}
	root.log.WithFields(logrus.Fields{
		"segments": rm.Segments(),
		"dropped":  rm.Dropped(),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("remux complete")
	return nil
}
