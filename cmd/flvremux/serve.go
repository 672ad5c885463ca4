package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cleoag/remux/internal/httpapi"
	"github.com/cleoag/remux/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds the serve command options
type ServeOptions struct {
	Addr       string
	Storage    string
	StorageDir string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remux HTTP service",
		Long: `Run the remux HTTP service. POST an FLV stream to /remux to receive fragmented MP4
in the response, or to /streams/<name> to store it as segments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Addr, "addr", "", "Listen address (default :8080)")
	flags.StringVar(&opts.Storage, "storage", "", "Storage backend (local or gcs)")
	flags.StringVar(&opts.StorageDir, "storage-dir", "", "Directory of the local storage backend")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions) error {
	store, release, err := root.openStorage(ctx)
	if err != nil {
		return err
	}
	defer release()

	if root.log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.New(httpapi.Options{
		Store:       store,
		Metrics:     metrics.New(prometheus.DefaultRegisterer),
		Gatherer:    prometheus.DefaultGatherer,
		Log:         root.log,
		MaxBodySize: root.cfg.MaxBodySize,
		Configure:   root.configure,
	})
	srv := &http.Server{
		Addr:              root.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		root.log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		root.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}
