package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/api/option"

	"github.com/cleoag/remux"
	"github.com/cleoag/remux/internal/config"
	"github.com/cleoag/remux/internal/storage"
)

// rootOptions is shared by every subcommand
type rootOptions struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
	log        *logrus.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{log: logrus.StandardLogger()}

	cmd := &cobra.Command{
		Use:           "flvremux",
		Short:         "Remux FLV streams to fragmented MP4",
		Long:          `flvremux repackages H.264 and AAC or MP3 media carried in FLV into fragmented MP4 without transcoding.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file (default remux.yaml in . or /etc/remux)")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text or json)")

	cmd.AddCommand(newRemuxCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// load reads the configuration and applies command line overrides
func (o *rootOptions) load(cmd *cobra.Command) error {
	v, err := config.New(o.configFile)
	if err != nil {
		return err
	}
	bind := map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for key, name := range bind {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrap(err, "bind flag")
			}
		}
	}
	o.v = v
	if err := o.bindLocal(cmd); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.ConfigureLogger(o.log); err != nil {
		return err
	}
	o.cfg = cfg
	if used := v.ConfigFileUsed(); used != "" {
		o.log.WithField("file", used).Debug("config loaded")
	}
	return nil
}

// localFlags maps the flags of subcommands onto config keys
var localFlags = map[string]string{
	"interval":     "remux.fragment_interval",
	"queue-length": "remux.queue_length",
	"overflow":     "remux.overflow_policy",
	"addr":         "http.addr",
	"storage":      "storage.backend",
	"storage-dir":  "storage.dir",
}

func (o *rootOptions) bindLocal(cmd *cobra.Command) error {
	for name, key := range localFlags {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := o.v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	return nil
}

// configure applies the remuxer settings to rm
func (o *rootOptions) configure(rm *remux.Remuxer) {
	rm.FragmentInterval = o.cfg.FragmentInterval
	rm.QueueLength = o.cfg.QueueLength
	rm.MessageBuffer = o.cfg.MessageBuffer
	rm.ReplaceCompatibleBrands = o.cfg.ReplaceCompatibleBrands
	// validated by config.Load
	rm.OverflowPolicy, _ = remux.ParseOverflowPolicy(o.cfg.OverflowPolicy)
	if rm.Log == nil {
		rm.Log = o.log
	}
}

// openStorage opens the configured storage backend. The returned function
// releases it.
func (o *rootOptions) openStorage(ctx context.Context) (storage.Storage, func() error, error) {
	switch o.cfg.StorageBackend {
	case "gcs":
		var clientOpts []option.ClientOption
		if o.cfg.GCSCredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(o.cfg.GCSCredentialsFile))
		}
		s, err := storage.NewGCSStorage(ctx, o.cfg.GCSBucket, o.cfg.GCSPrefix, clientOpts...)
		if err != nil {
			return nil, nil, err
		}
		o.log.WithField("bucket", o.cfg.GCSBucket).Info("using gcs storage")
		return s, s.Close, nil
	default:
		s, err := storage.NewLocalStorage(o.cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		o.log.WithField("dir", o.cfg.StorageDir).Info("using local storage")
		return s, func() error { return nil }, nil
	}
}
