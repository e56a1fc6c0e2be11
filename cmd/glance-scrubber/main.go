// glance-scrubber reclaims the bodies of images queued for delayed
// deletion. It runs one pass and exits, or cycles forever with
// --daemon.
package main

import (
	"context"
	"io"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logrussyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/cobra"

	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/daemon"
	"github.com/openstack/glance-sub003/daemon/config"
	"github.com/openstack/glance-sub003/pkg/pidfile"
	"github.com/openstack/glance-sub003/scrubber"
)

const defaultConfigFile = "/etc/glance/daemon.json"

// stopTimeout bounds how long a restart waits for the old daemon to
// release its pidfile.
const stopTimeout = 10 * time.Second

type scrubberOptions struct {
	configFile string
	daemonize  bool
	logFile    string
	useSyslog  bool
}

func newScrubberCommand() *cobra.Command {
	cfg := config.New()
	opts := &scrubberOptions{}

	cmd := &cobra.Command{
		Use:           "glance-scrubber",
		Short:         "Reclaim the storage of images deleted with delayed delete",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, opts); err != nil {
				return err
			}
			return runScrubber(cmd.Context(), cfg, *opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config-file", defaultConfigFile, "Daemon configuration file")
	flags.BoolVarP(&opts.daemonize, "daemon", "d", false, "Keep running and scrub on an interval instead of once")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to the given file instead of stderr")
	flags.BoolVar(&opts.useSyslog, "syslog", false, "Also send logs to syslog")
	cfg.InstallFlags(flags)

	cmd.AddCommand(
		newStartCommand(cfg, opts),
		newStopCommand(cfg, opts),
		newRestartCommand(cfg, opts),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config, opts *scrubberOptions) error {
	if err := cfg.Load(opts.configFile, cmd.Flags(), cmd.Flags().Changed("config-file")); err != nil {
		return err
	}
	return cfg.Validate()
}

// newStartCommand runs the scrubber as a long lived daemon regardless of
// --daemon, matching the init-style start|stop|restart interface.
func newStartCommand(cfg *config.Config, opts *scrubberOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scrubber daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, opts); err != nil {
				return err
			}
			o := *opts
			o.daemonize = true
			return runScrubber(cmd.Context(), cfg, o)
		},
	}
}

func newStopCommand(cfg *config.Config, opts *scrubberOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running scrubber daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, opts); err != nil {
				return err
			}
			return stopScrubber(cfg)
		},
	}
}

func newRestartCommand(cfg *config.Config, opts *scrubberOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the scrubber daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, opts); err != nil {
				return err
			}
			if err := stopScrubber(cfg); err != nil {
				log.G(cmd.Context()).WithError(err).Warn("no scrubber to stop, starting fresh")
			} else if err := waitForExit(cfg.Pidfile, stopTimeout); err != nil {
				return err
			}
			o := *opts
			o.daemonize = true
			return runScrubber(cmd.Context(), cfg, o)
		},
	}
}

// stopScrubber signals the daemon recorded in the pidfile.
func stopScrubber(cfg *config.Config) error {
	if cfg.Pidfile == "" {
		return errors.New("stopping requires a pidfile; set --pidfile or the pidfile config key")
	}
	pid, err := pidfile.Read(cfg.Pidfile)
	if err != nil {
		return errors.Wrap(err, "reading pidfile")
	}
	if pid == 0 {
		return errors.Errorf("no running scrubber recorded in %s", cfg.Pidfile)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return errors.Wrapf(err, "signalling process %d", pid)
	}
	return nil
}

// waitForExit polls the pidfile until the signalled daemon is gone. The
// daemon removes its pidfile on the way out, so a missing or stale file
// means it has exited.
func waitForExit(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pid, err := pidfile.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if pid == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("process %d did not exit within %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func setupLogging(cfg *config.Config, opts scrubberOptions) (io.Closer, error) {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if level != "" {
		if err := log.SetLevel(level); err != nil {
			return nil, err
		}
	}
	format := log.OutputFormat(cfg.LogFormat)
	if format == "" {
		format = log.TextFormat
	}
	if err := log.SetFormat(format); err != nil {
		return nil, err
	}

	var closer io.Closer
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		logrus.SetOutput(f)
		closer = f
	}
	if opts.useSyslog {
		hook, err := logrussyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, "glance-scrubber")
		if err != nil {
			return closer, err
		}
		logrus.AddHook(hook)
	}
	return closer, nil
}

func runScrubber(ctx context.Context, cfg *config.Config, opts scrubberOptions) error {
	closer, err := setupLogging(cfg, opts)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		return err
	}

	if cfg.Pidfile != "" {
		if err := pidfile.Write(cfg.Pidfile, os.Getpid()); err != nil {
			return err
		}
		defer func() {
			if err := pidfile.Remove(cfg.Pidfile); err != nil {
				log.G(ctx).WithError(err).Warn("could not remove pidfile")
			}
		}()
	}

	cat, err := catalog.Open(cfg.CatalogPath, catalog.Config{
		MaxRetries:    cfg.CatalogMaxRetries,
		RetryInterval: cfg.CatalogRetryInterval(),
	})
	if err != nil {
		return err
	}
	defer cat.Close()

	stores, err := daemon.NewStoreDispatcher(ctx, cfg)
	if err != nil {
		return err
	}

	s := scrubber.New(cat, stores, scrubber.Config{
		Interval:    config.DefaultScrubInterval,
		GracePeriod: cfg.ScrubGracePeriod(),
	})

	if !opts.daemonize {
		scrubbed, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.G(ctx).WithField("scrubbed", scrubbed).Info("single scrub pass complete")
		return nil
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := s.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.G(ctx).Info("scrubber shut down")
	return nil
}

func main() {
	if err := newScrubberCommand().Execute(); err != nil {
		log.L.Fatal(err)
	}
}
