// glanced is the image daemon: it serves the registry and image body
// API over HTTP.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
	"github.com/spf13/cobra"

	"github.com/openstack/glance-sub003/api/server"
	"github.com/openstack/glance-sub003/api/server/middleware"
	imagerouter "github.com/openstack/glance-sub003/api/server/router/image"
	memberrouter "github.com/openstack/glance-sub003/api/server/router/member"
	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/daemon"
	"github.com/openstack/glance-sub003/daemon/config"
	"github.com/openstack/glance-sub003/daemon/events"
	"github.com/openstack/glance-sub003/pkg/pidfile"
	"github.com/openstack/glance-sub003/registry"
)

const defaultConfigFile = "/etc/glance/daemon.json"

func newDaemonCommand() *cobra.Command {
	cfg := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "glanced",
		Short:         "A daemon for registering, storing and retrieving virtual machine images",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(configFile, cmd.Flags(), cmd.Flags().Changed("config-file")); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config-file", defaultConfigFile, "Daemon configuration file")
	cfg.InstallFlags(flags)
	return cmd
}

func setupLogging(cfg *config.Config) error {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if level != "" {
		if err := log.SetLevel(level); err != nil {
			return err
		}
	}
	format := log.OutputFormat(cfg.LogFormat)
	if format == "" {
		format = log.TextFormat
	}
	return log.SetFormat(format)
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if err := setupLogging(cfg); err != nil {
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
		MaxRetries:       cfg.CatalogMaxRetries,
		RetryInterval:    cfg.CatalogRetryInterval(),
		DefaultListLimit: cfg.ListDefaultLimit,
		MaxListLimit:     cfg.ListMaxLimit,
	})
	if err != nil {
		return err
	}
	defer cat.Close()

	stores, err := daemon.NewStoreDispatcher(ctx, cfg)
	if err != nil {
		return err
	}

	sizeCap, err := cfg.ParseImageSizeCap()
	if err != nil {
		return err
	}

	d := daemon.New(registry.NewService(cat), stores, events.New(), daemon.Config{
		ImageSizeCap:  sizeCap,
		ChunkSize:     cfg.ChunkSize,
		DelayedDelete: cfg.DelayedDelete,
	})
	defer d.Events().Close()

	srv := server.New()
	srv.UseMiddleware(middleware.NewRequestIDMiddleware())
	srv.UseMiddleware(middleware.IdentityMiddleware{AdminRole: cfg.AdminRole})
	handler := srv.CreateMux(imagerouter.NewRouter(d), memberrouter.NewRouter(d))

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	httpSrv := &http.Server{Handler: handler}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(l)
	}()
	log.G(ctx).WithField("addr", cfg.ListenAddr).Info("API listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.G(ctx).WithField("signal", s).Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-serveErr
	case err := <-serveErr:
		if err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.G(ctx).WithField("addr", addr).Info("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.G(ctx).WithError(err).Error("metrics server failed")
	}
}

func main() {
	if err := newDaemonCommand().Execute(); err != nil {
		log.L.Fatal(err)
	}
}
