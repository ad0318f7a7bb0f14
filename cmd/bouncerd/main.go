// Command bouncerd runs the IRC bouncer: it loads the configuration tree,
// registers the plugin catalogue, and keeps one upstream connection/proxy
// pair alive per configured bouncer, reconciling the running set whenever
// the configuration file changes on disk.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kalisko-irc/bouncer/internal/bouncer"
	"github.com/kalisko-irc/bouncer/internal/config"
	"github.com/kalisko-irc/bouncer/internal/log"
	"github.com/kalisko-irc/bouncer/internal/metrics"
	"github.com/kalisko-irc/bouncer/internal/netio"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/autoinvite"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/keepalive"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/log_debug"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/log_error"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/log_info"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/log_warning"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/lua"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/messagebuffer"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/messagelog"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/perform"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/pluginbot"
	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

var logger = log.For("main")

func main() {
	var configPath string
	var metricsAddr string
	var logLevel string

	root := &cobra.Command{
		Use:   "bouncerd",
		Short: "kalisko is a multi-user IRC bouncer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, metricsAddr, logLevel)
		},
	}

	root.Flags().StringVar(&configPath, "config", "bouncer.yaml", "path to the configuration file")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	root.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warning, error)")

	if err := root.Execute(); err != nil {
		logger.WithError(err).Fatal("bouncerd exited")
	}
}

func run(configPath, metricsAddr, logLevel string) error {
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registerer := prometheus.NewRegistry()
	m := metrics.New(registerer)

	timers := timer.NewService()
	loop := netio.NewLoop(timers.Fire)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	port := parsePort(cfg.IRC.Proxy.Port)
	listener, err := proxy.NewListener(loop, port, m)
	if err != nil {
		return fmt.Errorf("starting proxy listener: %w", err)
	}
	logger.WithField("addr", listener.Addr()).Info("proxy listener started")

	registry := buildRegistry(cfg)
	manager := bouncer.New(loop, listener, registry, timers, m)

	if errs := manager.Sync(cfg); len(errs) != 0 {
		for _, e := range errs {
			logger.WithError(e).Warn("failed to start bouncer")
		}
	}

	watcher, err := config.WatchFile(configPath, func() {
		reloaded, err := config.Load(configPath)
		if err != nil {
			logger.WithError(err).Warn("failed to reload config")
			return
		}
		for _, e := range manager.Sync(reloaded) {
			logger.WithError(e).Warn("failed to sync bouncer")
		}
	})
	if err != nil {
		logger.WithError(err).Warn("config hot-reload disabled")
	} else {
		defer watcher.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("metrics server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	_ = srv.Shutdown(context.Background())
	manager.Stop()
	return nil
}

func buildRegistry(cfg *config.Root) *plugin.Registry {
	registry := plugin.NewRegistry()

	registry.Register(autoinvite.New())
	registry.Register(keepalive.New(keepalive.Config{
		Interval:         time.Duration(cfg.IRC.Keepalive.Interval) * time.Second,
		Timeout:          time.Duration(cfg.IRC.Keepalive.Timeout) * time.Second,
		ReconnectTimeout: time.Duration(cfg.IRC.Keepalive.ReconnectTimeout) * time.Second,
	}))
	registry.Register(perform.New(cfg.IRC.Perform))
	registry.Register(messagebuffer.New(messageBufferConfigs(cfg)))
	registry.Register(messagelog.New(messagelog.Config{Root: cfg.IRC.MessageLogRoot}))
	registry.Register(pluginbot.New())
	registry.Register(lua.New(nil))
	registry.Register(log_debug.New())
	registry.Register(log_info.New())
	registry.Register(log_warning.New())
	registry.Register(log_error.New())

	return registry
}

func messageBufferConfigs(cfg *config.Root) map[string]messagebuffer.Config {
	out := make(map[string]messagebuffer.Config, len(cfg.IRC.Bouncers))
	for name, bc := range cfg.IRC.Bouncers {
		if bc.MessageBuffer.MaxLines <= 0 {
			continue
		}
		specific := make(map[string]int, len(bc.MessageBuffer.Specific))
		for target, override := range bc.MessageBuffer.Specific {
			specific[target] = override.MaxLines
		}
		out[name] = messagebuffer.Config{MaxLines: bc.MessageBuffer.MaxLines, Specific: specific}
	}
	return out
}

func parsePort(s string) int {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 6677
	}
	return port
}
