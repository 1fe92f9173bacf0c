// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/domwatch/internal/config"
	"codeberg.org/mutker/domwatch/internal/dom"
	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/journal"
	"codeberg.org/mutker/domwatch/internal/logger"
	"codeberg.org/mutker/domwatch/internal/metrics"
	"codeberg.org/mutker/domwatch/internal/notify"
	"codeberg.org/mutker/domwatch/internal/pid"
	"codeberg.org/mutker/domwatch/internal/poller"
	"codeberg.org/mutker/domwatch/internal/telemetry"
	"github.com/spf13/cobra"
)

func main() {
	logger.Init(logger.InfoLevel, logger.IsService())

	if err := newRootCommand().Execute(); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("domwatch exited")
		} else {
			logger.Error().Err(err).Msg("domwatch exited")
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "domwatch",
		Short: "Monitor transceiver optical power levels and alert on drift",
		Long: "domwatch polls a switch for the digital optical monitoring (DOM) readings of its\n" +
			"front-panel transceivers and notifies when TX or RX power drifts from the level\n" +
			"learned when the link came up.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newTrapCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newAlertsCommand())

	return rootCmd
}

// loadConfig resolves the configuration and applies its log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel.String())
	if cfg.LogFormat == config.LogFormatJSON {
		logger.InitWithWriter(cmd.ErrOrStderr(), level)
	} else {
		logger.SetLogLevel(level)
	}
	logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")

	return cfg, nil
}

// buildNotifier assembles the log, syslog, trap and journal sinks.
func buildNotifier(cfg *config.Config) (*notify.Multi, error) {
	var extra []notify.Notifier

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, err
		}
		extra = append(extra, j)
	}

	n, err := notify.Build(notify.Options{
		Syslog: cfg.Syslog,
		SNMP:   cfg.SNMP,
		Trap:   cfg.Trap,
		Extra:  extra,
	})
	if err != nil {
		for _, sink := range extra {
			_ = sink.Close()
		}
		return nil, err
	}

	return n, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	errFactory := errors.New()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close notifiers")
		}
	}()

	source := telemetry.NewEAPIClient(cfg.EAPI)
	registry := dom.NewRegistry(cfg.Settings())
	p := poller.New(source, registry, notifier,
		poller.WithInterfacePrefix(cfg.InterfacePrefix),
		poller.WithMetrics(collector),
	)

	logger.Info().
		Str("endpoint", cfg.EAPI.Endpoint()).
		Int("interval", cfg.Interval).
		Float64("tolerance", cfg.Tolerance).
		Int("rebase_poll_limit", cfg.RebasePollLimit).
		Bool("cumulative_average", cfg.CumulativeAverage).
		Strs("notifiers", notifier.Args()).
		Msg("Started up successfully. Entering main loop...")

	err = poller.NewScheduler(p, cfg.PollInterval(), cfg.MaxConnectivityFailures).Run(ctx)

	logger.Info().
		Strs("interfaces", registry.IDs()).
		Int("links_up", registry.LinksUp()).
		Msg("Monitor state at exit")

	if err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	logger.Info().Msg("Received termination signal, exiting")

	return nil
}

// commandContext bounds one-shot commands by the process signals.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
