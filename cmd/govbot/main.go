// Package main is the entry point for the govbot binary, the governance
// proposal monitor. It provides commands to run the monitors continuously,
// execute a single pass, and inspect tracked state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
	"github.com/ajscolaro/gov-alerting-bot/pkg/alert"
	"github.com/ajscolaro/gov-alerting-bot/pkg/config"
	"github.com/ajscolaro/gov-alerting-bot/pkg/fetch"
	"github.com/ajscolaro/gov-alerting-bot/pkg/logging"
	"github.com/ajscolaro/gov-alerting-bot/pkg/monitor"
	"github.com/ajscolaro/gov-alerting-bot/pkg/store"
	"github.com/ajscolaro/gov-alerting-bot/pkg/telemetry"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watchlist"
)

const (
	defaultConfigPath = "config/config.yaml"
	defaultLogLevel   = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for govbot.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "govbot",
		Short: "Governance proposal monitor and alert bot",
		Long: `Watches configured governance sources (snapshot spaces, Tally governors,
Cosmos chains, XRPL amendments, Sky polls and executives) and posts
threaded Slack notifications when proposals open, change state, or end.`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newStateCmd())

	return rootCmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all monitors continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger(cmd, false)
			if err != nil {
				return err
			}
			return runMonitors(cmd.Context(), cfg, logger, false)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single pass over all sources and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger(cmd, true)
			if err != nil {
				return err
			}
			return runMonitors(cmd.Context(), cfg, logger, true)
		},
	}
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Dump tracked entity state per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger(cmd, true)
			if err != nil {
				return err
			}
			return dumpState(cfg, logger)
		},
	}
}

// loadConfigAndLogger handles the shared startup of every subcommand.
// Interactive commands get pretty log output.
func loadConfigAndLogger(cmd *cobra.Command, pretty bool) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logger := logging.NewLogger(logging.Config{Level: logLevel, Pretty: pretty})
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runMonitors builds and supervises all monitors until the context is
// cancelled by a signal. A watchlist edit cancels the current supervisor
// generation and rebuilds everything from the documents on disk.
func runMonitors(ctx context.Context, cfg *config.Config, logger *slog.Logger, singlePass bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "govbot",
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	if cfg.MetricsAddr != "" && !singlePass {
		startMetricsServer(ctx, cfg.MetricsAddr, metrics, logger)
	}

	notifier, err := alert.NewSlackNotifier(alert.SlackConfig{
		BotToken:    cfg.Slack.BotToken,
		Channel:     cfg.Slack.Channel,
		UnfurlLinks: cfg.Slack.UnfurlLinks,
	})
	if err != nil {
		return err
	}

	for {
		orchestrators, err := buildOrchestrators(cfg, notifier, metrics, logger, singlePass)
		if err != nil {
			return err
		}

		genCtx, cancelGen := context.WithCancel(ctx)
		reloaded := make(chan struct{})
		watchers, err := startWatchlistWatchers(genCtx, cfg, logger, reloaded)
		if err != nil {
			cancelGen()
			return err
		}

		go func() {
			select {
			case <-reloaded:
				logger.Info("watchlist changed, restarting monitors")
				cancelGen()
			case <-genCtx.Done():
			}
		}()

		monitor.NewSupervisor(orchestrators, logger).Run(genCtx)

		for _, w := range watchers {
			if err := w.Stop(); err != nil {
				logger.Warn("watchlist watcher stop failed", "error", err)
			}
		}
		cancelGen()

		if singlePass || ctx.Err() != nil {
			return nil
		}
	}
}

// startMetricsServer serves the Prometheus endpoint in the background and
// shuts it down with the context.
func startMetricsServer(ctx context.Context, addr string, metrics *telemetry.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// startWatchlistWatchers watches every source's watchlist document. Any
// accepted change signals reloaded once, which restarts the monitor
// generation; documents that fail to load keep the running generation.
func startWatchlistWatchers(ctx context.Context, cfg *config.Config, logger *slog.Logger, reloaded chan<- struct{}) ([]*watchlist.Watcher, error) {
	var watchers []*watchlist.Watcher
	for _, src := range cfg.Sources {
		src := src
		reload := func(path string) error {
			if _, err := watchlist.Load(path, requiredMetadata(src.Family)...); err != nil {
				return err
			}
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		}

		w, err := watchlist.NewWatcher(src.Watchlist, reload, logger.With("source", src.Name))
		if err != nil {
			return watchers, fmt.Errorf("source %s: create watchlist watcher: %w", src.Name, err)
		}
		if err := w.Start(ctx); err != nil {
			return watchers, fmt.Errorf("source %s: start watchlist watcher: %w", src.Name, err)
		}
		watchers = append(watchers, w)
	}
	return watchers, nil
}

// buildOrchestrators assembles one orchestrator per configured source from
// the current watchlist documents.
func buildOrchestrators(cfg *config.Config, notifier alert.Notifier, metrics *telemetry.Metrics, logger *slog.Logger, singlePass bool) ([]*monitor.Orchestrator, error) {
	admin := store.OpenAdminAlerts(filepath.Join(cfg.StateDir, "admin_alerts.json"), logger)

	var orchestrators []*monitor.Orchestrator
	for _, src := range cfg.Sources {
		doc, err := watchlist.Load(src.Watchlist, requiredMetadata(src.Family)...)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}

		fetcher, targets, err := buildSource(src, doc)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		if len(targets) == 0 {
			logger.Warn("source has an empty watchlist, skipping", "source", src.Name)
			continue
		}

		policy, _ := watch.PolicyForFamily(src.Family)
		srcLogger := logger.With("source", src.Name)
		srcStore := store.Open(filepath.Join(cfg.StateDir, src.Name+".json"), srcLogger)

		dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
			Source:   src.Name,
			Store:    srcStore,
			Admin:    admin,
			Notifier: notifier,
			Logger:   srcLogger,
			Metrics:  metrics,
		})

		gate := governance.NewRequestGate(governance.GateConfig{
			MinInterval:    src.MinRequestInterval.Std(),
			InitialBackoff: src.InitialBackoff.Std(),
			MaxRetries:     src.MaxRetries,
		}, srcLogger)

		orch, err := monitor.New(monitor.Config{
			Source:       src.Name,
			Targets:      targets,
			Fetcher:      fetcher,
			Policy:       policy,
			Store:        srcStore,
			Dispatcher:   dispatcher,
			Gate:         gate,
			Logger:       srcLogger,
			Metrics:      metrics,
			PollInterval: src.PollInterval.Std(),
			FetchTimeout: src.FetchTimeout.Std(),
			SinglePass:   singlePass,
		})
		if err != nil {
			return nil, err
		}
		orchestrators = append(orchestrators, orch)
	}

	if len(orchestrators) == 0 {
		return nil, fmt.Errorf("no source has a non-empty watchlist")
	}
	return orchestrators, nil
}

// requiredMetadata lists the watchlist metadata keys a family cannot be
// monitored without.
func requiredMetadata(family string) []string {
	switch family {
	case "snapshot":
		return []string{"space"}
	case "tally":
		return []string{"chain_id", "governor_address"}
	case "cosmos":
		return []string{"chain_id", "rest_url"}
	default:
		return nil
	}
}

// buildSource maps one source config and watchlist onto a fetcher and its
// targets. The watch target scope doubles as the store key prefix, so it
// must stay stable across restarts for every family.
func buildSource(src config.SourceConfig, doc *watchlist.Document) (monitor.Fetcher, []monitor.Target, error) {
	timeout := src.FetchTimeout.Std()

	switch src.Family {
	case "snapshot":
		fetcher := fetch.NewSnapshotFetcher(fetch.SnapshotConfig{Endpoint: src.Endpoint, Timeout: timeout})
		var targets []monitor.Target
		for _, p := range doc.Projects {
			targets = append(targets, monitor.Target{
				Scope:     p.Metadata["space"],
				Formatter: alert.ProjectFormatter{Project: p.Name},
			})
		}
		return fetcher, targets, nil

	case "tally":
		fetcher, err := fetch.NewTallyFetcher(fetch.TallyConfig{
			APIKey:   src.APIKey,
			Endpoint: src.Endpoint,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		var targets []monitor.Target
		for _, p := range doc.Projects {
			targets = append(targets, monitor.Target{
				Scope:     p.Metadata["chain_id"] + ":" + p.Metadata["governor_address"],
				Formatter: alert.ProjectFormatter{Project: p.Name},
			})
		}
		return fetcher, targets, nil

	case "cosmos":
		chains := make(map[string]fetch.CosmosChain, len(doc.Projects))
		var targets []monitor.Target
		for _, p := range doc.Projects {
			chains[p.Metadata["chain_id"]] = fetch.CosmosChain{
				RestURL:      p.Metadata["rest_url"],
				ExplorerURL:  p.Metadata["explorer_url"],
				ExplorerKind: p.Metadata["explorer_kind"],
			}
			targets = append(targets, monitor.Target{
				Scope:     p.Metadata["chain_id"],
				Formatter: alert.ProjectFormatter{Project: p.Name},
			})
		}
		return fetch.NewCosmosFetcher(chains, timeout), targets, nil

	case "xrpl":
		fetcher := fetch.NewXRPLFetcher(fetch.XRPLConfig{APIURL: src.Endpoint, Timeout: timeout})
		var targets []monitor.Target
		for _, p := range doc.Projects {
			targets = append(targets, monitor.Target{
				Scope: p.Name,
				Formatter: alert.ProjectFormatter{
					Project:    p.Name,
					Noun:       "Amendment",
					ActionText: "View Amendment",
				},
			})
		}
		return fetcher, targets, nil

	case "sky-poll":
		fetcher := fetch.NewSkyFetcher(fetch.SkyConfig{BaseURL: src.Endpoint, Timeout: timeout})
		var targets []monitor.Target
		for _, p := range doc.Projects {
			targets = append(targets, monitor.Target{
				Scope: fetch.SkyScopePoll,
				Formatter: alert.ProjectFormatter{
					Project:    p.Name,
					Noun:       "Poll",
					ActionText: "View Poll",
				},
			})
		}
		return fetcher, targets, nil

	case "sky-executive":
		fetcher := fetch.NewSkyFetcher(fetch.SkyConfig{BaseURL: src.Endpoint, Timeout: timeout})
		var targets []monitor.Target
		for _, p := range doc.Projects {
			targets = append(targets, monitor.Target{
				Scope: fetch.SkyScopeExecutive,
				Formatter: alert.ProjectFormatter{
					Project:    p.Name,
					Noun:       "Executive Vote",
					ActionText: "View Executive Vote",
				},
			})
		}
		return fetcher, targets, nil

	default:
		return nil, nil, fmt.Errorf("unknown family %q", src.Family)
	}
}

// dumpState prints every source's tracked entities as JSON.
func dumpState(cfg *config.Config, logger *slog.Logger) error {
	out := make(map[string]any, len(cfg.Sources))
	for _, src := range cfg.Sources {
		s := store.Open(filepath.Join(cfg.StateDir, src.Name+".json"), logger)
		out[src.Name] = s.All()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
