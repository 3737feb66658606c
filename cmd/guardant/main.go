package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/engine"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/failover"
	"github.com/m00npl/guardant/pkg/jobs"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/metrics"
	"github.com/m00npl/guardant/pkg/notify"
	"github.com/m00npl/guardant/pkg/probe"
	"github.com/m00npl/guardant/pkg/sla"
	"github.com/m00npl/guardant/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	dataDir    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guardant",
	Short: "GuardAnt - multi-tenant service monitoring core",
	Long: `GuardAnt continuously probes registered services (web endpoints, TCP
ports, DNS records, TLS certificates, cloud status feeds, container fleets,
heartbeats and more), records results per tenant, drives automatic failover
between upstream endpoints, and rolls probe history up into SLA measurements
and reports.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"GuardAnt version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring core",
	Long: `Start the probe engine, job system, failover controller and SLA
manager, plus an HTTP listener exposing /metrics, /health and /ready.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		metrics.SetVersion(Version)
		logger := log.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		metrics.RegisterComponent("store", true, "")

		broker := events.NewBroker()
		broker.Start()

		registry := probe.NewRegistry()
		eng := engine.New(store, registry, broker, cfg.Monitoring)
		metrics.RegisterComponent("engine", true, "")

		jm := jobs.NewManager(cfg.Jobs, broker)
		dispatcher := notify.NewDispatcher(notificationSinks(cfg)...)
		slaMgr := sla.NewManager(store, broker, cfg.SLA)
		registerProcessors(jm, eng, slaMgr, store, dispatcher, cfg)
		jm.Start()
		metrics.RegisterComponent("jobs", true, "")

		bridge := notify.NewBridge(broker, notificationDestinations(cfg), func(msg notify.Message) {
			_, err := jm.Submit(&jobs.Job{
				Type:     "notification-delivery",
				Priority: jobs.PriorityHigh,
				Data: map[string]any{
					"channel": string(msg.Channel),
					"target":  msg.Target,
					"subject": msg.Subject,
					"body":    msg.Body,
				},
			})
			if err != nil {
				logger.Warn().Err(err).Msg("failed to enqueue notification")
			}
		})

		fc, err := failover.NewController(store, broker, failover.NewLogRouter(), cfg.Failover)
		if err != nil {
			return fmt.Errorf("failed to build failover controller: %v", err)
		}
		fc.Start()
		metrics.RegisterComponent("failover", true, "")
		bridge.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http listener failed")
			}
		}()

		logger.Info().
			Str("version", Version).
			Str("listen", cfg.Server.ListenAddr).
			Str("data_dir", cfg.DataDir).
			Msg("guardant core running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		// Stop producers first, then consumers, then the store
		eng.Shutdown()
		fc.Shutdown()
		bridge.Stop()
		jm.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		broker.Stop()
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// notificationSinks builds the delivery sinks in preference order. The log
// sink comes last so every channel has a fallback.
func notificationSinks(cfg *config.Config) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Notifications.SlackToken != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notifications.SlackToken))
	}
	sinks = append(sinks, notify.NewWebhookSink(), notify.NewLogSink())
	return sinks
}

// notificationDestinations maps the configured transports to alert
// destinations; with nothing configured alerts land on the log sink
func notificationDestinations(cfg *config.Config) []notify.Destination {
	var dests []notify.Destination
	if cfg.Notifications.SlackToken != "" && cfg.Notifications.SlackChannel != "" {
		dests = append(dests, notify.Destination{Channel: notify.ChannelSlack, Target: cfg.Notifications.SlackChannel})
	}
	if cfg.Notifications.WebhookURL != "" {
		dests = append(dests, notify.Destination{Channel: notify.ChannelWebhook, Target: cfg.Notifications.WebhookURL})
	}
	return dests
}
