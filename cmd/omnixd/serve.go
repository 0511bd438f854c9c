package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnix-ai/omnixd"
)

// resolveConfigPath picks the config file from the flag or the first
// positional argument.
func resolveConfigPath(flagPath string, args []string) (string, error) {
	configPath := flagPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return "", fmt.Errorf("config file required. Use --config=config.toml or provide as argument")
	}
	return configPath, nil
}

// buildSupervisor wires a supervisor from a loaded config: logger, failure
// policy, health checker timings and the global environment.
func buildSupervisor(cfg *omnixd.Config) (*omnixd.Supervisor, error) {
	log := cfg.LoggerConfig().NewSlogger()
	slog.SetDefault(log)

	sup, err := omnixd.New(cfg.Specs, omnixd.Options{
		OnFailure:        omnixd.FailurePolicy(cfg.Supervisor.OnFailure),
		GracePeriod:      cfg.Supervisor.GracePeriod,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
		LivenessInterval: cfg.Supervisor.LivenessInterval,
		Health:           omnixd.NewHealthChecker(cfg.Supervisor.HealthPollInterval, cfg.Supervisor.HealthAttemptTimeout),
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	sup.SetGlobalEnv(cfg.GlobalEnv)
	sup.SetUseOSEnv(cfg.Supervisor.UseOSEnv)
	return sup, nil
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath, err := resolveConfigPath(flags.ConfigPath, args)
	if err != nil {
		return err
	}

	// Load unified config once
	cfg, err := omnixd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// pid_dir is resolved against the config dir by LoadConfig; make sure it
	// exists before anything writes a pidfile into it.
	if cfg.Supervisor.PIDDir != "" {
		if err := os.MkdirAll(cfg.Supervisor.PIDDir, 0o750); err != nil {
			return fmt.Errorf("failed to create pid_dir %s: %w", cfg.Supervisor.PIDDir, err)
		}
	}

	// If daemonize is requested, use the [server] pidfile/logfile settings
	if flags.Daemonize {
		pidfile := ""
		logfile := flags.LogFile
		if cfg.Server != nil {
			pidfile = cfg.Server.PidFile
			if logfile == "" {
				logfile = cfg.Server.LogFile
			}
		}
		return daemonize(pidfile, logfile)
	}

	sup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}

	// Persistence store
	if cfg.Store != nil && cfg.Store.Enabled && cfg.Store.DSN != "" {
		st, err := omnixd.NewStore(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = st.Close() }()
		if err := sup.SetStore(st); err != nil {
			return fmt.Errorf("failed to prepare store: %w", err)
		}
		if cfg.Store.Retention > 0 {
			go purgeStoreLoop(st, cfg.Store.Retention)
		}
	}

	// History sinks
	if cfg.History != nil && cfg.History.Enabled {
		var sinks []omnixd.HistorySink
		for _, sc := range cfg.History.Sinks {
			sink, err := omnixd.NewHistorySink(sc.DSN)
			if err != nil {
				fmt.Printf("Warning: failed to open history sink %s: %v\n", sc.DSN, err)
				continue
			}
			sinks = append(sinks, sink)
		}
		if len(sinks) > 0 {
			sup.SetHistorySinks(sinks...)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup metrics from config
	var collector *omnixd.ResourceCollector
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if cfg.Metrics.Resources != nil && cfg.Metrics.Resources.Enabled {
			collector, err = omnixd.RegisterMetricsWithResourcesDefault(omnixd.ResourceConfig{
				Enabled:  true,
				Interval: cfg.Metrics.Resources.Interval,
			})
			if err != nil {
				fmt.Printf("Warning: failed to register resource metrics: %v\n", err)
			} else {
				collector.Start(ctx, sup.PIDs)
			}
		} else if err := omnixd.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}

		if cfg.Metrics.Listen != "" {
			go func() {
				if err := omnixd.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	// Control-plane API server; /metrics rides along when metrics have no
	// listener of their own.
	var server *http.Server
	if cfg.Server != nil && cfg.Server.Enabled {
		withMetrics := cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Listen == ""
		server, err = omnixd.NewServer(*cfg.Server, sup, withMetrics)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		protocol := "HTTP"
		if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
			protocol = "HTTPS"
		}
		fmt.Printf("Starting omnixd %s server on %s%s\n", protocol, cfg.Server.Listen, cfg.Server.BasePath)
	}

	rep := sup.StartAll(ctx)
	fmt.Println(rep.Summary())
	if rep.Aborted && rep.Policy == omnixd.FailureTeardown {
		// The policy already tore down whatever had started.
		if collector != nil {
			collector.Stop()
		}
		if server != nil {
			_ = server.Close()
		}
		return fmt.Errorf("startup aborted at %s", rep.FailedService)
	}

	sup.StartLiveness(ctx)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	sup.StopLiveness()
	if collector != nil {
		collector.Stop()
	}
	down := sup.ShutdownAll(context.Background(), cfg.Supervisor.GracePeriod)
	fmt.Println(down.Summary())
	if server != nil {
		_ = server.Close()
	}
	return nil
}

func runUpCommand(flags *UpFlags, args []string) error {
	configPath, err := resolveConfigPath(flags.ConfigPath, args)
	if err != nil {
		return err
	}
	cfg, err := omnixd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	sup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := sup.StartAll(ctx)
	fmt.Println(rep.Summary())
	if rep.Aborted && rep.Policy == omnixd.FailureTeardown {
		return fmt.Errorf("startup aborted at %s", rep.FailedService)
	}

	sup.StartLiveness(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	sup.StopLiveness()
	down := sup.ShutdownAll(context.Background(), cfg.Supervisor.GracePeriod)
	fmt.Println(down.Summary())
	return nil
}

func runValidateCommand(flags *ValidateFlags, args []string) error {
	configPath, err := resolveConfigPath(flags.ConfigPath, args)
	if err != nil {
		return err
	}
	cfg, err := omnixd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	// Run the same validation serve would: unique names/ports, well-formed
	// specs, OMNIX_<NAME>_PORT overrides applied.
	if _, err := omnixd.New(cfg.Specs, omnixd.Options{}); err != nil {
		return err
	}

	fmt.Printf("Configuration valid: %d service(s)\n", len(cfg.Specs))
	for _, sp := range cfg.Specs {
		gate := "no health check"
		if sp.HealthURL != "" {
			gate = "health " + sp.HealthURL
		} else if sp.StartupDelay > 0 {
			gate = fmt.Sprintf("startup delay %s", sp.StartupDelay)
		}
		marker := ""
		if sp.Optional {
			marker = " (optional)"
		}
		fmt.Printf("  %s: port %d, %s%s\n", sp.Name, sp.Port, gate, marker)
	}
	return nil
}

// purgeStoreLoop deletes store rows past the retention window, once at boot
// and then hourly.
func purgeStoreLoop(st omnixd.Store, retention time.Duration) {
	for {
		cutoff := time.Now().Add(-retention)
		if n, err := st.PurgeOlderThan(context.Background(), cutoff); err != nil {
			slog.Debug("store purge failed", "error", err)
		} else if n > 0 {
			slog.Info("store purged", "rows", n, "older_than", cutoff.UTC().Format(time.RFC3339))
		}
		time.Sleep(time.Hour)
	}
}
