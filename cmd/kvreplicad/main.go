package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/config"
	"github.com/nishisan-dev/kvreplicad/internal/logging"
	"github.com/nishisan-dev/kvreplicad/internal/observability"
	"github.com/nishisan-dev/kvreplicad/internal/pki"
	"github.com/nishisan-dev/kvreplicad/internal/reactor"
	"github.com/nishisan-dev/kvreplicad/internal/replication"
	"github.com/nishisan-dev/kvreplicad/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "/etc/kvreplicad/kvreplicad.yaml", "path to node config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	react, httpServer, maint, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("wiring node", "error", err)
		os.Exit(1)
	}

	if httpServer != nil {
		go func() {
			logger.Info("observability listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("observability server error", "error", err)
			}
		}()
	}
	if maint != nil {
		maint.Start()
	}

	if cfg.Replication.ReplicaOf != "" {
		host, portStr, err := net.SplitHostPort(cfg.Replication.ReplicaOf)
		if err != nil {
			logger.Error("parsing replica_of", "value", cfg.Replication.ReplicaOf, "error", err)
			os.Exit(1)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Error("parsing replica_of port", "value", cfg.Replication.ReplicaOf, "error", err)
			os.Exit(1)
		}
		go react.BecomeReplicaOf(host, port)
	}

	err = react.Run(ctx)

	if maint != nil {
		maint.Stop()
	}
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err != nil {
		logger.Error("reactor error", "error", err)
		os.Exit(1)
	}
}

// wire builds the reactor, the optional observability HTTP server, and
// the optional maintenance scheduler from a loaded Config.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*reactor.Reactor, *http.Server, *replication.MaintenanceScheduler, error) {
	reactorCfg := reactor.Config{
		ListenAddr:                   cfg.Server.Listen,
		SnapshotDir:                  cfg.Snapshot.Dir,
		Hz:                           cfg.Replication.Hz,
		PingPeriod:                   cfg.Replication.PingPeriod,
		ReplTimeout:                  cfg.Replication.ReplTimeout,
		BacklogLimit:                 cfg.Replication.BacklogTimeLimit,
		MinSlavesLag:                 cfg.Replication.MinSlavesMaxLag,
		DurableLogging:               cfg.Replication.DurableLogging,
		AuthPassword:                 cfg.Replication.AuthPassword,
		Compression:                  cfg.Replication.CompressionRaw,
		SnapshotRateLimitBytesPerSec: cfg.Replication.SnapshotRateLimitBytesPerSec,
	}

	if cfg.TLS.Enabled {
		serverTLS, err := pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building server tls config: %w", err)
		}
		clientTLS, err := pki.NewClientTLSConfig(cfg.TLS.CACert, cfg.TLS.ClientCert, cfg.TLS.ClientKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building client tls config: %w", err)
		}
		reactorCfg.ServerTLS = serverTLS
		reactorCfg.ClientTLS = clientTLS
	}

	events := observability.NewEventRing(200)
	reactorCfg.Events = events

	var archiver *snapshot.Archiver
	if cfg.Snapshot.Archive != nil && cfg.Snapshot.Archive.Bucket != "" {
		a, err := snapshot.NewArchiver(ctx, snapshot.ArchiveConfig{
			Bucket:          cfg.Snapshot.Archive.Bucket,
			Prefix:          cfg.Snapshot.Archive.Prefix,
			Region:          cfg.Snapshot.Archive.Region,
			Endpoint:        cfg.Snapshot.Archive.Endpoint,
			AccessKeyID:     cfg.Snapshot.Archive.AccessKeyID,
			SecretAccessKey: cfg.Snapshot.Archive.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building snapshot archiver: %w", err)
		}
		archiver = a
		reactorCfg.Archiver = archiver
	}

	react := reactor.New(reactorCfg, logger)

	var httpServer *http.Server
	if cfg.Observability.Enabled {
		cidrs, err := cfg.Observability.ParseCIDRs()
		if err != nil {
			return nil, nil, nil, err
		}
		acl := observability.NewACL(cidrs)
		hosts := observability.NewHostMonitor(logger, cfg.Observability.HostPollInterval)
		hosts.Start()

		router := observability.NewRouter(react, events, hosts, acl)
		httpServer = &http.Server{
			Addr:    cfg.Observability.Listen,
			Handler: router,
		}
	}

	var maint *replication.MaintenanceScheduler
	if archiver != nil || cfg.Snapshot.MaintenanceSchedule != "" {
		jobs := []replication.MaintenanceJob{
			{
				Name:     "backlog-audit",
				Schedule: cfg.Snapshot.MaintenanceSchedule,
				Run: func() {
					rm := react.RoleManager()
					if b := rm.Propagator.Backlog(); b != nil {
						logger.Debug("maintenance: backlog audit",
							"oldest_offset", b.OldestOffset(),
							"stream_offset", b.StreamOffset())
					}
				},
			},
			{
				Name:     "script-cache-sweep",
				Schedule: cfg.Snapshot.MaintenanceSchedule,
				Run: func() {
					react.ScriptCache().Flush()
					logger.Debug("maintenance: forced script cache sweep")
				},
			},
		}
		m, err := replication.NewMaintenanceScheduler(logger, jobs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building maintenance scheduler: %w", err)
		}
		maint = m
	}

	return react, httpServer, maint, nil
}
