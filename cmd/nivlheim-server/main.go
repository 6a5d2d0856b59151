// Command nivlheim-server runs the enrollment, session-validity, and
// archive-ingestion endpoints behind a single process. It wires
// config.Load into the certstore/ca/enroll/session/ingest components
// and starts the public, loopback, and scanner workers described in
// spec §6, following the teacher's CatchSignals-driven graceful
// shutdown (cmd/shell.go).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/usit-gd/nivlheim/api"
	"github.com/usit-gd/nivlheim/ca"
	"github.com/usit-gd/nivlheim/certstore"
	"github.com/usit-gd/nivlheim/config"
	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/db"
	"github.com/usit-gd/nivlheim/enroll"
	"github.com/usit-gd/nivlheim/ingest"
	"github.com/usit-gd/nivlheim/log"
	"github.com/usit-gd/nivlheim/session"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "nivlheim-server",
		Short: "Fleet certificate enrollment, session validation, and archive ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSONOutput})
	logger := log.Get()

	dbMap, err := db.NewDbMap(cfg.CertStore.DSN, cfg.CertStore.MaxOpenConns, cfg.CertStore.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("connecting to certstore database: %w", err)
	}

	store := certstore.New(dbMap, clock.Default())

	if err := seedAutoApproveRanges(context.Background(), store, cfg.Enroller.AutoApproveRanges, logger); err != nil {
		return fmt.Errorf("seeding auto-approve ranges: %w", err)
	}

	issuer, err := ca.New(ca.Config{
		CACertPath:     cfg.CAIssuer.CACertPath,
		CAKeyPath:      cfg.CAIssuer.CAKeyPath,
		SerialDBPath:   cfg.CAIssuer.SerialDBPath,
		ValidityPeriod: cfg.CAIssuer.ValidityPeriod,
	})
	if err != nil {
		return fmt.Errorf("initializing CA: %w", err)
	}
	defer issuer.Close()

	enroller := enroll.New(store, issuer, enroll.Config{
		DNSServers: cfg.Enroller.DNSServers,
		DNSTimeout: cfg.Enroller.DNSTimeout,
	}, clock.Default())

	guard := session.New(store, clock.Default())

	registry := prometheus.NewRegistry()
	ingestCounters := api.NewIngestOutcomeCounters(registry)

	ingestor := ingest.New(store, ingest.Config{
		ScratchDir: cfg.Ingestor.ScratchDir,
		Reporter:   ingestCounters,
	})

	srv := &api.Server{
		Enroller: enroller,
		Guard:    guard,
		Ingestor: ingestor,
		QueueDir: cfg.Ingestor.QueueDir,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := ingest.NewScanner(ingestor, cfg.Ingestor.QueueDir, cfg.Ingestor.ScanInterval)
	go func() {
		if err := scanner.Run(ctx); err != nil && err != context.Canceled {
			logger.WarningErr(fmt.Errorf("ingest scanner stopped: %w", err))
		}
	}()

	publicServer := &http.Server{Addr: cfg.HTTP.PublicAddr, Handler: srv.PublicMux(registry)}
	loopbackServer := &http.Server{Addr: cfg.HTTP.LoopbackAddr, Handler: srv.LoopbackMux(registry)}

	go func() {
		logger.Info(fmt.Sprintf("public listener starting on %s", cfg.HTTP.PublicAddr))
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.AuditErr(fmt.Errorf("public listener failed: %w", err))
		}
	}()
	go func() {
		logger.Info(fmt.Sprintf("loopback listener starting on %s", cfg.HTTP.LoopbackAddr))
		if err := loopbackServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.AuditErr(fmt.Errorf("loopback listener failed: %w", err))
		}
	}()

	catchSignals(logger, func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		publicServer.Shutdown(shutdownCtx)
		loopbackServer.Shutdown(shutdownCtx)
	})

	return nil
}

// ipRangeSeeder is the slice of core.CertStore seedAutoApproveRanges
// needs; certstore.Store satisfies it without any adapter.
type ipRangeSeeder interface {
	IPRangeList(ctx context.Context) ([]core.IPRange, error)
	IPRangeAdd(ctx context.Context, cidr string) error
}

// seedAutoApproveRanges ensures every CIDR listed under
// enroller.auto_approve_ranges in the config file exists in the
// ipranges table IPRangeContains consults (spec §4.3, reqcert's
// immediate-approval path). Idempotent: ranges already present, from a
// prior run or an operator's manual IPRangeAdd, are left alone.
func seedAutoApproveRanges(ctx context.Context, store ipRangeSeeder, configured []string, logger log.Logger) error {
	if len(configured) == 0 {
		return nil
	}
	existing, err := store.IPRangeList(ctx)
	if err != nil {
		return fmt.Errorf("listing existing ipranges: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.IPRange] = true
	}
	for _, cidr := range configured {
		if have[cidr] {
			continue
		}
		if err := store.IPRangeAdd(ctx, cidr); err != nil {
			return fmt.Errorf("adding configured range %q: %w", cidr, err)
		}
		logger.Info(fmt.Sprintf("seeded auto-approve range %s", cidr))
	}
	return nil
}

// catchSignals blocks until SIGTERM, SIGINT, or SIGHUP, runs callback,
// then exits, matching the teacher's CatchSignals (cmd/shell.go).
func catchSignals(logger log.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info(fmt.Sprintf("caught %s", sig))

	if callback != nil {
		callback()
	}
	logger.Info("exiting")
}
