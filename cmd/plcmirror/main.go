// Command plcmirror runs the PLC directory mirror: it backfills immutable
// weekly bundles, then polls the live export, writing operations into
// Postgres until the full-pages filter sees that it has caught up. Pages
// polled after that point are not written; the process keeps running until
// it is interrupted or a stage fails. Configuration comes from an optional
// YAML file named by the -config flag, with environment variables
// overriding it, and the startup sequence mirrors the teacher's main.go
// (config, dependencies, migration, then run).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/at-microcosm/plcmirror/internal/backfill"
	"github.com/at-microcosm/plcmirror/internal/config"
	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/httpclient"
	"github.com/at-microcosm/plcmirror/internal/pipeline"
	"github.com/at-microcosm/plcmirror/internal/poller"
	"github.com/at-microcosm/plcmirror/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing plcmirror...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Upstream: %s", cfg.Upstream)
	log.Printf("Upstream bulk: %s", cfg.UpstreamBulk)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	if cfg.SkipMigration {
		log.Println("Database migration SKIPPED (skip_migration)")
	} else {
		log.Println("Running database migration...")
		if err := st.Migrate(ctx, cfg.SchemaPath); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database migration complete.")
	}

	if err := st.CheckMigrations(ctx); err != nil {
		log.Fatalf("Migration manifest check failed: %v", err)
	}

	httpClient := httpclient.NewFromEnv()

	_, resuming, err := st.LatestCreatedAt(ctx)
	if err != nil {
		log.Fatalf("Failed to check resume cursor: %v", err)
	}

	orch := &pipeline.Orchestrator{
		Store:        st,
		Live:         poller.New(httpClient, cfg.Upstream, cfg.PollInterval),
		SkipBackfill: resuming || strings.EqualFold(cfg.UpstreamBulk, "off"),
	}

	if !orch.SkipBackfill {
		src := backfill.HTTPSource{Client: httpClient, Prefix: cfg.UpstreamBulk}
		firstWeek := domain.WeekFromTime(time.Unix(cfg.BulkEpoch, 0))
		orch.Backfill = backfill.New(src, firstWeek, cfg.BackfillWorkers)
	}

	go serveMetrics(cfg.MetricsAddr)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Pipeline exited with error: %v", err)
	}
	log.Println("plcmirror shutting down")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("[metrics] serving on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[metrics] server stopped: %v", err)
	}
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "(unset)"
	}
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***@" + raw[at+1:]
}
