// Command podcastd keeps the local job journal in step with the service:
// it reconciles outstanding jobs on a timer, optionally accepts pushed
// status records over NATS, and reports health over gRPC.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/push"
	"github.com/joseph-ayodele/podcast-tracker/internal/reconcile"
	"github.com/joseph-ayodele/podcast-tracker/internal/repository"
	"github.com/joseph-ayodele/podcast-tracker/internal/server"
	"github.com/joseph-ayodele/podcast-tracker/internal/session"
)

const journalPingEvery = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	journal := repository.NewJournal(db, logger)
	defer journal.Close()
	if err := journal.Migrate(ctx); err != nil {
		logger.Error("failed to migrate journal", "error", err)
		os.Exit(1)
	}

	client := backend.NewClient(cfg.API.BaseURL, logger)
	tokens := session.FromConfig(cfg.Auth)
	collection := jobs.NewCollection()
	seed(ctx, logger, journal, client, tokens, collection)

	hs := health.NewServer()
	reporter := server.NewHealthReporter(hs, logger)

	loop := reconcile.NewLoop(client, tokens, collection, logger,
		reconcile.WithInterval(cfg.Poll.Interval),
		reconcile.WithConcurrency(cfg.Poll.Concurrency),
		reconcile.WithTickHook(reporter.ObserveTick),
		reconcile.WithTransitionHook(func(ts []jobs.Transition) {
			records := make([]entity.Job, 0, len(ts))
			for _, t := range ts {
				records = append(records, t.Job)
			}
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := journal.Upsert(wctx, records...); err != nil {
				logger.Error("journal.upsert_failed", "jobs", len(records), "error", err)
				reporter.ObserveJournal(err)
			}
		}),
	)

	if cfg.Push.NATSURL != "" {
		nc, err := push.Connect(cfg.Push.NATSURL, logger)
		if err != nil {
			logger.Error("push disabled", "error", err)
		} else {
			defer nc.Close()
			sub, err := push.Subscribe(nc, cfg.Push.Subject, loop, logger)
			if err != nil {
				logger.Error("push disabled", "error", err)
			} else {
				defer func() { _ = sub.Close() }()
			}
		}
	}

	go pingJournal(ctx, journal, reporter)

	loop.Start(ctx)
	defer loop.Stop()

	if err := server.Serve(ctx, cfg.Server.GRPCAddr, hs, logger); err != nil {
		logger.Error("gRPC serve error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// seed fills the collection from the journal, then merges the service's
// listing so jobs created from other devices are tracked too.
func seed(ctx context.Context, logger *slog.Logger, journal *repository.Journal, client *backend.Client, tokens session.TokenSource, collection *jobs.Collection) {
	known, err := journal.List(ctx)
	if err != nil {
		logger.Warn("journal.list_failed", "error", err)
	}
	fromJournal := collection.Seed(known)

	token, err := tokens.Token(ctx)
	if err != nil {
		logger.Warn("library.seed_skipped", "error", err)
		return
	}
	listed, err := client.ListJobs(ctx, token)
	if err != nil {
		logger.Warn("library.seed_failed", "error", err)
		return
	}
	fromService := collection.Seed(listed)
	if _, err := journal.Upsert(ctx, listed...); err != nil {
		logger.Warn("journal.upsert_failed", "error", err)
	}
	// Records from the service may be further along than the journal's.
	collection.Apply(listed)
	logger.Info("library seeded", "from_journal", fromJournal, "from_service", fromService, "outstanding", len(collection.Outstanding()))
}

func pingJournal(ctx context.Context, journal *repository.Journal, reporter *server.HealthReporter) {
	t := time.NewTicker(journalPingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			reporter.ObserveJournal(journal.HealthCheck(pctx))
			cancel()
		}
	}
}
