// Command podcastctl uploads documents for podcast conversion and follows
// the resulting jobs until they finish.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/reconcile"
	"github.com/joseph-ayodele/podcast-tracker/internal/session"
	"github.com/joseph-ayodele/podcast-tracker/internal/upload"
)

type app struct {
	cfg        *common.Config
	logger     *slog.Logger
	client     *backend.Client
	tokens     session.TokenSource
	collection *jobs.Collection
}

func newApp(verbose bool) (*app, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &app{
		cfg:        cfg,
		logger:     logger,
		client:     backend.NewClient(cfg.API.BaseURL, logger),
		tokens:     session.FromConfig(cfg.Auth),
		collection: jobs.NewCollection(),
	}, nil
}

func (a *app) orchestrator(progress func(upload.Stage)) *upload.Orchestrator {
	return upload.NewOrchestrator(a.client, a.tokens, a.collection, a.logger,
		upload.WithMaxBytes(a.cfg.Upload.MaxBytes),
		upload.WithAllowedTypes(a.cfg.Upload.AllowedTypeSet()),
		upload.WithProgress(progress),
	)
}

func (a *app) loop(opts ...reconcile.Option) *reconcile.Loop {
	opts = append([]reconcile.Option{
		reconcile.WithInterval(a.cfg.Poll.Interval),
		reconcile.WithConcurrency(a.cfg.Poll.Concurrency),
	}, opts...)
	return reconcile.NewLoop(a.client, a.tokens, a.collection, a.logger, opts...)
}

// seed loads the caller's library so the loop picks up jobs created elsewhere.
func (a *app) seed(ctx context.Context) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return err
	}
	list, err := a.client.ListJobs(ctx, token)
	if err != nil {
		return common.NewAppError(common.CodePoll, "Could not load your library", err)
	}
	n := a.collection.Seed(list)
	a.logger.Debug("library seeded", "jobs", n)
	return nil
}

func main() {
	var (
		verbose bool
		a       *app
	)
	root := &cobra.Command{
		Use:           "podcastctl",
		Short:         "Turn documents into podcasts and track the jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(verbose)
			return err
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")

	appFn := func() *app { return a }
	root.AddCommand(
		uploadCmd(appFn),
		watchCmd(appFn),
		listCmd(appFn),
		exportCmd(appFn),
		watchDirCmd(appFn),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", common.UserMessage(err))
		os.Exit(1)
	}
}
