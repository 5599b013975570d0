package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/ingest"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/reconcile"
	"github.com/joseph-ayodele/podcast-tracker/internal/upload"
)

func watchCmd(appFn func() *app) *cobra.Command {
	var keepRunning bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow outstanding jobs until they finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			ctx := cmd.Context()
			if err := a.seed(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pending := len(a.collection.Outstanding())
			fmt.Fprintf(out, "Following %d outstanding job(s)\n", pending)
			if pending == 0 && !keepRunning {
				return nil
			}
			return follow(ctx, a, out, keepRunning)
		},
	}
	cmd.Flags().BoolVar(&keepRunning, "forever", false, "keep polling after every job has finished")
	return cmd
}

// follow runs the loop, printing each transition, until nothing is
// outstanding (unless forever) or ctx is done.
func follow(ctx context.Context, a *app, out io.Writer, forever bool) error {
	done := make(chan struct{}, 1)
	loop := a.loop(
		reconcile.WithNotifier(reconcile.LogNotifier{Logger: a.logger}),
		reconcile.WithTransitionHook(func(ts []jobs.Transition) {
			for _, t := range ts {
				fmt.Fprintf(out, "%s  %s -> %s\n", t.Job.DisplayTitle(), t.From, t.To)
				printFinal(out, t.Job)
			}
			if !forever && len(a.collection.Outstanding()) == 0 {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		}),
	)
	loop.Start(ctx)
	defer loop.Stop()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func watchDirCmd(appFn func() *app) *cobra.Command {
	var (
		requirements string
		initial      bool
		showHidden   bool
	)
	cmd := &cobra.Command{
		Use:   "watch-dir DIR",
		Short: "Upload every new PDF dropped into DIR and follow the jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       []string{args[0]},
				InitialScan: initial,
				Debounce:    500 * time.Millisecond,
				SkipHidden:  !showHidden,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			go func() {
				for err := range errs {
					a.logger.Warn("watch-dir.error", "error", err)
				}
			}()

			// Submissions are sequential; the orchestrator allows one in flight.
			orch := a.orchestrator(nil)
			feeder := ingest.NewFeeder(func(ctx context.Context, path string) (entity.Job, error) {
				in, closer, err := upload.OpenFile(path)
				if err != nil {
					return entity.Job{}, err
				}
				defer closer.Close()
				in.Requirements = requirements
				return orch.Submit(ctx, in)
			}, a.logger)

			loop := a.loop(reconcile.WithTransitionHook(func(ts []jobs.Transition) {
				for _, t := range ts {
					printFinal(out, t.Job)
				}
			}))
			loop.Start(ctx)
			defer loop.Stop()

			fmt.Fprintf(out, "Watching %s\n", args[0])
			stats := feeder.Run(ctx, paths, func(r ingest.FileResult) {
				name := filepath.Base(r.Path)
				switch {
				case r.Err != "":
					fmt.Fprintf(out, "%s: %s\n", name, r.Err)
				case r.Deduplicated:
					fmt.Fprintf(out, "%s: already submitted as job %s\n", name, r.JobID)
				default:
					fmt.Fprintf(out, "%s: created job %s\n", name, r.JobID)
				}
			})
			fmt.Fprintf(out, "Submitted %d, deduplicated %d, failed %d\n", stats.Succeeded-stats.Deduplicated, stats.Deduplicated, stats.Failed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&requirements, "requirements", "r", "", "instructions applied to every upload")
	cmd.Flags().BoolVar(&initial, "initial", false, "also submit PDFs already in DIR")
	cmd.Flags().BoolVar(&showHidden, "hidden", false, "include hidden files and directories")
	return cmd
}
