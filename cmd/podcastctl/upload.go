package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/reconcile"
	"github.com/joseph-ayodele/podcast-tracker/internal/upload"
)

func uploadCmd(appFn func() *app) *cobra.Command {
	var (
		requirements string
		wait         bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a document and register a podcast job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			out := cmd.OutOrStdout()

			in, closer, err := upload.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer closer.Close()
			in.Requirements = requirements

			orch := a.orchestrator(func(s upload.Stage) {
				if s != upload.StageIdle {
					fmt.Fprintln(out, s)
				}
			})
			job, err := orch.Submit(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Created job %s (%s)\n", job.ID, job.Status)
			if !wait {
				return nil
			}
			final, err := waitFor(cmd.Context(), a, job.ID)
			if err != nil {
				return err
			}
			printFinal(out, final)
			return nil
		},
	}
	cmd.Flags().StringVarP(&requirements, "requirements", "r", "", "free-text instructions for the podcast (max 2000 chars)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	return cmd
}

// waitFor runs the reconcile loop until id reaches a terminal state.
func waitFor(ctx context.Context, a *app, id entity.JobID) (entity.Job, error) {
	notes := reconcile.NewChanNotifier(8)
	loop := a.loop(reconcile.WithNotifier(reconcile.MultiNotifier{reconcile.LogNotifier{Logger: a.logger}, notes}))
	loop.Start(ctx)
	defer loop.Stop()

	for {
		select {
		case <-ctx.Done():
			return entity.Job{}, ctx.Err()
		case n := <-notes.C():
			if n.Job.ID == id {
				return n.Job, nil
			}
		}
	}
}

func printFinal(out io.Writer, job entity.Job) {
	switch job.Status {
	case constants.JobStatusComplete:
		fmt.Fprintf(out, "%s is ready: %s\n", job.DisplayTitle(), job.ResultURL())
	case constants.JobStatusFailed:
		fmt.Fprintf(out, "%s failed\n", job.DisplayTitle())
	}
}
