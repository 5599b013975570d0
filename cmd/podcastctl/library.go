package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/export"
	"github.com/joseph-ayodele/podcast-tracker/internal/repository"
)

// lister returns the library from the service, or from the local journal
// when fromJournal is set. The returned func releases resources.
func (a *app) lister(ctx context.Context, fromJournal bool) (export.Lister, func(), error) {
	if !fromJournal {
		return export.ListerFunc(func(ctx context.Context) ([]entity.Job, error) {
			if err := a.seed(ctx); err != nil {
				return nil, err
			}
			return a.collection.Snapshot(), nil
		}), func() {}, nil
	}
	db, err := repository.Open(ctx, repository.ConfigFrom(a.cfg.Database), a.logger)
	if err != nil {
		return nil, nil, err
	}
	journal := repository.NewJournal(db, a.logger)
	if err := journal.Migrate(ctx); err != nil {
		journal.Close()
		return nil, nil, err
	}
	return journal, journal.Close, nil
}

func listCmd(appFn func() *app) *cobra.Command {
	var (
		fromJournal bool
		status      string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List podcast jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			filter, err := parseFilter(status, "", "")
			if err != nil {
				return err
			}
			lister, release, err := a.lister(cmd.Context(), fromJournal)
			if err != nil {
				return err
			}
			defer release()
			all, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Status", "Title", "Created", "Duration", "Result"})
			table.SetAutoWrapText(false)
			table.SetBorder(false)
			now := time.Now()
			for _, j := range all {
				if filter.Status != "" && j.Status != filter.Status {
					continue
				}
				table.Append([]string{
					string(j.ID),
					string(j.Status),
					j.DisplayTitle(),
					humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
					duration(j.Duration),
					j.ResultURL(),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromJournal, "journal", false, "read the local journal instead of the service")
	cmd.Flags().StringVar(&status, "status", "", "only show jobs in this status")
	return cmd
}

func exportCmd(appFn func() *app) *cobra.Command {
	var (
		fromJournal bool
		out         string
		status      string
		from, to    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the library to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			filter, err := parseFilter(status, from, to)
			if err != nil {
				return err
			}
			lister, release, err := a.lister(cmd.Context(), fromJournal)
			if err != nil {
				return err
			}
			defer release()

			buf, err := export.NewService(lister, a.logger).ExportLibraryXLSX(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", out, humanize.IBytes(uint64(len(buf))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromJournal, "journal", false, "read the local journal instead of the service")
	cmd.Flags().StringVarP(&out, "out", "o", "podcasts.xlsx", "output XLSX file path")
	cmd.Flags().StringVar(&status, "status", "", "only export jobs in this status")
	cmd.Flags().StringVar(&from, "from", "", "from date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "to date YYYY-MM-DD")
	return cmd
}

func parseFilter(status, from, to string) (export.Filter, error) {
	var f export.Filter
	if status != "" {
		st, ok := constants.ParseJobStatus(status)
		if !ok {
			return f, fmt.Errorf("unknown status %q", status)
		}
		f.Status = st
	}
	for _, d := range []struct {
		raw  string
		dst  **time.Time
		flag string
	}{{from, &f.From, "--from"}, {to, &f.To, "--to"}} {
		if d.raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", d.raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s date format, use YYYY-MM-DD: %w", d.flag, err)
		}
		*d.dst = &t
	}
	return f, nil
}

func duration(secs int) string {
	if secs <= 0 {
		return ""
	}
	return strconv.Itoa(secs/60) + ":" + fmt.Sprintf("%02d", secs%60)
}
