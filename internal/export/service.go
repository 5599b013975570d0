package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// Lister supplies the library to export; the journal and the client
// collection both fit.
type Lister interface {
	List(ctx context.Context) ([]entity.Job, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context) ([]entity.Job, error)

func (f ListerFunc) List(ctx context.Context) ([]entity.Job, error) { return f(ctx) }

// Filter narrows an export. Zero values match everything.
type Filter struct {
	Status constants.JobStatus
	From   *time.Time
	To     *time.Time
}

func (f Filter) match(j entity.Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	day := time.Date(j.CreatedAt.Year(), j.CreatedAt.Month(), j.CreatedAt.Day(), 0, 0, 0, 0, time.UTC)
	if f.From != nil && day.Before(dateOnly(*f.From)) {
		return false
	}
	if f.To != nil && day.After(dateOnly(*f.To)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Service produces XLSX bytes for the podcast library.
type Service struct {
	lister Lister
	logger *slog.Logger
}

func NewService(lister Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{lister: lister, logger: logger}
}

const sheet = "Library"

var headers = []string{
	"ID",
	"Status",
	"Title",
	"Created",
	"Source",
	"Result",
	"Duration",
}

// ExportLibraryXLSX returns a workbook with one row per job matching filter,
// in the lister's order.
func (s *Service) ExportLibraryXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()

	all, err := s.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var rows []entity.Job
	for _, j := range all {
		if filter.match(j) {
			rows = append(rows, j)
		}
	}

	buf, err := JobsXLSX(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"status", filter.Status,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf, nil
}

// JobsXLSX renders jobs to XLSX bytes.
func JobsXLSX(jobs []entity.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, string(j.ID))
		write(2, string(j.Status))
		write(3, truncate(j.DisplayTitle(), 140))
		if !j.CreatedAt.IsZero() {
			write(4, j.CreatedAt.UTC().Format("2006-01-02 15:04"))
		} else {
			write(4, "")
		}
		write(5, j.SourceURL())
		write(6, j.ResultURL())
		write(7, formatDuration(j.Duration))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 10) // id
	_ = f.SetColWidth(sheet, "B", "B", 12) // status
	_ = f.SetColWidth(sheet, "C", "C", 36) // title
	_ = f.SetColWidth(sheet, "D", "D", 18) // created
	_ = f.SetColWidth(sheet, "E", "F", 60) // urls
	_ = f.SetColWidth(sheet, "G", "G", 10) // duration

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// formatDuration renders seconds as m:ss (or h:mm:ss); zero means unknown.
func formatDuration(secs int) string {
	if secs <= 0 {
		return ""
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
