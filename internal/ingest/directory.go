package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// SubmitFunc turns one local file into a job.
type SubmitFunc func(ctx context.Context, path string) (entity.Job, error)

// FileResult is the per-file outcome.
type FileResult struct {
	Path         string
	JobID        entity.JobID
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory submission.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Feeder submits files sequentially and skips documents whose content was
// already submitted by this process, whatever their name.
type Feeder struct {
	submit      SubmitFunc
	logger      *slog.Logger
	AllowedExts map[string]struct{} // lowercased sans '.'; nil -> default set

	mu     sync.Mutex
	hashes map[string]entity.JobID
}

func NewFeeder(submit SubmitFunc, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{submit: submit, logger: logger, hashes: map[string]entity.JobID{}}
}

func (f *Feeder) exts() map[string]struct{} {
	if f.AllowedExts == nil {
		return constants.AllowedExtensions
	}
	return f.AllowedExts
}

// SubmitPath submits a single file.
func (f *Feeder) SubmitPath(ctx context.Context, path string) FileResult {
	out := FileResult{Path: path}
	if !allowed(path, f.exts()) {
		out.Err = fmt.Sprintf("unsupported or missing extension: %q", filepath.Ext(path))
		return out
	}
	sum, err := hashFile(path)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.HashHex = sum

	f.mu.Lock()
	if id, ok := f.hashes[sum]; ok {
		f.mu.Unlock()
		out.JobID = id
		out.Deduplicated = true
		f.logger.Info("ingest.duplicate_skipped", "path", path, "job_id", id)
		return out
	}
	f.mu.Unlock()

	job, err := f.submit(ctx, path)
	if err != nil {
		out.Err = err.Error()
		f.logger.Warn("ingest.submit_failed", "path", path, "error", err)
		return out
	}
	f.mu.Lock()
	f.hashes[sum] = job.ID
	f.mu.Unlock()
	out.JobID = job.ID
	f.logger.Info("ingest.submitted", "path", path, "job_id", job.ID)
	return out
}

// SubmitDirectory walks root and submits each matching file in walk order.
func (f *Feeder) SubmitDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowed(path, f.exts()) {
			return nil
		}
		stats.Matched++

		res := f.SubmitPath(ctx, path)
		results = append(results, res)
		stats.add(res)
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// Run submits every path from paths until the channel closes or ctx is done.
func (f *Feeder) Run(ctx context.Context, paths <-chan string, onResult func(FileResult)) DirStats {
	var stats DirStats
	for {
		select {
		case <-ctx.Done():
			return stats
		case p, ok := <-paths:
			if !ok {
				return stats
			}
			stats.Scanned++
			stats.Matched++
			res := f.SubmitPath(ctx, p)
			stats.add(res)
			if onResult != nil {
				onResult(res)
			}
		}
	}
}

func (s *DirStats) add(r FileResult) {
	switch {
	case r.Err != "":
		s.Failed++
	case r.Deduplicated:
		s.Succeeded++
		s.Deduplicated++
	default:
		s.Succeeded++
	}
}

func hashFile(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer fh.Close()
	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
