package repository

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

const jobsTable = "jobs"

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

var jobColumns = []string{"id", "status", "original_file_url", "final_podcast_url", "created_at", "title", "duration", "updated_at"}

const createJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	original_file_url TEXT NULL,
	final_podcast_url TEXT NULL,
	created_at TEXT NOT NULL,
	title TEXT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
)`

const createStatusIndex = `CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`

// Journal is the local record of every job this client has tracked, so a
// restarted watcher can resume polling where it left off.
type Journal struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewJournal(db *DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}
}

func (j *Journal) builder() *entsql.DialectBuilder { return entsql.Dialect(j.db.dialect) }

// Migrate creates the schema when missing.
func (j *Journal) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createJobsTable, createStatusIndex} {
		if err := j.db.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	j.logger.Debug("journal migrated", "dialect", j.db.dialect)
	return nil
}

// Upsert records jobs. A stored row only moves forward: terminal rows are
// never overwritten and a stale status never replaces a newer one. Returns
// how many rows were written.
func (j *Journal) Upsert(ctx context.Context, jobs ...entity.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := j.db.drv.Tx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	written := 0
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			_ = tx.Rollback()
			return 0, common.WrapError(err, fmt.Sprintf("journal job %s", job.ID))
		}
		cur, found, err := j.get(ctx, tx, job.ID)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if found {
			if cur.Status.IsTerminal() {
				continue
			}
			if cur.Status != job.Status && !cur.Status.CanAdvanceTo(job.Status) {
				continue
			}
			job.CreatedAt = cur.CreatedAt
		}
		if err := j.write(ctx, tx, job); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func (j *Journal) write(ctx context.Context, tx dialect.ExecQuerier, job entity.Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = j.now()
	}
	q, args := j.builder().Insert(jobsTable).
		Columns(jobColumns...).
		Values(
			string(job.ID),
			string(job.Status),
			nullString(job.OriginalFileURL),
			nullString(job.FinalPodcastURL),
			created.UTC().Format(timeLayout),
			nullString(job.Title),
			job.Duration,
			j.now().UTC().Format(timeLayout),
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns one job or common.ErrNotFound.
func (j *Journal) Get(ctx context.Context, id entity.JobID) (entity.Job, error) {
	job, found, err := j.get(ctx, j.db.drv, id)
	if err != nil {
		return entity.Job{}, err
	}
	if !found {
		return entity.Job{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return job, nil
}

func (j *Journal) get(ctx context.Context, q dialect.ExecQuerier, id entity.JobID) (entity.Job, bool, error) {
	sel := j.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", string(id)))
	list, err := j.query(ctx, q, sel)
	if err != nil {
		return entity.Job{}, false, err
	}
	if len(list) == 0 {
		return entity.Job{}, false, nil
	}
	return list[0], true, nil
}

// List returns every journaled job, newest first.
func (j *Journal) List(ctx context.Context) ([]entity.Job, error) {
	sel := j.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	return j.query(ctx, j.db.drv, sel)
}

// ListOutstanding returns journaled jobs that are still pending or processing.
func (j *Journal) ListOutstanding(ctx context.Context) ([]entity.Job, error) {
	sel := j.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.In("status", string(constants.JobStatusPending), string(constants.JobStatusProcessing))).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	return j.query(ctx, j.db.drv, sel)
}

func (j *Journal) query(ctx context.Context, q dialect.ExecQuerier, sel *entsql.Selector) ([]entity.Job, error) {
	query, args := sel.Query()
	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []entity.Job
	for rows.Next() {
		var (
			id, status, createdAt, updatedAt string
			source, result, title            stdsql.NullString
			duration                         int64
		)
		if err := rows.Scan(&id, &status, &source, &result, &createdAt, &title, &duration, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		created, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("job %s created_at: %w", id, err)
		}
		out = append(out, entity.Job{
			ID:              entity.JobID(id),
			Status:          constants.JobStatus(status),
			OriginalFileURL: fromNull(source),
			FinalPodcastURL: fromNull(result),
			CreatedAt:       created,
			Title:           fromNull(title),
			Duration:        int(duration),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (j *Journal) HealthCheck(ctx context.Context) error {
	return j.db.HealthCheck(ctx, 2*time.Second)
}

func (j *Journal) Close() { j.db.Close() }

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(ns stdsql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
