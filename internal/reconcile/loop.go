// Package reconcile keeps tracked jobs in step with the job service by
// polling every outstanding job on a fixed period.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/session"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultConcurrency = 8
)

// Fetcher reads the current record of one job.
type Fetcher interface {
	FetchJob(ctx context.Context, token string, id entity.JobID) (entity.Job, error)
}

// TickReport summarizes one pass.
type TickReport struct {
	Started     time.Time
	Elapsed     time.Duration
	Outstanding int
	Fetched     int
	Failed      int
	Transitions []jobs.Transition
	// Discarded is set when the loop was stopped before the fold.
	Discarded bool
	// Err is set when the pass could not start (no token).
	Err error
}

type Loop struct {
	fetcher    Fetcher
	tokens     session.TokenSource
	collection *jobs.Collection
	logger     *slog.Logger

	interval     time.Duration
	concurrency  int
	notifier     Notifier
	tickHook     func(TickReport)
	onTransition func([]jobs.Transition)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

type Option func(*Loop)

func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithConcurrency bounds the fetches in flight within one tick.
func WithConcurrency(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(l *Loop) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithTickHook is called after every timer-driven or manual tick.
func WithTickHook(fn func(TickReport)) Option {
	return func(l *Loop) { l.tickHook = fn }
}

// WithTransitionHook is called with every non-empty batch of accepted
// replacements, whether it came from polling or from Apply.
func WithTransitionHook(fn func([]jobs.Transition)) Option {
	return func(l *Loop) { l.onTransition = fn }
}

func NewLoop(fetcher Fetcher, tokens session.TokenSource, collection *jobs.Collection, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		fetcher:     fetcher,
		tokens:      tokens,
		collection:  collection,
		logger:      logger,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = LogNotifier{Logger: logger}
	}
	return l
}

func (l *Loop) Interval() time.Duration { return l.interval }

// Start runs a tick immediately and then once per interval until ctx is
// done or Stop is called. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.stopped.Load() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.spawnTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.spawnTick(ctx)
			}
		}
	}()
	l.logger.Info("reconcile loop started", "interval", l.interval, "concurrency", l.concurrency)
}

// Each tick gets its own goroutine so a slow collaborator never delays the next period.
func (l *Loop) spawnTick(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Tick(ctx)
	}()
}

// Stop cancels the timer and in-flight fetches and waits for them to
// return. Responses that arrive afterwards are discarded.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	wasRunning := l.running
	l.running = false
	l.mu.Unlock()
	// A tick may be blocked handing a notification to a reader that has gone away.
	if c, ok := l.notifier.(closer); ok {
		c.Close()
	}
	l.wg.Wait()
	if wasRunning {
		l.logger.Info("reconcile loop stopped")
	}
}

// Tick runs one pass: fetch every outstanding job concurrently, then fold
// all settled responses into the collection at once.
func (l *Loop) Tick(ctx context.Context) TickReport {
	rep := TickReport{Started: time.Now()}
	defer func() {
		rep.Elapsed = time.Since(rep.Started)
		if l.tickHook != nil {
			l.tickHook(rep)
		}
	}()

	if l.stopped.Load() {
		rep.Discarded = true
		return rep
	}

	outstanding := l.collection.Outstanding()
	rep.Outstanding = len(outstanding)
	if len(outstanding) == 0 {
		return rep
	}

	token, err := l.tokens.Token(ctx)
	if err != nil {
		rep.Err = err
		l.logger.Warn("poll.token_unavailable", "outstanding", len(outstanding), "error", err)
		return rep
	}

	fetched := make([]*entity.Job, len(outstanding))
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, job := range outstanding {
		g.Go(func() error {
			got, err := l.fetch(ctx, token, job.ID)
			if err != nil {
				l.logger.Warn("poll.fetch_failed", "job_id", job.ID, "status", job.Status, "error", err)
				return nil
			}
			fetched[i] = &got
			return nil
		})
	}
	_ = g.Wait()

	updates := make([]entity.Job, 0, len(fetched))
	for _, j := range fetched {
		if j == nil {
			rep.Failed++
			continue
		}
		updates = append(updates, *j)
	}
	rep.Fetched = len(updates)

	if ctx.Err() != nil || l.stopped.Load() {
		rep.Discarded = true
		return rep
	}
	rep.Transitions = l.Apply(updates)
	l.logger.Debug("poll.tick",
		"outstanding", rep.Outstanding,
		"fetched", rep.Fetched,
		"failed", rep.Failed,
		"transitions", len(rep.Transitions),
		"elapsed_ms", time.Since(rep.Started).Milliseconds(),
	)
	return rep
}

func (l *Loop) fetch(ctx context.Context, token string, id entity.JobID) (entity.Job, error) {
	got, err := l.fetcher.FetchJob(ctx, token, id)
	if err != nil {
		return entity.Job{}, common.NewAppError(common.CodePoll, "Could not refresh job status", err)
	}
	if got.ID != id {
		return entity.Job{}, common.NewAppError(common.CodePoll, "Could not refresh job status",
			fmt.Errorf("asked for job %s, got %s", id, got.ID))
	}
	return got, nil
}

// Apply folds records into the collection, then notifies for each terminal
// transition. A stopped loop ignores the call.
func (l *Loop) Apply(updates []entity.Job) []jobs.Transition {
	if l.stopped.Load() || len(updates) == 0 {
		return nil
	}
	transitions, rejected := l.collection.Apply(updates)
	for _, r := range rejected {
		switch {
		case errors.Is(r.Reason, jobs.ErrNotForward):
			l.logger.Debug("poll.stale_discarded", "job_id", r.ID)
		case errors.Is(r.Reason, jobs.ErrUnknownJob):
			l.logger.Debug("poll.untracked_discarded", "job_id", r.ID)
		default:
			l.logger.Warn("poll.record_rejected", "job_id", r.ID, "error", r.Reason)
		}
	}
	for _, tr := range transitions {
		l.logger.Info("job status changed", "job_id", tr.Job.ID, "from", tr.From, "to", tr.To)
		switch tr.To {
		case constants.JobStatusComplete:
			l.notifier.JobReady(tr.Job)
		case constants.JobStatusFailed:
			l.notifier.JobFailed(tr.Job)
		}
	}
	if len(transitions) > 0 && l.onTransition != nil {
		l.onTransition(transitions)
	}
	return transitions
}
