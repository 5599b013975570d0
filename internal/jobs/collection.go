// Package jobs holds the client-side Job Collection shared by the upload
// orchestrator (which only adds) and the reconciliation loop (which only
// replaces by identity).
package jobs

import (
	"errors"
	"sync"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

var ErrDuplicateJob = errors.New("job already tracked")

// Transition records one accepted whole-record replacement.
type Transition struct {
	From constants.JobStatus
	To   constants.JobStatus
	Job  entity.Job
}

// Rejected explains why an update was not applied.
type Rejected struct {
	ID     entity.JobID
	Reason error
}

var (
	ErrUnknownJob   = errors.New("job not tracked")
	ErrNotForward   = errors.New("status does not advance")
	ErrInvalidState = errors.New("record violates job invariants")
)

// Collection is an ordered set of jobs keyed by identity, newest first.
// Records are values; callers never see a pointer into the collection.
type Collection struct {
	mu      sync.RWMutex
	order   []entity.JobID
	byID    map[entity.JobID]entity.Job
	changed chan struct{}
}

func NewCollection() *Collection {
	return &Collection{
		byID:    make(map[entity.JobID]entity.Job),
		changed: make(chan struct{}),
	}
}

// Add prepends a freshly registered job.
func (c *Collection) Add(job entity.Job) error {
	if err := job.Validate(); err != nil {
		return errors.Join(ErrInvalidState, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[job.ID]; ok {
		return ErrDuplicateJob
	}
	c.byID[job.ID] = job
	c.order = append([]entity.JobID{job.ID}, c.order...)
	c.broadcastLocked()
	return nil
}

// Seed appends already-known jobs (library listing, journal) in the given
// order. Ids already tracked are left untouched. Returns how many were added.
func (c *Collection) Seed(list []entity.Job) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, job := range list {
		if job.Validate() != nil {
			continue
		}
		if _, ok := c.byID[job.ID]; ok {
			continue
		}
		c.byID[job.ID] = job
		c.order = append(c.order, job.ID)
		added++
	}
	if added > 0 {
		c.broadcastLocked()
	}
	return added
}

// Apply folds a batch of fetched records into the collection in one step.
// A record replaces the tracked one only when its status moves strictly
// forward; terminal records are never replaced. CreatedAt is kept from the
// tracked record.
func (c *Collection) Apply(updates []entity.Job) ([]Transition, []Rejected) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		transitions []Transition
		rejected    []Rejected
	)
	for _, next := range updates {
		cur, ok := c.byID[next.ID]
		if !ok {
			rejected = append(rejected, Rejected{ID: next.ID, Reason: ErrUnknownJob})
			continue
		}
		if err := next.Validate(); err != nil {
			rejected = append(rejected, Rejected{ID: next.ID, Reason: errors.Join(ErrInvalidState, err)})
			continue
		}
		if !cur.Status.CanAdvanceTo(next.Status) {
			if cur.Status != next.Status {
				rejected = append(rejected, Rejected{ID: next.ID, Reason: ErrNotForward})
			}
			continue
		}
		if !cur.CreatedAt.IsZero() {
			next.CreatedAt = cur.CreatedAt
		}
		c.byID[next.ID] = next
		transitions = append(transitions, Transition{From: cur.Status, To: next.Status, Job: next})
	}
	if len(transitions) > 0 {
		c.broadcastLocked()
	}
	return transitions, rejected
}

func (c *Collection) Get(id entity.JobID) (entity.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.byID[id]
	return job, ok
}

// Snapshot returns every job, newest first.
func (c *Collection) Snapshot() []entity.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]entity.Job, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Outstanding returns the jobs still in pending or processing.
func (c *Collection) Outstanding() []entity.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []entity.Job
	for _, id := range c.order {
		if job := c.byID[id]; job.Status.IsOutstanding() {
			out = append(out, job)
		}
	}
	return out
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Changed returns a channel closed on the next mutation.
func (c *Collection) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

func (c *Collection) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
