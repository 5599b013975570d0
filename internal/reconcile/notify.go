package reconcile

import (
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// Notifier is told once per job about its terminal transition.
type Notifier interface {
	JobReady(job entity.Job)
	JobFailed(job entity.Job)
}

type NotificationKind string

const (
	NotifyReady  NotificationKind = "ready"
	NotifyFailed NotificationKind = "failed"
)

type Notification struct {
	Kind NotificationKind
	Job  entity.Job
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) JobReady(job entity.Job) {
	n.logger().Info("Your podcast is ready", "job_id", job.ID, "title", job.DisplayTitle(), "result_url", job.ResultURL())
}

func (n LogNotifier) JobFailed(job entity.Job) {
	n.logger().Warn("Podcast generation failed", "job_id", job.ID, "title", job.DisplayTitle())
}

// ChanNotifier delivers notifications on a channel. Sends block when the
// buffer is full so none are lost, until Close; after that they are dropped.
type ChanNotifier struct {
	ch   chan Notification
	done chan struct{}
	once sync.Once
}

func NewChanNotifier(buffer int) *ChanNotifier {
	return &ChanNotifier{ch: make(chan Notification, buffer), done: make(chan struct{})}
}

func (n *ChanNotifier) C() <-chan Notification { return n.ch }

func (n *ChanNotifier) JobReady(job entity.Job) {
	n.send(Notification{Kind: NotifyReady, Job: job})
}

func (n *ChanNotifier) JobFailed(job entity.Job) {
	n.send(Notification{Kind: NotifyFailed, Job: job})
}

func (n *ChanNotifier) send(note Notification) {
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.ch <- note:
	case <-n.done:
	}
}

// Close releases blocked senders. Loop.Stop calls it.
func (n *ChanNotifier) Close() {
	n.once.Do(func() { close(n.done) })
}

// MultiNotifier fans out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) JobReady(job entity.Job) {
	for _, n := range m {
		n.JobReady(job)
	}
}

func (m MultiNotifier) JobFailed(job entity.Job) {
	for _, n := range m {
		n.JobFailed(job)
	}
}

func (m MultiNotifier) Close() {
	for _, n := range m {
		if c, ok := n.(closer); ok {
			c.Close()
		}
	}
}

type closer interface{ Close() }
