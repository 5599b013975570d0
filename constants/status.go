package constants

import "strings"

// JobStatus is the canonical status of a podcast job as reported by the backend.
type JobStatus string

// Stable values (exact strings on the wire).
const (
	JobStatusPending    JobStatus = "pending"    // registered, not picked up yet
	JobStatusProcessing JobStatus = "processing" // in progress
	JobStatusComplete   JobStatus = "complete"   // terminal, result available
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

var allStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusComplete,
	JobStatusFailed,
}

// ParseJobStatus maps a wire value onto a known status.
func ParseJobStatus(s string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == normalized {
			return st, true
		}
	}
	return "", false
}

// StatusStrings returns the wire values in lifecycle order.
func StatusStrings() []string {
	out := make([]string, len(allStatuses))
	for i, st := range allStatuses {
		out[i] = string(st)
	}
	return out
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusComplete, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// IsOutstanding reports whether a job in this status still needs polling.
func (s JobStatus) IsOutstanding() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Rank orders statuses along the lifecycle. Both terminal states share the top rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusComplete, JobStatusFailed:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next is a valid forward transition.
// Same-status moves are not transitions; nothing leaves a terminal state.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if !next.Valid() || s.IsTerminal() || s == next {
		return false
	}
	return next.Rank() > s.Rank()
}
