package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/podcast-tracker/constants"
)

// JobID is the server-assigned, opaque identity of a job.
type JobID string

func (id JobID) String() string { return string(id) }

// Job represents a podcast job for data transfer between layers.
type Job struct {
	ID              JobID               `json:"id"`
	Status          constants.JobStatus `json:"status"`
	OriginalFileURL *string             `json:"original_file_url"`
	FinalPodcastURL *string             `json:"final_podcast_url"`
	CreatedAt       time.Time           `json:"created_at"`
	Title           *string             `json:"title,omitempty"`
	Duration        int                 `json:"duration,omitempty"`
}

var (
	ErrMissingID       = errors.New("job id is empty")
	ErrUnknownStatus   = errors.New("job status is unknown")
	ErrCompleteNoMedia = errors.New("complete job has no result url")
)

// Validate checks the record-level invariants.
func (j Job) Validate() error {
	if j.ID == "" {
		return ErrMissingID
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, j.Status)
	}
	if j.Status == constants.JobStatusComplete && (j.FinalPodcastURL == nil || *j.FinalPodcastURL == "") {
		return ErrCompleteNoMedia
	}
	return nil
}

// DisplayTitle falls back to the id when the backend has not named the job yet.
func (j Job) DisplayTitle() string {
	if j.Title != nil && *j.Title != "" {
		return *j.Title
	}
	return "Podcast #" + string(j.ID)
}

// SourceURL returns the uploaded input locator or "".
func (j Job) SourceURL() string {
	if j.OriginalFileURL == nil {
		return ""
	}
	return *j.OriginalFileURL
}

// ResultURL returns the produced audio locator or "".
func (j Job) ResultURL() string {
	if j.FinalPodcastURL == nil {
		return ""
	}
	return *j.FinalPodcastURL
}

// StringPtr is a small helper for optional fields.
func StringPtr(s string) *string { return &s }
