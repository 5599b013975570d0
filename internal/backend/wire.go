package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// Record is a job as the job service serializes it.
type Record struct {
	ID              json.RawMessage `json:"id"`
	Status          string          `json:"status"`
	OriginalFileURL *string         `json:"original_file_url"`
	FinalPodcastURL *string         `json:"final_podcast_url"`
	CreatedAt       string          `json:"created_at"`
	Title           *string         `json:"title"`
	Duration        *int            `json:"duration"`
}

var ErrMalformedRecord = errors.New("malformed job record")

// created_at is emitted with or without an offset and with variable precision.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: created_at %q", ErrMalformedRecord, s)
}

// parseID accepts a JSON number or string id and returns its canonical text.
func parseID(raw json.RawMessage) (entity.JobID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: id: %v", ErrMalformedRecord, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("%w: empty id", ErrMalformedRecord)
		}
		return entity.JobID(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id: %v", ErrMalformedRecord, err)
	}
	return entity.JobID(n.String()), nil
}

// ToEntity converts the wire record into the client-side model.
func (r Record) ToEntity() (entity.Job, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return entity.Job{}, err
	}
	st, ok := constants.ParseJobStatus(r.Status)
	if !ok {
		return entity.Job{}, fmt.Errorf("%w: status %q", ErrMalformedRecord, r.Status)
	}
	// Creation responses may omit the timestamp; the client stamps it then.
	created := time.Now().UTC()
	if strings.TrimSpace(r.CreatedAt) != "" {
		created, err = parseCreatedAt(r.CreatedAt)
		if err != nil {
			return entity.Job{}, err
		}
	}
	job := entity.Job{
		ID:              id,
		Status:          st,
		OriginalFileURL: nonEmpty(r.OriginalFileURL),
		FinalPodcastURL: nonEmpty(r.FinalPodcastURL),
		CreatedAt:       created,
		Title:           nonEmpty(r.Title),
	}
	if r.Duration != nil {
		job.Duration = *r.Duration
	}
	if err := job.Validate(); err != nil {
		return entity.Job{}, errors.Join(ErrMalformedRecord, err)
	}
	return job, nil
}

// FromEntity renders a job in wire form; used by the dev backend and push publishers.
func FromEntity(j entity.Job) Record {
	id, _ := json.Marshal(string(j.ID))
	d := j.Duration
	return Record{
		ID:              id,
		Status:          string(j.Status),
		OriginalFileURL: j.OriginalFileURL,
		FinalPodcastURL: j.FinalPodcastURL,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339Nano),
		Title:           j.Title,
		Duration:        &d,
	}
}

// DecodeRecord validates raw JSON against the record schema and converts it.
func DecodeRecord(data []byte) (entity.Job, error) {
	if err := ValidateJobRecord(data); err != nil {
		return entity.Job{}, errors.Join(ErrMalformedRecord, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return entity.Job{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return r.ToEntity()
}

// DecodeRecords decodes a JSON array of records. Each element is checked on
// its own; the first bad element fails the whole list.
func DecodeRecords(data []byte) ([]entity.Job, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: expected array: %v", ErrMalformedRecord, err)
	}
	out := make([]entity.Job, 0, len(raws))
	for i, raw := range raws {
		job, err := DecodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, job)
	}
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
