package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

func job(id string, st constants.JobStatus) entity.Job {
	j := entity.Job{ID: entity.JobID(id), Status: st, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if st == constants.JobStatusComplete {
		j.FinalPodcastURL = entity.StringPtr("https://cdn/" + id + ".mp3")
	}
	return j
}

func ids(list []entity.Job) []entity.JobID {
	out := make([]entity.JobID, 0, len(list))
	for _, j := range list {
		out = append(out, j.ID)
	}
	return out
}

func TestAddPrependsAndRejectsDuplicates(t *testing.T) {
	c := NewCollection()
	for _, id := range []string{"1", "2", "3"} {
		if err := c.Add(job(id, constants.JobStatusPending)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if diff := cmp.Diff([]entity.JobID{"3", "2", "1"}, ids(c.Snapshot())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if err := c.Add(job("2", constants.JobStatusPending)); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestAddRejectsInvalidRecord(t *testing.T) {
	c := NewCollection()
	if err := c.Add(entity.Job{ID: "1", Status: constants.JobStatusComplete}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("invalid job must not be added")
	}
}

func TestSeedKeepsExisting(t *testing.T) {
	c := NewCollection()
	_ = c.Add(job("1", constants.JobStatusProcessing))
	n := c.Seed([]entity.Job{job("1", constants.JobStatusPending), job("2", constants.JobStatusFailed)})
	if n != 1 {
		t.Fatalf("seeded %d, want 1", n)
	}
	got, _ := c.Get("1")
	if got.Status != constants.JobStatusProcessing {
		t.Fatalf("seed overwrote tracked job: %s", got.Status)
	}
	if diff := cmp.Diff([]entity.JobID{"1", "2"}, ids(c.Snapshot())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyForwardOnly(t *testing.T) {
	c := NewCollection()
	_ = c.Add(job("7", constants.JobStatusProcessing))
	_ = c.Add(job("8", constants.JobStatusPending))
	_ = c.Add(job("9", constants.JobStatusFailed))

	done := job("7", constants.JobStatusComplete)
	done.CreatedAt = time.Time{}
	trs, rej := c.Apply([]entity.Job{
		done,
		job("8", constants.JobStatusPending),    // no change
		job("9", constants.JobStatusProcessing), // terminal is absorbing
		job("404", constants.JobStatusComplete), // unknown
	})
	if len(trs) != 1 || trs[0].Job.ID != "7" || trs[0].From != constants.JobStatusProcessing || trs[0].To != constants.JobStatusComplete {
		t.Fatalf("unexpected transitions %+v", trs)
	}
	got, _ := c.Get("7")
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at must be preserved")
	}
	if got.ResultURL() != "https://cdn/7.mp3" {
		t.Fatalf("record not replaced: %+v", got)
	}
	if len(rej) != 2 {
		t.Fatalf("expected 2 rejections, got %+v", rej)
	}
	reasons := map[entity.JobID]error{}
	for _, r := range rej {
		reasons[r.ID] = r.Reason
	}
	if !errors.Is(reasons["9"], ErrNotForward) || !errors.Is(reasons["404"], ErrUnknownJob) {
		t.Fatalf("unexpected reasons %+v", reasons)
	}
}

func TestApplyRejectsCompleteWithoutResult(t *testing.T) {
	c := NewCollection()
	_ = c.Add(job("1", constants.JobStatusProcessing))
	_, rej := c.Apply([]entity.Job{{ID: "1", Status: constants.JobStatusComplete}})
	if len(rej) != 1 || !errors.Is(rej[0].Reason, entity.ErrCompleteNoMedia) {
		t.Fatalf("expected invariant rejection, got %+v", rej)
	}
	got, _ := c.Get("1")
	if got.Status != constants.JobStatusProcessing {
		t.Fatalf("status changed to %s", got.Status)
	}
}

func TestApplyTerminalIsAbsorbingAcrossBatches(t *testing.T) {
	c := NewCollection()
	_ = c.Add(job("1", constants.JobStatusPending))
	first, _ := c.Apply([]entity.Job{job("1", constants.JobStatusComplete)})
	second, _ := c.Apply([]entity.Job{job("1", constants.JobStatusComplete), job("1", constants.JobStatusFailed)})
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("terminal transition must happen once: first=%d second=%d", len(first), len(second))
	}
}

func TestOutstandingAndChanged(t *testing.T) {
	c := NewCollection()
	ch := c.Changed()
	_ = c.Add(job("1", constants.JobStatusPending))
	select {
	case <-ch:
	default:
		t.Fatal("changed channel not closed after add")
	}
	_ = c.Add(job("2", constants.JobStatusComplete))
	_ = c.Add(job("3", constants.JobStatusProcessing))
	if diff := cmp.Diff([]entity.JobID{"3", "1"}, ids(c.Outstanding())); diff != "" {
		t.Fatalf("outstanding mismatch (-want +got):\n%s", diff)
	}

	ch = c.Changed()
	c.Apply([]entity.Job{job("1", constants.JobStatusPending)})
	select {
	case <-ch:
		t.Fatal("no-op apply must not broadcast")
	default:
	}
}
