package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/session"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	signErr     error
	transferErr error
	createErr   error

	gotTransfer []byte
	gotCreate   backend.CreateJobRequest
	gotTokens   []string

	// block, when set, holds Transfer until closed.
	block chan struct{}
	// bareRecord makes CreateJob answer with only id and status.
	bareRecord bool
}

func (f *fakeBackend) record(call, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if token != "" {
		f.gotTokens = append(f.gotTokens, token)
	}
}

func (f *fakeBackend) SignUpload(_ context.Context, token, filename string) (backend.UploadTicket, error) {
	f.record("sign", token)
	if f.signErr != nil {
		return backend.UploadTicket{}, f.signErr
	}
	return backend.UploadTicket{URL: "https://s3/", Fields: map[string]string{"key": "xabc.pdf"}}, nil
}

func (f *fakeBackend) Transfer(_ context.Context, ticket backend.UploadTicket, filename, contentType string, body io.Reader) error {
	f.record("transfer", "")
	if f.block != nil {
		<-f.block
	}
	if f.transferErr != nil {
		return f.transferErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.gotTransfer = b
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) CreateJob(_ context.Context, token string, req backend.CreateJobRequest) (entity.Job, error) {
	f.record("create", token)
	if f.createErr != nil {
		return entity.Job{}, f.createErr
	}
	f.mu.Lock()
	f.gotCreate = req
	f.mu.Unlock()
	if f.bareRecord {
		return entity.Job{ID: "42", Status: constants.JobStatusPending, CreatedAt: time.Now().UTC()}, nil
	}
	return entity.Job{
		ID:              "42",
		Status:          constants.JobStatusPending,
		OriginalFileURL: entity.StringPtr(req.OriginalFileURL),
		CreatedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func pdfInput(size int) Input {
	return Input{
		Filename:    "a.pdf",
		ContentType: constants.ContentTypePDF,
		Size:        int64(size),
		Body:        bytes.NewReader(bytes.Repeat([]byte("x"), size)),
	}
}

// rotating hands out a new token on every call.
func rotating() session.TokenSource {
	var mu sync.Mutex
	n := 0
	return session.TokenFunc(func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "tok-" + string(rune('0'+n)), nil
	})
}

func TestSubmitRegistersExactlyOneJob(t *testing.T) {
	fb := &fakeBackend{}
	c := jobs.NewCollection()
	var stages []string
	o := NewOrchestrator(fb, rotating(), c, nil, WithProgress(func(s Stage) { stages = append(stages, s.String()) }))

	in := pdfInput(2 * 1024 * 1024)
	in.Requirements = "  keep it short  "
	job, err := o.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "42" || job.Status != constants.JobStatusPending || job.SourceURL() != "https://s3/xabc.pdf" {
		t.Fatalf("unexpected job %+v", job)
	}
	if c.Len() != 1 {
		t.Fatalf("collection has %d jobs, want 1", c.Len())
	}
	if got, ok := c.Get("42"); !ok || got.Status != constants.JobStatusPending {
		t.Fatalf("job not tracked as pending: %+v", got)
	}
	if len(fb.gotTransfer) != 2*1024*1024 {
		t.Fatalf("transferred %d bytes", len(fb.gotTransfer))
	}
	if fb.gotCreate.OriginalFileURL != "https://s3/xabc.pdf" || fb.gotCreate.Requirements == nil || *fb.gotCreate.Requirements != "keep it short" {
		t.Fatalf("unexpected create request %+v", fb.gotCreate)
	}
	if diff := cmp.Diff([]string{"sign", "transfer", "create"}, fb.calls); diff != "" {
		t.Fatalf("call order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"tok-1", "tok-2"}, fb.gotTokens); diff != "" {
		t.Fatalf("tokens must be fetched per call (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Getting upload link…", "Uploading…", "Creating job…", ""}, stages); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
}

func TestSubmitRejectsOversizeWithoutNetwork(t *testing.T) {
	fb := &fakeBackend{}
	c := jobs.NewCollection()
	o := NewOrchestrator(fb, rotating(), c, nil)

	_, err := o.Submit(context.Background(), pdfInput(15*1024*1024))
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if msg := common.UserMessage(err); !strings.Contains(msg, "15 MiB") || !strings.Contains(msg, "10 MiB") {
		t.Fatalf("message = %q", msg)
	}
	if len(fb.calls) != 0 || c.Len() != 0 {
		t.Fatalf("calls=%v jobs=%d", fb.calls, c.Len())
	}
}

func TestSubmitRejectsDisallowedType(t *testing.T) {
	fb := &fakeBackend{}
	o := NewOrchestrator(fb, rotating(), jobs.NewCollection(), nil)
	in := pdfInput(10)
	in.ContentType = "image/png"
	if _, err := o.Submit(context.Background(), in); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	in = pdfInput(10)
	in.Requirements = strings.Repeat("a", MaxRequirementsLength+1)
	if _, err := o.Submit(context.Background(), in); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error for long requirements, got %v", err)
	}
	if len(fb.calls) != 0 {
		t.Fatalf("unexpected calls %v", fb.calls)
	}
}

func TestSubmitFailuresLeaveNoJob(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		fb    *fakeBackend
		want  error
		calls []string
	}{
		{"credentials", &fakeBackend{signErr: boom}, common.ErrCredentialAcquisition, []string{"sign"}},
		{"transfer", &fakeBackend{transferErr: &backend.HTTPError{StatusCode: http.StatusForbidden}}, common.ErrTransfer, []string{"sign", "transfer"}},
		{"registration", &fakeBackend{createErr: boom}, common.ErrRegistration, []string{"sign", "transfer", "create"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := jobs.NewCollection()
			o := NewOrchestrator(tc.fb, rotating(), c, nil)
			_, err := o.Submit(context.Background(), pdfInput(1024))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if c.Len() != 0 {
				t.Fatalf("failure path produced %d jobs", c.Len())
			}
			if diff := cmp.Diff(tc.calls, tc.fb.calls); diff != "" {
				t.Fatalf("calls (-want +got):\n%s", diff)
			}
			if o.Busy() {
				t.Fatal("guard not released after failure")
			}
		})
	}
}

func TestRegistrationRateLimitSurfacesRetryAfter(t *testing.T) {
	fb := &fakeBackend{createErr: &backend.HTTPError{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail":"You have reached your podcast creation limit"}`,
		RetryAfter: time.Minute,
	}}
	o := NewOrchestrator(fb, rotating(), jobs.NewCollection(), nil)
	_, err := o.Submit(context.Background(), pdfInput(1024))

	var ae *common.AppError
	if !errors.As(err, &ae) || ae.Code != common.CodeRegistration {
		t.Fatalf("expected registration error, got %v", err)
	}
	if ae.Status != http.StatusTooManyRequests || ae.RetryAfter != time.Minute {
		t.Fatalf("unexpected %+v", ae)
	}
	if !common.IsRetryable(err) {
		t.Fatal("rate limit should be retryable")
	}
	if got := common.UserMessage(err); got != "You have reached your podcast creation limit (try again in 1m0s)" {
		t.Fatalf("message = %q", got)
	}
	if len(fb.calls) != 3 {
		t.Fatalf("registration must not be retried automatically: %v", fb.calls)
	}
}

func TestSubmitGuardRejectsConcurrentAttempt(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{})}
	c := jobs.NewCollection()
	o := NewOrchestrator(fb, rotating(), c, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), pdfInput(1024))
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !o.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first submit never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := o.Submit(context.Background(), pdfInput(1024)); !errors.Is(err, ErrUploadInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
	close(fb.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("jobs = %d, want 1", c.Len())
	}
}

func TestSubmitTokenFailureStopsBeforeRegistration(t *testing.T) {
	fb := &fakeBackend{}
	calls := 0
	tokens := session.TokenFunc(func(context.Context) (string, error) {
		calls++
		if calls > 1 {
			return "", common.NewAppError(common.CodeUnauthorized, "Session expired, please sign in again", common.ErrUnauthorized)
		}
		return "tok", nil
	})
	c := jobs.NewCollection()
	_, err := NewOrchestrator(fb, tokens, c, nil).Submit(context.Background(), pdfInput(10))
	if !errors.Is(err, common.ErrRegistration) || !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized registration error, got %v", err)
	}
	if got := common.UserMessage(err); got != "Session expired, please sign in again" {
		t.Fatalf("message = %q", got)
	}
	if c.Len() != 0 || len(fb.calls) != 2 {
		t.Fatalf("jobs=%d calls=%v", c.Len(), fb.calls)
	}
}

func TestSubmitWithoutSessionFailsAsCredentialAcquisition(t *testing.T) {
	fb := &fakeBackend{}
	c := jobs.NewCollection()
	_, err := NewOrchestrator(fb, session.StaticToken(""), c, nil).Submit(context.Background(), pdfInput(10))
	if !errors.Is(err, common.ErrCredentialAcquisition) {
		t.Fatalf("expected credential acquisition error, got %v", err)
	}
	var ae *common.AppError
	if !errors.As(err, &ae) || ae.Code != common.CodeCredentialAcquisition {
		t.Fatalf("outer error = %v", err)
	}
	if got := common.UserMessage(err); got != "Session expired, please sign in again" {
		t.Fatalf("message = %q", got)
	}
	if len(fb.calls) != 0 || c.Len() != 0 {
		t.Fatalf("calls=%v jobs=%d", fb.calls, c.Len())
	}
}

func TestSubmitTracksSourceWhenRecordOmitsIt(t *testing.T) {
	fb := &fakeBackend{bareRecord: true}
	c := jobs.NewCollection()
	job, err := NewOrchestrator(fb, rotating(), c, nil).Submit(context.Background(), pdfInput(10))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.SourceURL() != "https://s3/xabc.pdf" {
		t.Fatalf("returned source = %q", job.SourceURL())
	}
	got, ok := c.Get("42")
	if !ok || got.SourceURL() != "https://s3/xabc.pdf" {
		t.Fatalf("tracked job %+v", got)
	}
}

func TestSubmitStopsBodyLargerThanLimit(t *testing.T) {
	fb := &fakeBackend{}
	c := jobs.NewCollection()
	o := NewOrchestrator(fb, rotating(), c, nil, WithMaxBytes(1024))

	in := pdfInput(10)
	in.Body = bytes.NewReader(bytes.Repeat([]byte("x"), 4096))
	_, err := o.Submit(context.Background(), in)
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if diff := cmp.Diff([]string{"sign", "transfer"}, fb.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if c.Len() != 0 {
		t.Fatalf("jobs = %d, want 0", c.Len())
	}

	// A body exactly at the limit goes through.
	in = pdfInput(1024)
	if _, err := o.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit at limit: %v", err)
	}
	if len(fb.gotTransfer) != 1024 {
		t.Fatalf("transferred %d bytes", len(fb.gotTransfer))
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "Chapter 1.PDF")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7 body"), 0o600); err != nil {
		t.Fatal(err)
	}
	in, closer, err := OpenFile(pdf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closer.Close()
	if in.Filename != "Chapter 1.PDF" || in.ContentType != constants.ContentTypePDF || in.Size != 13 {
		t.Fatalf("unexpected input %+v", in)
	}

	noExt := filepath.Join(dir, "scan")
	if err := os.WriteFile(noExt, []byte("%PDF-1.4\n..."), 0o600); err != nil {
		t.Fatal(err)
	}
	in, closer, err = OpenFile(noExt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closer.Close()
	if in.ContentType != constants.ContentTypePDF {
		t.Fatalf("sniffed %q", in.ContentType)
	}
	b, _ := io.ReadAll(in.Body)
	if string(b) != "%PDF-1.4\n..." {
		t.Fatalf("body not rewound: %q", b)
	}

	if _, _, err := OpenFile(dir); err == nil {
		t.Fatal("directory must be rejected")
	}
}
