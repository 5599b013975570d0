// Package upload turns a local document into exactly one registered job:
// validate, acquire upload credentials, transfer, register.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/jobs"
	"github.com/joseph-ayodele/podcast-tracker/internal/session"
)

// MaxRequirementsLength matches the job service's limit on free-text requirements.
const MaxRequirementsLength = 2000

var ErrUploadInFlight = errors.New("an upload is already in progress")

// Backend is the part of the job service the orchestrator drives.
type Backend interface {
	SignUpload(ctx context.Context, token, filename string) (backend.UploadTicket, error)
	Transfer(ctx context.Context, ticket backend.UploadTicket, filename, contentType string, body io.Reader) error
	CreateJob(ctx context.Context, token string, req backend.CreateJobRequest) (entity.Job, error)
}

// Input is one document to submit.
type Input struct {
	Filename string
	// ContentType is the declared type; it is checked against the allow list as given.
	ContentType  string
	Size         int64
	Body         io.Reader
	Requirements string
}

type Orchestrator struct {
	backend    Backend
	tokens     session.TokenSource
	collection *jobs.Collection
	logger     *slog.Logger

	maxBytes int64
	allowed  map[string]struct{}
	progress func(Stage)

	inFlight atomic.Bool
}

type Option func(*Orchestrator)

func WithMaxBytes(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

func WithAllowedTypes(types map[string]struct{}) Option {
	return func(o *Orchestrator) {
		if len(types) > 0 {
			o.allowed = types
		}
	}
}

// WithProgress receives each stage as it starts and StageIdle when the attempt ends.
func WithProgress(fn func(Stage)) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

func NewOrchestrator(b Backend, tokens session.TokenSource, collection *jobs.Collection, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		backend:    b,
		tokens:     tokens,
		collection: collection,
		logger:     logger,
		maxBytes:   constants.DefaultMaxUploadBytes,
		allowed:    constants.AllowedContentTypes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a submission is in flight.
func (o *Orchestrator) Busy() bool { return o.inFlight.Load() }

// Submit runs the four stages in order. On success the registered job is
// already in the collection; on any failure no job exists.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (entity.Job, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return entity.Job{}, ErrUploadInFlight
	}
	defer o.inFlight.Store(false)
	defer o.report(StageIdle)

	ctx, reqID := common.EnsureRequestID(ctx)
	log := o.logger.With("req_id", reqID, "filename", in.Filename)

	if err := o.validate(in); err != nil {
		log.Info("upload.validation_failed", "error", err)
		return entity.Job{}, err
	}

	start := time.Now()

	o.report(StageSigning)
	token, err := o.tokens.Token(ctx)
	if err != nil {
		log.Warn("upload.token_unavailable", "error", err)
		return entity.Job{}, stageError(common.CodeCredentialAcquisition, "Could not get an upload link", err)
	}
	ticket, err := o.backend.SignUpload(ctx, token, in.Filename)
	if err != nil {
		log.Error("upload.sign_failed", "error", err)
		return entity.Job{}, stageError(common.CodeCredentialAcquisition, "Could not get an upload link", err)
	}

	o.report(StageUploading)
	body := &limitedBody{r: in.Body, left: o.maxBytes}
	if err := o.backend.Transfer(ctx, ticket, in.Filename, in.ContentType, body); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			log.Info("upload.body_too_large", "declared", in.Size, "limit", o.maxBytes)
			return entity.Job{}, common.NewAppError(common.CodeValidation,
				fmt.Sprintf("The file is larger than the %s limit", humanize.IBytes(uint64(o.maxBytes))), err)
		}
		log.Error("upload.transfer_failed", "error", err)
		return entity.Job{}, stageError(common.CodeTransfer, "Upload failed, please try again", err)
	}
	log.Info("upload.transferred", "size", in.Size, "elapsed_ms", time.Since(start).Milliseconds())

	o.report(StageRegistering)
	// The token may have rotated while the payload was in transit.
	token, err = o.tokens.Token(ctx)
	if err != nil {
		log.Warn("upload.token_unavailable", "error", err)
		return entity.Job{}, stageError(common.CodeRegistration, "Could not create the job", err)
	}
	job, err := o.backend.CreateJob(ctx, token, backend.CreateJobRequest{
		OriginalFileURL: ticket.SourceURL(),
		Requirements:    requirements(in.Requirements),
	})
	if err != nil {
		log.Error("upload.register_failed", "error", err)
		return entity.Job{}, stageError(common.CodeRegistration, "Could not create the job", err)
	}
	// Creation responses may omit the source reference; it is the blob just written.
	if job.OriginalFileURL == nil {
		job.OriginalFileURL = entity.StringPtr(ticket.SourceURL())
	}

	if err := o.collection.Add(job); err != nil {
		if !errors.Is(err, jobs.ErrDuplicateJob) {
			log.Error("upload.track_failed", "job_id", job.ID, "error", err)
			return entity.Job{}, stageError(common.CodeRegistration, "Could not create the job", err)
		}
		log.Warn("upload.already_tracked", "job_id", job.ID)
	}
	log.Info("upload.registered", "job_id", job.ID, "status", job.Status, "elapsed_ms", time.Since(start).Milliseconds())
	return job, nil
}

func (o *Orchestrator) validate(in Input) error {
	v := common.NewValidator()
	v.Field("filename", in.Filename, common.Required)
	v.Field("content_type", constants.NormalizeContentType(in.ContentType),
		common.OneOf(o.allowed, "Only PDF documents can be converted"))
	v.Field("size", in.Size,
		common.Positive("The file is empty"),
		common.AtMost(o.maxBytes, fmt.Sprintf("The file is %s; the limit is %s", humanize.IBytes(uint64(max(in.Size, 0))), humanize.IBytes(uint64(o.maxBytes)))))
	v.Field("requirements", strings.TrimSpace(in.Requirements), common.MaxLength(MaxRequirementsLength))
	if in.Body == nil {
		v.Field("file", nil, common.Required)
	}
	return v.Err()
}

func (o *Orchestrator) report(s Stage) {
	if o.progress != nil {
		o.progress(s)
	}
}

func requirements(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// stageError classifies a collaborator failure under the stage's code and
// keeps the HTTP status so callers can tell rate limiting from rejection.
func stageError(code, message string, err error) error {
	var he *backend.HTTPError
	if !errors.As(err, &he) {
		if errors.Is(err, common.ErrUnauthorized) {
			message = "Session expired, please sign in again"
		}
		return common.NewAppError(code, message, err)
	}
	msg := message
	switch he.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if code != common.CodeTransfer {
			msg = "Session expired, please sign in again"
		} else {
			msg = "Upload link was rejected, please try again"
		}
	case http.StatusTooManyRequests, http.StatusPaymentRequired, http.StatusServiceUnavailable:
		if d := he.Detail(); d != "" {
			msg = d
		}
	}
	return common.NewAppError(code, msg, err).WithStatus(he.StatusCode, he.RetryAfter)
}

var errBodyTooLarge = errors.New("file body exceeds the upload limit")

// limitedBody fails the read that would take the body past left bytes.
type limitedBody struct {
	r    io.Reader
	left int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.left {
		n = int(l.left)
		l.left = 0
		return n, errBodyTooLarge
	}
	l.left -= int64(n)
	return n, err
}
