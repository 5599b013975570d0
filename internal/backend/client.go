// Package backend talks to the podcast job service and the blob store it
// hands out upload tickets for.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// UploadTicket is the pre-authorized upload destination returned by the
// credential issuer. Fields must be sent back verbatim.
type UploadTicket struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// SourceURL is the locator the uploaded object will have: url + fields.key.
func (t UploadTicket) SourceURL() string {
	return t.URL + t.Fields["key"]
}

// CreateJobRequest registers uploaded input as a new job.
type CreateJobRequest struct {
	OriginalFileURL string  `json:"original_file_url"`
	Requirements    *string `json:"requirements"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (45s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 45 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// SignUpload asks the credential issuer for an upload ticket.
func (c *Client) SignUpload(ctx context.Context, token, filename string) (UploadTicket, error) {
	raw, err := sendJSON(ctx, c.http, http.MethodPost, c.baseURL+"/uploads/sign-url/", token,
		map[string]string{"filename": filename}, c.logger)
	if err != nil {
		return UploadTicket{}, err
	}
	if err := ValidateUploadTicket(raw); err != nil {
		return UploadTicket{}, err
	}
	var t UploadTicket
	if err := json.Unmarshal(raw, &t); err != nil {
		return UploadTicket{}, fmt.Errorf("decode upload ticket: %w", err)
	}
	if _, err := url.ParseRequestURI(t.URL); err != nil {
		return UploadTicket{}, fmt.Errorf("upload ticket url: %w", err)
	}
	return t, nil
}

// Transfer posts body to the ticket's destination as multipart form data:
// every ticket field first, then the file part named "file". Any 2xx
// counts as success.
func (c *Client) Transfer(ctx context.Context, ticket UploadTicket, filename, contentType string, body io.Reader) error {
	// Blob stores reject chunked form posts, so the form is built in memory.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeForm(mw, ticket.Fields, filename, contentType, body); err != nil {
		return fmt.Errorf("build form: %w", err)
	}

	_, _, err := send(ctx, c.http, request{
		method:      http.MethodPost,
		url:         ticket.URL,
		body:        bytes.NewReader(buf.Bytes()),
		contentType: mw.FormDataContentType(),
		length:      buf.Len(),
	}, c.logger)
	return err
}

func writeForm(mw *multipart.Writer, fields map[string]string, filename, contentType string, body io.Reader) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

// CreateJob registers a job and returns the service's record for it.
func (c *Client) CreateJob(ctx context.Context, token string, req CreateJobRequest) (entity.Job, error) {
	raw, err := sendJSON(ctx, c.http, http.MethodPost, c.baseURL+"/podcasts/", token, req, c.logger)
	if err != nil {
		return entity.Job{}, err
	}
	return DecodeRecord(raw)
}

// FetchJob returns the current record of one job.
func (c *Client) FetchJob(ctx context.Context, token string, id entity.JobID) (entity.Job, error) {
	raw, err := sendJSON(ctx, c.http, http.MethodGet, c.baseURL+"/podcasts/"+url.PathEscape(string(id)), token, nil, c.logger)
	if err != nil {
		return entity.Job{}, err
	}
	return DecodeRecord(raw)
}

// ListJobs returns every job of the token's owner, as ordered by the service.
func (c *Client) ListJobs(ctx context.Context, token string) ([]entity.Job, error) {
	raw, err := sendJSON(ctx, c.http, http.MethodGet, c.baseURL+"/podcasts/", token, nil, c.logger)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(bytes.TrimSpace(raw))
}
