// Package devserver is an in-memory stand-in for the podcast job service:
// credential issuer, blob store and job API on one router. It performs no
// audio generation; jobs move only when advanced.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/podcast-tracker/constants"
	"github.com/joseph-ayodele/podcast-tracker/internal/backend"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
)

// DefaultJobLimit mirrors the per-user creation limit of the hosted service.
const DefaultJobLimit = 5

var ErrUnknownJob = errors.New("unknown job")

type job struct {
	id       int
	owner    string
	status   constants.JobStatus
	source   string
	result   string
	title    string
	duration int
	require  string
	created  time.Time
}

func (j *job) entity() entity.Job {
	out := entity.Job{
		ID:        entity.JobID(strconv.Itoa(j.id)),
		Status:    j.status,
		CreatedAt: j.created,
		Duration:  j.duration,
	}
	if j.source != "" {
		out.OriginalFileURL = entity.StringPtr(j.source)
	}
	if j.result != "" {
		out.FinalPodcastURL = entity.StringPtr(j.result)
	}
	if j.title != "" {
		out.Title = entity.StringPtr(j.title)
	}
	return out
}

// record renders the job the way the hosted service does, with a numeric id.
func (j *job) record() backend.Record {
	r := backend.FromEntity(j.entity())
	r.ID = json.RawMessage(strconv.Itoa(j.id))
	return r
}

type Server struct {
	secret []byte
	logger *slog.Logger
	now    func() time.Time

	// PublicURL is the externally reachable base used in upload tickets and
	// result URLs. Empty means derive it from each request's Host.
	PublicURL string

	mu          sync.Mutex
	jobs        map[int]*job
	nextID      int
	blobs       map[string][]byte
	policies    map[string]string // key -> policy token
	created     map[string]int    // owner -> jobs created
	limit       int
	unavailable bool
	autoAdvance bool
	publish     func(entity.Job)
}

type Option func(*Server)

func WithJobLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithAutoAdvance moves a job one status forward each time it is fetched.
func WithAutoAdvance(on bool) Option {
	return func(s *Server) { s.autoAdvance = on }
}

// WithPublisher is called with the new record on every status change.
func WithPublisher(fn func(entity.Job)) Option {
	return func(s *Server) { s.publish = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func New(secret string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		secret:   []byte(secret),
		logger:   logger,
		now:      time.Now,
		jobs:     map[int]*job{},
		nextID:   1,
		blobs:    map[string][]byte{},
		policies: map[string]string{},
		created:  map[string]int{},
		limit:    DefaultJobLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/blob/", s.putBlob).Methods(http.MethodPost)
	r.HandleFunc("/blob/{key:.+}", s.getBlob).Methods(http.MethodGet)
	r.HandleFunc("/media/{id}.mp3", s.getMedia).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/uploads/sign-url/", s.signURL).Methods(http.MethodPost)
	api.HandleFunc("/podcasts/", s.createJob).Methods(http.MethodPost)
	api.HandleFunc("/podcasts/", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/podcasts/{id}", s.getJob).Methods(http.MethodGet)
	return r
}

func (s *Server) SetUnavailable(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = on
}

func (s *Server) SetAutoAdvance(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAdvance = on
}

// Advance moves a job to status. Moving to complete assigns a result URL
// under base when resultURL is empty.
func (s *Server) Advance(id entity.JobID, status constants.JobStatus, resultURL string) error {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	s.mu.Lock()
	j, ok := s.jobs[n]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if !j.status.CanAdvanceTo(status) {
		s.mu.Unlock()
		return fmt.Errorf("job %s cannot move from %s to %s", id, j.status, status)
	}
	s.setStatusLocked(j, status, strings.TrimRight(s.PublicURL, "/"), resultURL)
	out := j.entity()
	publish := s.publish
	s.mu.Unlock()

	if publish != nil {
		publish(out)
	}
	return nil
}

// Jobs returns every job, newest first.
func (s *Server) Jobs() []entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked("")
}

// Blob returns the stored bytes for an upload key.
func (s *Server) Blob(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	return b, ok
}

func (s *Server) setStatusLocked(j *job, status constants.JobStatus, base, resultURL string) {
	j.status = status
	if status == constants.JobStatusComplete {
		if resultURL == "" {
			resultURL = fmt.Sprintf("%s/media/%d.mp3", base, j.id)
		}
		j.result = resultURL
		if j.title == "" {
			j.title = titleFromSource(j.source)
		}
		if j.duration == 0 {
			j.duration = 300
		}
	}
	s.logger.Info("dev.job_status", "job_id", j.id, "status", status)
}

func (s *Server) listLocked(owner string) []entity.Job {
	ids := make([]int, 0, len(s.jobs))
	for id, j := range s.jobs {
		if owner == "" || j.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	out := make([]entity.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.jobs[id].entity())
	}
	return out
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) signURL(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Filename) == "" {
		writeDetail(w, http.StatusBadRequest, "filename is required")
		return
	}
	owner := ownerFrom(r.Context())
	key := fmt.Sprintf("podcasts/%s/%d_%s", owner, s.now().Unix(), path.Base(req.Filename))
	policy := uuid.NewString()

	s.mu.Lock()
	unavailable := s.unavailable
	if !unavailable {
		s.policies[key] = policy
	}
	s.mu.Unlock()
	if unavailable {
		writeDetail(w, http.StatusBadRequest, "Could not generate upload URL")
		return
	}

	writeJSON(w, http.StatusOK, backend.UploadTicket{
		URL:    s.base(r) + "/blob/",
		Fields: map[string]string{"key": key, "policy": policy},
	})
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(constants.DefaultMaxUploadBytes) + 1<<20); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	key := r.FormValue("key")
	policy := r.FormValue("policy")
	file, _, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	s.mu.Lock()
	want, ok := s.policies[key]
	s.mu.Unlock()
	if !ok || want != policy {
		writeDetail(w, http.StatusForbidden, "AccessDenied")
		return
	}

	buf, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "could not read file")
		return
	}

	s.mu.Lock()
	s.blobs[key] = buf
	delete(s.policies, key)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	b, ok := s.Blob(mux.Vars(r)["key"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", constants.ContentTypePDF)
	_, _ = w.Write(b)
}

func (s *Server) getMedia(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write([]byte("ID3"))
}

type createRequest struct {
	OriginalFileURL string  `json:"original_file_url"`
	Requirements    *string `json:"requirements"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.OriginalFileURL) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "original_file_url is required")
		return
	}
	owner := ownerFrom(r.Context())
	blobPrefix := s.base(r) + "/blob/"

	s.mu.Lock()
	if s.unavailable {
		s.mu.Unlock()
		writeDetail(w, http.StatusServiceUnavailable, "Unable to verify credits. Please try again later.")
		return
	}
	if s.created[owner] >= s.limit {
		s.mu.Unlock()
		writeDetail(w, http.StatusTooManyRequests, "You have reached your podcast creation limit")
		return
	}
	if key, ok := strings.CutPrefix(req.OriginalFileURL, blobPrefix); ok {
		if _, stored := s.blobs[key]; !stored {
			s.mu.Unlock()
			writeDetail(w, http.StatusBadRequest, "original_file_url does not reference an uploaded file")
			return
		}
	}
	j := &job{
		id:      s.nextID,
		owner:   owner,
		status:  constants.JobStatusPending,
		source:  req.OriginalFileURL,
		created: s.now().UTC(),
	}
	if req.Requirements != nil {
		j.require = *req.Requirements
	}
	s.nextID++
	s.jobs[j.id] = j
	s.created[owner]++
	rec := j.record()
	s.mu.Unlock()

	s.logger.Info("dev.job_created", "job_id", j.id, "owner", owner)
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Podcast not found")
		return
	}
	base := s.base(r)

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Podcast not found")
		return
	}
	var changed *entity.Job
	if s.autoAdvance && !j.status.IsTerminal() {
		next := constants.JobStatusProcessing
		if j.status == constants.JobStatusProcessing {
			next = constants.JobStatusComplete
		}
		s.setStatusLocked(j, next, base, "")
		e := j.entity()
		changed = &e
	}
	rec := j.record()
	publish := s.publish
	s.mu.Unlock()

	if changed != nil && publish != nil {
		publish(*changed)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	s.mu.Lock()
	ids := make([]int, 0)
	for id, j := range s.jobs {
		if j.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	recs := make([]backend.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.jobs[id].record())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) base(r *http.Request) string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func titleFromSource(src string) string {
	name := path.Base(src)
	if i := strings.IndexByte(name, '_'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
