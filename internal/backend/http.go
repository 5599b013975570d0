package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPError is a non-2xx response from a collaborator.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("non-2xx status: %d", e.StatusCode)
	}
	return fmt.Sprintf("non-2xx status: %d: %s", e.StatusCode, body)
}

// Detail returns the collaborator's "detail" message when the body carries one.
func (e *HTTPError) Detail() string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal([]byte(e.Body), &payload) != nil {
		return ""
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	return ""
}

type request struct {
	method      string
	url         string
	token       string
	body        io.Reader
	contentType string
	length      int
}

// send performs one request and returns the raw body. Non-2xx responses
// come back as *HTTPError with the body preserved.
func send(ctx context.Context, client *http.Client, r request, logger *slog.Logger) ([]byte, int, error) {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		logger.Error("backend.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	logger.Debug("backend.http.request",
		"req_id", reqID,
		"method", r.method,
		"url", r.url,
		"content_length", r.length,
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("backend.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("backend.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	logger.Debug("backend.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), raw, start),
		}
	}
	return raw, resp.StatusCode, nil
}

// sendJSON encodes body (when non-nil) and sends it.
func sendJSON(ctx context.Context, client *http.Client, method, url, token string, body any, logger *slog.Logger) ([]byte, error) {
	r := request{method: method, url: url, token: token}
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			logger.Error("backend.http.encode_error", "url", url, "error", err)
			return nil, fmt.Errorf("encode json: %w", err)
		}
		r.body = bytes.NewReader(bs)
		r.contentType = "application/json"
		r.length = len(bs)
	}
	raw, _, err := send(ctx, client, r, logger)
	return raw, err
}

// retryAfter reads the Retry-After header (seconds or HTTP date) and falls
// back to a "retry_after" value in a JSON body such as "20 per 1 hour" or 30.
func retryAfter(header string, body []byte, now time.Time) time.Duration {
	if header = strings.TrimSpace(header); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(header); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	var payload struct {
		RetryAfter any `json:"retry_after"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return 0
	}
	switch v := payload.RetryAfter.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case string:
		return parseRateWindow(v)
	}
	return 0
}

// parseRateWindow understands limiter details like "20 per 1 hour": the
// caller should wait at most one window.
func parseRateWindow(s string) time.Duration {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 1 {
		if secs, err := strconv.Atoi(fields[0]); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	idx := -1
	for i, f := range fields {
		if f == "per" {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(fields) {
		return 0
	}
	n := 1
	unit := fields[idx+1]
	if v, err := strconv.Atoi(unit); err == nil && idx+2 < len(fields) {
		n = v
		unit = fields[idx+2]
	}
	var base time.Duration
	switch strings.TrimSuffix(unit, "s") {
	case "second":
		base = time.Second
	case "minute":
		base = time.Minute
	case "hour":
		base = time.Hour
	case "day":
		base = 24 * time.Hour
	default:
		return 0
	}
	return time.Duration(n) * base
}
