// Package esclient submits documents to a search index over its REST API.
package esclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/yuya-takeyama/dedup-ingest/internal/codec"
)

var UserAgent = fmt.Sprintf("dedup-ingest (%s; %s)", runtime.GOOS, runtime.GOARCH)

var (
	// ErrExhausted is returned when every attempt failed without success or rejection.
	ErrExhausted = errors.New("upload attempts exhausted")
	// ErrRejected marks a document the index refused as malformed.
	ErrRejected = errors.New("document rejected")
)

// Config holds the index connection settings
type Config struct {
	BaseURL  string // scheme://host:port
	Index    string
	Pipeline string // ingest pipeline name; empty sends no pipeline parameter
	Username string
	Password string
	Attempts int           // total attempts per document
	Backoff  time.Duration // fixed delay between attempts
	Timeout  time.Duration // per request
}

// Document is the record stored under its content fingerprint
type Document struct {
	Filename string `cbor:"filename" json:"filename"`
	SHA256   string `cbor:"sha256" json:"sha256"`
	Data     []byte `cbor:"data" json:"data"`
	MTime    int64  `cbor:"mtime" json:"mtime"`
	Message  string `cbor:"message" json:"message"`
}

// Response is the outcome of the final attempt of a Put
type Response struct {
	StatusCode int
	Body       string
	Attempts   int
}

// StatusError is a non-success, non-reject status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ExhaustedError wraps the last failure after all attempts were spent
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// IsSuccess reports whether code means the document was stored
func IsSuccess(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}

// IsReject reports whether code means the document itself was refused
func IsReject(code int) bool {
	return code == http.StatusBadRequest
}

// Client puts documents with bounded retries
type Client struct {
	http  *req.Client
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new index client
func New(cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	httpClient := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetCommonRetryCount(0).
		SetUserAgent(UserAgent).
		SetCommonContentType(codec.ContentType)
	if cfg.Username != "" {
		httpClient.SetCommonBasicAuth(cfg.Username, cfg.Password)
	}

	return &Client{
		http:  httpClient,
		cfg:   cfg,
		sleep: sleepContext,
	}
}

// Put stores doc under its fingerprint. It returns as soon as the index
// answers with success or rejection; anything else is retried up to the
// configured number of attempts. The returned error is nil for both success
// and rejection; callers inspect Response.StatusCode.
func (c *Client) Put(ctx context.Context, doc Document) (Response, error) {
	body, err := codec.Marshal(doc)
	if err != nil {
		return Response{}, fmt.Errorf("encode document: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		r := c.http.R().
			SetContext(ctx).
			SetPathParam("index", c.cfg.Index).
			SetPathParam("id", doc.SHA256).
			SetContentType(codec.ContentType).
			SetBodyBytes(body)
		if c.cfg.Pipeline != "" {
			r.SetQueryParam("pipeline", c.cfg.Pipeline)
		}

		resp, err := r.Put("/{index}/_doc/{id}")
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{Attempts: attempt}, ctxErr
			}
			lastErr = err
		} else {
			code := resp.GetStatusCode()
			if IsSuccess(code) || IsReject(code) {
				return Response{StatusCode: code, Body: resp.String(), Attempts: attempt}, nil
			}
			lastErr = &StatusError{StatusCode: code, Body: resp.String()}
		}

		slog.Debug("index put failed", "sha256", doc.SHA256, "attempt", attempt, "error", lastErr)

		if attempt < c.cfg.Attempts {
			if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
				return Response{Attempts: attempt}, err
			}
		}
	}

	return Response{Attempts: c.cfg.Attempts}, &ExhaustedError{Attempts: c.cfg.Attempts, Last: lastErr}
}

// Ping checks that the index exists and the credentials are accepted
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("index", c.cfg.Index).
		Head("/{index}")
	if err != nil {
		return fmt.Errorf("reach index: %w", err)
	}

	switch code := resp.GetStatusCode(); {
	case IsSuccess(code):
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("index %q not found", c.cfg.Index)
	default:
		return &StatusError{StatusCode: code, Body: resp.Status}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
