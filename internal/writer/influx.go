package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hgu-gateway/internal/lineproto"
	"hgu-gateway/internal/logger"
	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/model"
)

const userAgent = "hgu-gateway/1.0"

// Options configures a Writer.
type Options struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	Encoder    lineproto.Encoder
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Client  *http.Client // optional; built from Timeout when nil
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collectors
}

// StatusError is returned when the sink answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sink returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("sink returned HTTP %d: %s", e.Code, e.Body)
}

// Retriable reports whether the status is worth another attempt.
func (e *StatusError) Retriable() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Stats are the writer's own delivery counters.
type Stats struct {
	TotalWrites      uint64 `json:"total_writes"`
	SuccessfulWrites uint64 `json:"successful_writes"`
	FailedWrites     uint64 `json:"failed_writes"`
}

// SuccessRate is the percentage of successful writes, 0 before the first write.
func (s Stats) SuccessRate() float64 {
	if s.TotalWrites == 0 {
		return 0
	}
	return float64(s.SuccessfulWrites) / float64(s.TotalWrites) * 100
}

// Writer delivers batches to an InfluxDB v2 write endpoint.
type Writer struct {
	writeURL string
	pingURL  string
	token    string
	enc      lineproto.Encoder

	maxRetries int
	retryDelay time.Duration

	client  *http.Client
	log     *zap.SugaredLogger
	metrics *metrics.Collectors

	total   atomic.Uint64
	success atomic.Uint64
	failed  atomic.Uint64
}

// New builds a Writer. The base URL may carry a trailing slash.
func New(opts Options) *Writer {
	base := strings.TrimRight(opts.URL, "/")
	q := url.Values{}
	q.Set("org", opts.Org)
	q.Set("bucket", opts.Bucket)
	q.Set("precision", "ms")

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Writer{
		writeURL:   base + "/api/v2/write?" + q.Encode(),
		pingURL:    base + "/ping",
		token:      opts.Token,
		enc:        opts.Encoder,
		maxRetries: maxRetries,
		retryDelay: opts.RetryDelay,
		client:     client,
		log:        logger.OrNop(opts.Logger),
		metrics:    opts.Metrics,
	}
}

// WriteBatch encodes samples and posts them, retrying transient failures.
// Counters move exactly once per call.
func (w *Writer) WriteBatch(ctx context.Context, samples []model.SensorSample) error {
	if len(samples) == 0 {
		return nil
	}
	body := []byte(w.enc.Batch(samples))
	w.total.Add(1)

	var err error
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, body)
		if err == nil {
			w.success.Add(1)
			if attempt > 1 {
				w.log.Infof("sink write of %d samples succeeded on attempt %d", len(samples), attempt)
			}
			return nil
		}
		if !retriable(err) || attempt > w.maxRetries {
			break
		}
		w.metrics.Retry()
		delay := w.retryDelay * time.Duration(attempt)
		w.log.Warnf("sink write attempt %d failed: %v (retrying in %s)", attempt, err, delay)
		if serr := sleep(ctx, delay); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}
	w.failed.Add(1)
	w.log.Errorf("sink write of %d samples failed: %v", len(samples), err)
	return fmt.Errorf("write batch: %w", err)
}

// WriteSample writes a single sample as a one-line batch.
func (w *Writer) WriteSample(ctx context.Context, s model.SensorSample) error {
	return w.WriteBatch(ctx, []model.SensorSample{s})
}

// Ping checks the sink health endpoint.
func (w *Writer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.pingURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", w.pingURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Stats returns a copy of the delivery counters.
func (w *Writer) Stats() Stats {
	return Stats{
		TotalWrites:      w.total.Load(),
		SuccessfulWrites: w.success.Load(),
		FailedWrites:     w.failed.Load(),
	}
}

func (w *Writer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.writeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)
	if w.token != "" {
		req.Header.Set("Authorization", "Token "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusNoContent {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retriable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
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
