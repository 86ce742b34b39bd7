package writer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hgu-gateway/internal/lineproto"
	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/model"
)

func newTestWriter(t *testing.T, url string, maxRetries int) *Writer {
	t.Helper()
	return New(Options{
		URL:        url + "/",
		Token:      "tok",
		Org:        "tusas",
		Bucket:     "tusas_hgu",
		Encoder:    lineproto.Encoder{Measurement: "hgu_sensors", Location: "PLCSIM", Equipment: "hgu_main"},
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
}

func sample(id string) model.SensorSample {
	return model.SensorSample{ID: id, Name: id, Value: 1.5, Unit: "bar", Quality: model.QualityGood, Timestamp: time.UnixMilli(1700000000000)}
}

func TestWriteBatchRequestShape(t *testing.T) {
	var mu sync.Mutex
	var gotBody, gotCT, gotAuth, gotPath string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotCT = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestWriter(t, srv.URL, 3)
	require.NoError(t, w.WriteBatch(context.Background(), []model.SensorSample{sample("a"), sample("b")}))
	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "/api/v2/write", gotPath)
	assert.Equal(t, "tusas", gotQuery["org"][0])
	assert.Equal(t, "tusas_hgu", gotQuery["bucket"][0])
	assert.Equal(t, "ms", gotQuery["precision"][0])
	assert.Equal(t, "text/plain; charset=utf-8", gotCT)
	assert.Equal(t, "Token tok", gotAuth)
	lines := strings.Split(gotBody, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "sensor_id=a")
	assert.Equal(t, Stats{TotalWrites: 1, SuccessfulWrites: 1}, w.Stats())
}

func TestWriteBatchWithoutTokenOmitsAuthorization(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := New(Options{URL: srv.URL, Org: "o", Bucket: "b"})
	require.NoError(t, w.WriteSample(context.Background(), sample("a")))
	assert.Equal(t, "", auth.Load())
}

func TestWriteBatchRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	w := newTestWriter(t, srv.URL, 3)
	w.metrics = metrics.NewCollectors(reg)

	require.NoError(t, w.WriteBatch(context.Background(), []model.SensorSample{sample("a")}))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, Stats{TotalWrites: 1, SuccessfulWrites: 1}, w.Stats())
	assert.Equal(t, 3.0, testutil.ToFloat64(w.metrics.SinkRetries))
}

func TestWriteBatchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w := newTestWriter(t, srv.URL, 2)
	err := w.WriteBatch(context.Background(), []model.SensorSample{sample("a")})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, Stats{TotalWrites: 1, FailedWrites: 1}, w.Stats())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestWriteBatchDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad line", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newTestWriter(t, srv.URL, 3)
	err := w.WriteBatch(context.Background(), []model.SensorSample{sample("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad line")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stats{TotalWrites: 1, FailedWrites: 1}, w.Stats())
}

func TestWriteBatchTreatsOKAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWriter(t, srv.URL, 3)
	assert.Error(t, w.WriteBatch(context.Background(), []model.SensorSample{sample("a")}))
}

func TestWriteBatchRetriesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	w := newTestWriter(t, url, 1)
	err := w.WriteBatch(context.Background(), []model.SensorSample{sample("a")})
	require.Error(t, err)
	assert.True(t, retriable(err))
	assert.Equal(t, uint64(1), w.Stats().FailedWrites)
}

func TestLinearBackoff(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := newTestWriter(t, srv.URL, 2)
	w.retryDelay = 40 * time.Millisecond
	require.Error(t, w.WriteBatch(context.Background(), []model.SensorSample{sample("a")}))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 80*time.Millisecond)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	w := New(Options{URL: "http://127.0.0.1:1"})
	assert.NoError(t, w.WriteBatch(context.Background(), nil))
	assert.Equal(t, Stats{}, w.Stats())
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" && r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, newTestWriter(t, srv.URL, 0).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer down.Close()
	assert.Error(t, newTestWriter(t, down.URL, 0).Ping(context.Background()))
}

func TestStatsSuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.SuccessRate())
	assert.Equal(t, 75.0, Stats{TotalWrites: 4, SuccessfulWrites: 3, FailedWrites: 1}.SuccessRate())
}
