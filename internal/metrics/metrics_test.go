package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkspot/internal/raster"
	"darkspot/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dimValue(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func TestValidateBackend(t *testing.T) {
	for _, ok := range []string{BackendPrometheus, BackendCloudWatch, BackendNone} {
		assert.NoError(t, ValidateBackend(ok))
	}
	assert.Error(t, ValidateBackend("statsd"))
}

func TestPrometheus_RecordRequest(t *testing.T) {
	p := NewPrometheus("DarkSpot")

	p.RecordRequest("POST", "/nearest-dark-spot", "200", 12*time.Millisecond)
	p.RecordRequest("POST", "/nearest-dark-spot", "200", 8*time.Millisecond)
	p.RecordRequest("POST", "/nearest-dark-spot", "404", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests.WithLabelValues("POST", "/nearest-dark-spot", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("POST", "/nearest-dark-spot", "404")))
}

func TestPrometheus_RecordSearchAndRadiance(t *testing.T) {
	p := NewPrometheus("darkspot")

	p.RecordSearch(types.OutcomeFound, 3, 5*time.Millisecond)
	p.RecordSearch(types.OutcomeEmpty, 0, 2*time.Millisecond)
	p.RecordSearch(types.OutcomeReadError, 0, 2*time.Millisecond)
	p.RecordRadiance(types.OutcomeOutOfBounds, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.searches.WithLabelValues(types.OutcomeFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.searches.WithLabelValues(types.OutcomeEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.searches.WithLabelValues(types.OutcomeReadError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.radiance.WithLabelValues(types.OutcomeOutOfBounds)))
}

func TestPrometheus_HandlerExposesCache(t *testing.T) {
	p := NewPrometheus("darkspot")
	p.WatchCache("darkspot", func() raster.CacheStats {
		return raster.CacheStats{Hits: 7, Misses: 2, Entries: 3, Bytes: 4096}
	})
	p.RecordRequest("GET", "/health", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "darkspot_chunk_cache_hits_total 7")
	assert.Contains(t, body, "darkspot_chunk_cache_bytes 4096")
	assert.Contains(t, body, `darkspot_http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestPrometheus_SeparateRegistries(t *testing.T) {
	// Two collectors in one process must not panic on duplicate registration.
	a := NewPrometheus("darkspot")
	b := NewPrometheus("darkspot")
	a.RecordSearch(types.OutcomeFound, 1, time.Millisecond)

	assert.Equal(t, 0.0, testutil.ToFloat64(b.searches.WithLabelValues(types.OutcomeFound)))
}

func TestCloudWatch_RecordRequestBuffersUntilFlush(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", discardLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.RecordRequest("POST", "/v1/dark-spots/search", "200", 42*time.Millisecond)

	assert.Empty(t, cw.calls)
	assert.Equal(t, 2, m.Pending())

	require.NoError(t, m.Flush(context.Background()))
	require.Len(t, cw.calls, 1)

	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, *input.Namespace)
	require.Len(t, input.MetricData, 2)

	count := input.MetricData[0]
	assert.Equal(t, types.MetricAPIRequests, *count.MetricName)
	assert.Equal(t, 1.0, *count.Value)
	assert.Equal(t, cwtypes.StandardUnitCount, count.Unit)
	assert.Equal(t, "200", dimValue(count.Dimensions, types.DimStatus))
	assert.Equal(t, "/v1/dark-spots/search", dimValue(count.Dimensions, types.DimEndpoint))
	assert.Equal(t, fixed, *count.Timestamp)

	latency := input.MetricData[1]
	assert.Equal(t, types.MetricAPILatency, *latency.MetricName)
	assert.Equal(t, 42.0, *latency.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)
	assert.Equal(t, "", dimValue(latency.Dimensions, types.DimStatus))

	assert.Equal(t, 0, m.Pending())
}

func TestCloudWatch_RecordSearchOutcomes(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "Test", discardLogger())

	m.RecordSearch(types.OutcomeFound, 4, time.Millisecond)
	m.RecordSearch(types.OutcomeEmpty, 0, time.Millisecond)
	m.RecordSearch(types.OutcomeReadError, 0, time.Millisecond)
	m.RecordRadiance(types.OutcomeReadError, time.Millisecond)
	require.NoError(t, m.Flush(context.Background()))

	require.Len(t, cw.calls, 1)
	names := make([]string, 0)
	for _, d := range cw.calls[0].MetricData {
		names = append(names, *d.MetricName)
	}
	assert.Equal(t, []string{
		types.MetricSearchDuration, types.MetricSearchSpots,
		types.MetricSearchDuration, types.MetricSearchEmpty,
		types.MetricSearchDuration, types.MetricRasterReadFailed,
		types.MetricRadianceQuery, types.MetricRasterReadFailed,
	}, names)
	assert.Equal(t, "Test", *cw.calls[0].Namespace)
}

func TestCloudWatch_CanceledIsNotReadFailure(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", discardLogger())

	m.RecordSearch(types.OutcomeCanceled, 0, time.Millisecond)
	m.RecordRadiance(types.OutcomeCanceled, time.Millisecond)
	require.NoError(t, m.Flush(context.Background()))

	require.Len(t, cw.calls, 1)
	for _, d := range cw.calls[0].MetricData {
		assert.NotEqual(t, types.MetricRasterReadFailed, *d.MetricName)
	}
	assert.Len(t, cw.calls[0].MetricData, 2)
}

func TestCloudWatch_FlushBatches(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", discardLogger())

	for i := 0; i < 1500; i++ {
		m.RecordRadiance(types.OutcomeFound, time.Millisecond)
	}
	require.NoError(t, m.Flush(context.Background()))

	require.Len(t, cw.calls, 2)
	assert.Len(t, cw.calls[0].MetricData, 1000)
	assert.Len(t, cw.calls[1].MetricData, 500)
}

func TestCloudWatch_FlushFailureRequeues(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatch(cw, "", discardLogger())

	m.RecordRadiance(types.OutcomeFound, time.Millisecond)
	m.RecordRadiance(types.OutcomeFound, time.Millisecond)

	err := m.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, m.Pending())

	cw.returnErr = nil
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 0, m.Pending())
	assert.Len(t, cw.calls, 2)
}

func TestCloudWatch_BufferIsBounded(t *testing.T) {
	m := NewCloudWatch(&mockCloudWatchClient{}, "", discardLogger())
	m.maxBuffered = 10

	for i := 0; i < 25; i++ {
		m.RecordRadiance(types.OutcomeFound, time.Millisecond)
	}

	assert.Equal(t, 10, m.Pending())
	assert.Equal(t, 15, m.dropped)
}

func TestCloudWatch_RunFlushesOnCancel(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", discardLogger())
	m.RecordSearch(types.OutcomeFound, 1, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, m.Pending())
	cw.mu.Lock()
	defer cw.mu.Unlock()
	assert.Len(t, cw.calls, 1)
}
