package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"darkspot/internal/types"
)

// cloudWatchMaxDatums is the PutMetricData per-request datum limit.
const cloudWatchMaxDatums = 1000

// defaultMaxBuffered bounds memory when CloudWatch is unreachable; the
// oldest datums are dropped first.
const defaultMaxBuffered = 20000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch buffers datums in memory and publishes them on Flush. Run
// flushes on a ticker for the long-running server; the Lambda adapter
// flushes after every invocation.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	buf         []cwtypes.MetricDatum
	maxBuffered int
	dropped     int
}

// NewCloudWatch creates a collector publishing to namespace. An empty
// namespace uses types.MetricNamespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{
		client:      client,
		namespace:   namespace,
		logger:      logger,
		now:         time.Now,
		maxBuffered: defaultMaxBuffered,
	}
}

func (m *CloudWatch) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, endpoint),
		dim(types.DimMethod, method),
	}
	m.add(
		m.datum(types.MetricAPIRequests, 1, cwtypes.StandardUnitCount, append(dims, dim(types.DimStatus, status))),
		m.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
	)
}

func (m *CloudWatch) RecordSearch(outcome string, spots int, duration time.Duration) {
	dims := []cwtypes.Dimension{dim(types.DimOutcome, outcome)}
	datums := []cwtypes.MetricDatum{
		m.datum(types.MetricSearchDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
	}
	switch outcome {
	case types.OutcomeFound:
		datums = append(datums, m.datum(types.MetricSearchSpots, float64(spots), cwtypes.StandardUnitCount, nil))
	case types.OutcomeEmpty:
		datums = append(datums, m.datum(types.MetricSearchEmpty, 1, cwtypes.StandardUnitCount, nil))
	case types.OutcomeReadError:
		datums = append(datums, m.datum(types.MetricRasterReadFailed, 1, cwtypes.StandardUnitCount, nil))
	}
	m.add(datums...)
}

func (m *CloudWatch) RecordRadiance(outcome string, duration time.Duration) {
	m.add(m.datum(types.MetricRadianceQuery, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{dim(types.DimOutcome, outcome)}))
	if outcome == types.OutcomeReadError {
		m.add(m.datum(types.MetricRasterReadFailed, 1, cwtypes.StandardUnitCount, nil))
	}
}

// Pending returns the number of buffered datums.
func (m *CloudWatch) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// Flush publishes every buffered datum in batches of at most 1000. Datums of
// a failed batch are put back at the front of the buffer.
func (m *CloudWatch) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.buf
	m.buf = nil
	m.mu.Unlock()

	for start := 0; start < len(pending); start += cloudWatchMaxDatums {
		end := min(start+cloudWatchMaxDatums, len(pending))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			m.requeue(pending[start:])
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"namespace", m.namespace,
				"datums", len(pending)-start,
			)
			return err
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more with
// a short grace period.
func (m *CloudWatch) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = m.Flush(final)
			cancel()
			return
		case <-ticker.C:
			_ = m.Flush(ctx)
		}
	}
}

func (m *CloudWatch) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, datums...)
	m.trimLocked()
}

func (m *CloudWatch) requeue(datums []cwtypes.MetricDatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(append(make([]cwtypes.MetricDatum, 0, len(datums)+len(m.buf)), datums...), m.buf...)
	m.trimLocked()
}

func (m *CloudWatch) trimLocked() {
	if over := len(m.buf) - m.maxBuffered; over > 0 {
		m.buf = append(m.buf[:0:0], m.buf[over:]...)
		m.dropped += over
		m.logger.Warn("metrics buffer full, dropping oldest datums", "dropped", over, "dropped_total", m.dropped)
	}
}

func (m *CloudWatch) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
