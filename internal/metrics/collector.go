// Package metrics records API and search telemetry. Two backends are
// provided: Prometheus, scraped from GET /metrics, and CloudWatch, pushed in
// batches through PutMetricData. Both satisfy core.MetricsCollector and
// darkspot.Recorder.
package metrics

import (
	"fmt"
	"time"
)

// Backend names selectable through METRICS_BACKEND.
const (
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendNone       = "none"
)

// Collector is the full telemetry surface used by the API process.
type Collector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	RecordSearch(outcome string, spots int, duration time.Duration)
	RecordRadiance(outcome string, duration time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRequest(string, string, string, time.Duration) {}
func (Nop) RecordSearch(string, int, time.Duration)             {}
func (Nop) RecordRadiance(string, time.Duration)                {}

var (
	_ Collector = Nop{}
	_ Collector = (*Prometheus)(nil)
	_ Collector = (*CloudWatch)(nil)
)

// ValidateBackend reports whether name is a known backend.
func ValidateBackend(name string) error {
	switch name {
	case BackendPrometheus, BackendCloudWatch, BackendNone:
		return nil
	default:
		return fmt.Errorf("metrics: unknown backend %q", name)
	}
}
