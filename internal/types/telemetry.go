package types

// Telemetry metric names. Both the Prometheus and CloudWatch collectors use
// these so dashboards line up across deployments.
const (
	MetricAPILatency       = "APILatency"
	MetricAPIRequests      = "APIRequests"
	MetricSearchDuration   = "SearchDuration"
	MetricSearchSpots      = "SearchSpotsReturned"
	MetricSearchEmpty      = "SearchEmptyResult"
	MetricRasterReadFailed = "RasterReadFailure"
	MetricRadianceQuery    = "RadianceQuery"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimOutcome  = "Outcome"

	MetricNamespace = "DarkSpot"
)

// Search outcomes used as the Outcome dimension / label.
const (
	OutcomeFound       = "found"
	OutcomeEmpty       = "empty"
	OutcomeOutOfBounds = "out_of_bounds"
	OutcomeReadError   = "read_error"
	OutcomeInvalid     = "invalid"
	OutcomeCanceled    = "canceled"
)
