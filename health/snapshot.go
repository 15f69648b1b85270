package health

import (
	"time"

	apperrors "github.com/kbukum/tradeguard/errors"
)

// Window names a rolling snapshot window.
type Window string

// Snapshot windows.
const (
	WindowShort  Window = "short"
	WindowMedium Window = "medium"
	WindowLong   Window = "long"
)

// Windows lists the snapshot windows from shortest to longest.
var Windows = []Window{WindowShort, WindowMedium, WindowLong}

// EndpointStats aggregates one endpoint inside a snapshot.
type EndpointStats struct {
	Requests    int           `json:"requests"`
	Errors      int           `json:"errors"`
	MeanLatency time.Duration `json:"mean_latency"`
}

// Snapshot aggregates the requests that finished inside one window.
type Snapshot struct {
	Window      Window                      `json:"window"`
	Span        time.Duration               `json:"span"`
	Timestamp   time.Time                   `json:"timestamp"`
	Total       int                         `json:"total"`
	Successes   int                         `json:"successes"`
	Failures    int                         `json:"failures"`
	SuccessRate float64                     `json:"success_rate"`
	ErrorRate   float64                     `json:"error_rate"`
	MeanLatency time.Duration               `json:"mean_latency"`
	Median      time.Duration               `json:"median_latency"`
	P95         time.Duration               `json:"p95_latency"`
	P99         time.Duration               `json:"p99_latency"`
	MaxLatency  time.Duration               `json:"max_latency"`
	Throughput  float64                     `json:"throughput"`
	Errors      map[apperrors.ErrorCode]int `json:"errors,omitempty"`
	Endpoints   map[string]EndpointStats    `json:"endpoints,omitempty"`
}

// buildSnapshot aggregates records that ended in (now-span, now].
func buildSnapshot(w Window, span time.Duration, records []Record, now time.Time) Snapshot {
	s := Snapshot{
		Window:      w,
		Span:        span,
		Timestamp:   now,
		SuccessRate: 1,
		Errors:      make(map[apperrors.ErrorCode]int),
		Endpoints:   make(map[string]EndpointStats),
	}

	cutoff := now.Add(-span)
	var latencies []time.Duration
	endpointLatency := make(map[string]time.Duration)
	for _, r := range records {
		if !r.End.After(cutoff) || r.End.After(now) {
			continue
		}
		s.Total++
		latencies = append(latencies, r.Latency)

		ep := s.Endpoints[r.Endpoint]
		ep.Requests++
		endpointLatency[r.Endpoint] += r.Latency
		if r.Success {
			s.Successes++
		} else {
			s.Failures++
			ep.Errors++
			s.Errors[r.Code]++
		}
		s.Endpoints[r.Endpoint] = ep
	}

	if s.Total == 0 {
		return s
	}
	for name, ep := range s.Endpoints {
		ep.MeanLatency = endpointLatency[name] / time.Duration(ep.Requests)
		s.Endpoints[name] = ep
	}

	ms := durationsToMillis(latencies)
	s.SuccessRate = float64(s.Successes) / float64(s.Total)
	s.ErrorRate = float64(s.Failures) / float64(s.Total)
	s.MeanLatency = millis(mean(ms))
	s.Median = millis(median(ms))
	s.P95 = millis(percentile(ms, 95))
	s.P99 = millis(percentile(ms, 99))
	s.MaxLatency = millis(ms[len(ms)-1])
	s.Throughput = float64(s.Total) / span.Seconds()
	return s
}

// metric extracts one trend/anomaly series value from a snapshot.
type metric struct {
	name string
	// rising reports whether an increase is the unhealthy direction.
	rising bool
	value  func(Snapshot) float64
}

var trackedMetrics = []metric{
	{name: "error_rate", rising: true, value: func(s Snapshot) float64 { return s.ErrorRate }},
	{name: "mean_latency_ms", rising: true, value: func(s Snapshot) float64 { return float64(s.MeanLatency) / float64(time.Millisecond) }},
	{name: "p95_latency_ms", rising: true, value: func(s Snapshot) float64 { return float64(s.P95) / float64(time.Millisecond) }},
	{name: "throughput", rising: false, value: func(s Snapshot) float64 { return s.Throughput }},
}
