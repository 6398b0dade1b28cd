// Package metrics aggregates in-memory counters for HTTP traffic, login
// outcomes, and upstream platform calls, rendered in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type platformLabel struct {
	operation string
	outcome   string
}

// Recorder coordinates concurrent writers via a RWMutex while exposing a
// lock-free gauge for the active session count.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	loginCount      map[string]uint64
	platformCalls   map[platformLabel]uint64
	activeSessions  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		loginCount:      make(map[string]uint64),
		platformCalls:   make(map[platformLabel]uint64),
	}
}

// Default returns the singleton Recorder shared across the process.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative duration
// by HTTP method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: strconv.Itoa(status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveLogin counts login attempts by outcome (fresh, resumed, failed).
func (r *Recorder) ObserveLogin(outcome string) {
	r.mu.Lock()
	r.loginCount[outcome]++
	r.mu.Unlock()
}

// ObservePlatformCall counts upstream platform calls by operation and outcome.
func (r *Recorder) ObservePlatformCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.mu.Lock()
	r.platformCalls[platformLabel{operation: operation, outcome: outcome}]++
	r.mu.Unlock()
}

// SetActiveSessions records the current registry size.
func (r *Recorder) SetActiveSessions(count int) {
	r.activeSessions.Store(int64(count))
}

// Handler serves the recorder contents for scrapes.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	loginOutcomes := r.sortedLoginOutcomes()
	platformLabels := r.sortedPlatformLabels()

	fmt.Fprintln(w, "# HELP instabridge_http_requests_total Total number of HTTP requests processed by the facade")
	fmt.Fprintln(w, "# TYPE instabridge_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "instabridge_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP instabridge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE instabridge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "instabridge_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP instabridge_logins_total Login attempts by outcome")
	fmt.Fprintln(w, "# TYPE instabridge_logins_total counter")
	for _, outcome := range loginOutcomes {
		fmt.Fprintf(w, "instabridge_logins_total{outcome=%q} %d\n", outcome, r.loginCount[outcome])
	}

	fmt.Fprintln(w, "# HELP instabridge_platform_calls_total Upstream platform calls by operation and outcome")
	fmt.Fprintln(w, "# TYPE instabridge_platform_calls_total counter")
	for _, label := range platformLabels {
		fmt.Fprintf(w, "instabridge_platform_calls_total{operation=%q,outcome=%q} %d\n", label.operation, label.outcome, r.platformCalls[label])
	}

	fmt.Fprintln(w, "# HELP instabridge_active_sessions Current number of live authenticated sessions")
	fmt.Fprintln(w, "# TYPE instabridge_active_sessions gauge")
	fmt.Fprintf(w, "instabridge_active_sessions %d\n", r.activeSessions.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedLoginOutcomes() []string {
	outcomes := make([]string, 0, len(r.loginCount))
	for outcome := range r.loginCount {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

func (r *Recorder) sortedPlatformLabels() []platformLabel {
	labels := make([]platformLabel, 0, len(r.platformCalls))
	for label := range r.platformCalls {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].operation != labels[j].operation {
			return labels[i].operation < labels[j].operation
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}
