// Package metrics aggregates in-memory counters and gauges for the HTTP
// surface and the transcoding pipeline, exposed in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
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

type stepLabel struct {
	Step    string
	Outcome string
}

// Recorder coordinates concurrent metric writers via a RWMutex and exposes a
// thread-safe gauge for in-flight transcode jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobOutcomes     map[string]uint64
	stepOutcomes    map[stepLabel]uint64
	activeJobs      atomic.Int64
	queueDepth      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobOutcomes:     make(map[string]uint64),
		stepOutcomes:    make(map[stepLabel]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not wire
// a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted increments the in-flight transcode gauge.
func (r *Recorder) JobStarted() {
	r.activeJobs.Add(1)
}

// JobFinished records the final outcome of a transcode job (ready, error, or
// skipped) and releases the in-flight gauge slot.
func (r *Recorder) JobFinished(outcome string) {
	normalized := strings.ToLower(strings.TrimSpace(outcome))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.jobOutcomes[normalized]++
	r.mu.Unlock()
	for {
		current := r.activeJobs.Load()
		if current <= 0 {
			return
		}
		if r.activeJobs.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ObserveStep counts one pipeline step execution, e.g. rendition_720p/ok.
func (r *Recorder) ObserveStep(step, outcome string) {
	label := stepLabel{
		Step:    strings.ToLower(strings.TrimSpace(step)),
		Outcome: strings.ToLower(strings.TrimSpace(outcome)),
	}
	if label.Step == "" {
		label.Step = "unknown"
	}
	if label.Outcome == "" {
		label.Outcome = "unknown"
	}
	r.mu.Lock()
	r.stepOutcomes[label]++
	r.mu.Unlock()
}

// SetQueueDepth publishes the latest observed queue depth.
func (r *Recorder) SetQueueDepth(depth int64) {
	if depth < 0 {
		depth = 0
	}
	r.queueDepth.Store(depth)
}

// Handler serves the metrics in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics, sorting label sets for stable scrape output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	outcomes := sortedKeys(r.jobOutcomes)
	steps := r.sortedStepLabels()

	fmt.Fprintln(w, "# HELP streamvault_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamvault_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamvault_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamvault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamvault_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamvault_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamvault_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamvault_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamvault_http_request_duration_seconds_count{method=%q,path=%q,status=%q} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamvault_transcode_jobs_total Completed transcode jobs by outcome")
	fmt.Fprintln(w, "# TYPE streamvault_transcode_jobs_total counter")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "streamvault_transcode_jobs_total{outcome=%q} %d\n", outcome, r.jobOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP streamvault_transcode_steps_total Pipeline step executions by step and outcome")
	fmt.Fprintln(w, "# TYPE streamvault_transcode_steps_total counter")
	for _, label := range steps {
		fmt.Fprintf(w, "streamvault_transcode_steps_total{step=%q,outcome=%q} %d\n",
			label.Step, label.Outcome, r.stepOutcomes[label])
	}

	fmt.Fprintln(w, "# HELP streamvault_active_transcodes Transcode jobs currently in flight")
	fmt.Fprintln(w, "# TYPE streamvault_active_transcodes gauge")
	fmt.Fprintf(w, "streamvault_active_transcodes %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP streamvault_queue_depth Jobs waiting in the transcode queue")
	fmt.Fprintln(w, "# TYPE streamvault_queue_depth gauge")
	fmt.Fprintf(w, "streamvault_queue_depth %d\n", r.queueDepth.Load())
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

func (r *Recorder) sortedStepLabels() []stepLabel {
	labels := make([]stepLabel, 0, len(r.stepOutcomes))
	for label := range r.stepOutcomes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Step != labels[j].Step {
			return labels[i].Step < labels[j].Step
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses per-video path segments so metric cardinality stays
// bounded: video ids become :id and segment filenames become :segment.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" || i == 0 {
			continue
		}
		if i >= 2 && parts[1] == "video" {
			switch i {
			case 2:
				parts[i] = ":id"
			case 3:
				// resolution tokens are a closed set, keep them
			default:
				if part != "index.m3u8" {
					parts[i] = ":segment"
				}
			}
			continue
		}
		if parts[1] == "media" && i >= 2 {
			parts[i] = ":path"
			parts = parts[:i+1]
			break
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// looksLikeIdentifier reports whether a path segment resembles a generated
// hex identifier rather than a static route word.
func looksLikeIdentifier(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
