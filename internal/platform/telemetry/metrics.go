// Package telemetry records HTTP server metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; export accumulates them.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) write(b *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var running int64
	for i, bound := range h.bounds {
		running += h.buckets[i]
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, labels+",", bound, running)
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.sum)
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

type requestKey struct {
	method, route, status string
}

func (k requestKey) labels() string {
	return fmt.Sprintf("method=%q,route=%q,status_code=%q", k.method, k.route, k.status)
}

// PoolStats reports database pool connection counts at scrape time.
type PoolStats func() (acquired, idle int32)

type Metrics struct {
	mu        sync.RWMutex
	durations map[requestKey]*histogram
	active    atomic.Int64
	pool      PoolStats
	now       func() time.Time
}

func New(pool PoolStats) *Metrics {
	return &Metrics{durations: map[requestKey]*histogram{}, pool: pool, now: time.Now}
}

func (m *Metrics) histogram(k requestKey) *histogram {
	m.mu.RLock()
	h, ok := m.durations[k]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[k]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[k] = h
	}
	return h
}

// Middleware times every request under its route pattern, so
// /patients/:id is one series regardless of the id.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.active.Add(1)
			start := m.now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.active.Add(-1)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			k := requestKey{
				method: c.Request().Method,
				route:  route,
				status: strconv.Itoa(c.Response().Status),
			}
			m.histogram(k).observe(m.now().Sub(start).Seconds())
			return nil
		}
	}
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.Exposition())
	}
}

// Exposition renders every metric in the Prometheus text format with
// series in a stable order.
func (m *Metrics) Exposition() string {
	var b strings.Builder

	const dur = "http_server_request_duration_seconds"
	b.WriteString("# HELP " + dur + " Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE " + dur + " histogram\n")
	m.mu.RLock()
	keys := make([]requestKey, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].labels() < keys[j].labels() })
	for _, k := range keys {
		m.histogram(k).write(&b, dur, k.labels())
	}
	b.WriteByte('\n')

	gauge(&b, "http_server_active_requests", "Number of in-flight HTTP requests.", m.active.Load())
	if m.pool != nil {
		acquired, idle := m.pool()
		gauge(&b, "db_pool_acquired_connections", "Database connections in use.", int64(acquired))
		gauge(&b, "db_pool_idle_connections", "Idle database connections.", int64(idle))
	}
	return b.String()
}

func gauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, v)
}
