package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type chainKey struct {
	mode    string
	outcome string
}

type nodeKey struct {
	plugin  string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	httpLatency  map[string]*histogram
	chains       map[chainKey]uint64
	chainLatency map[string]*histogram
	nodes        map[nodeKey]uint64
	nodeLatency  map[string]*histogram
}

var defaultCollector = &collector{
	requests:     make(map[requestKey]uint64),
	httpLatency:  make(map[string]*histogram),
	chains:       make(map[chainKey]uint64),
	chainLatency: make(map[string]*histogram),
	nodes:        make(map[nodeKey]uint64),
	nodeLatency:  make(map[string]*histogram),
}

// ObserveHTTPRequest records one HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	hist := c.httpLatency[handler]
	if hist == nil {
		hist = newHistogram()
		c.httpLatency[handler] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveChainExecution records one completed or failed chain run.
func ObserveChainExecution(mode string, success bool, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[chainKey{mode: mode, outcome: outcomeLabel(success)}]++
	hist := c.chainLatency[mode]
	if hist == nil {
		hist = newHistogram()
		c.chainLatency[mode] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveNodeExecution records one plugin invocation inside a chain.
func ObserveNodeExecution(plugin string, success bool, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[nodeKey{plugin: plugin, outcome: outcomeLabel(success)}]++
	hist := c.nodeLatency[plugin]
	if hist == nil {
		hist = newHistogram()
		c.nodeLatency[plugin] = hist
	}
	hist.observe(duration.Seconds())
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// Values above the last bound only show up in the +Inf bucket via count.
}

// Handler exposes all collected metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP plugweave_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE plugweave_http_requests_total counter\n")
	for _, key := range sortedKeys(c.requests, func(k requestKey) string { return k.handler + "\x00" + k.method + "\x00" + k.code }) {
		b.WriteString(fmt.Sprintf("plugweave_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key]))
	}
	renderHistograms(&b, "plugweave_http_request_duration_seconds", "HTTP request duration in seconds.", "handler", c.httpLatency)

	b.WriteString("# HELP plugweave_chain_executions_total Total number of chain runs by mode and outcome.\n")
	b.WriteString("# TYPE plugweave_chain_executions_total counter\n")
	for _, key := range sortedKeys(c.chains, func(k chainKey) string { return k.mode + "\x00" + k.outcome }) {
		b.WriteString(fmt.Sprintf("plugweave_chain_executions_total{mode=%q,outcome=%q} %d\n",
			escape(key.mode), escape(key.outcome), c.chains[key]))
	}
	renderHistograms(&b, "plugweave_chain_duration_seconds", "Chain execution duration in seconds.", "mode", c.chainLatency)

	b.WriteString("# HELP plugweave_node_executions_total Total number of plugin node invocations by outcome.\n")
	b.WriteString("# TYPE plugweave_node_executions_total counter\n")
	for _, key := range sortedKeys(c.nodes, func(k nodeKey) string { return k.plugin + "\x00" + k.outcome }) {
		b.WriteString(fmt.Sprintf("plugweave_node_executions_total{plugin=%q,outcome=%q} %d\n",
			escape(key.plugin), escape(key.outcome), c.nodes[key]))
	}
	renderHistograms(&b, "plugweave_node_duration_seconds", "Plugin node execution duration in seconds.", "plugin", c.nodeLatency)

	return b.String()
}

func sortedKeys[K comparable, V any](m map[K]V, order func(K) string) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return order(keys[i]) < order(keys[j]) })
	return keys
}

func renderHistograms(b *strings.Builder, name, help, label string, hists map[string]*histogram) {
	b.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	b.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
	values := make([]string, 0, len(hists))
	for v := range hists {
		values = append(values, v)
	}
	sort.Strings(values)
	for _, v := range values {
		h := hists[v]
		for idx, bound := range h.buckets {
			b.WriteString(fmt.Sprintf("%s_bucket{%s=%q,le=%q} %d\n",
				name, label, escape(v), formatFloat(bound), h.counts[idx]))
		}
		b.WriteString(fmt.Sprintf("%s_bucket{%s=%q,le=\"+Inf\"} %d\n", name, label, escape(v), h.count))
		b.WriteString(fmt.Sprintf("%s_sum{%s=%q} %s\n", name, label, escape(v), formatFloat(h.sum)))
		b.WriteString(fmt.Sprintf("%s_count{%s=%q} %d\n", name, label, escape(v), h.count))
	}
}

// escape strips newlines; %q takes care of quotes and backslashes.
func escape(value string) string {
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer runs a standalone HTTP server exposing /metrics until the
// context is cancelled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
