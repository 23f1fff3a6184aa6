package metrics

import (
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a Prometheus-backed Metrics implementation whose values can be
// read back by name.
type Registry struct { // A
	namespace string
	reg       *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*counter
	gauges   map[string]*gauge
}

// NewRegistry creates an empty registry. namespace prefixes every exported
// metric name and may be empty.
func NewRegistry(namespace string) *Registry { // A
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		namespace: namespace,
		reg:       reg,
		counters:  make(map[string]*counter),
		gauges:    make(map[string]*gauge),
	}
}

func (r *Registry) Counter(name, help string) Counter { // A
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}

	c := &counter{
		prom: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}),
	}
	// A name clash with a gauge leaves the counter unexported but still
	// readable through Value.
	_ = r.reg.Register(c.prom)
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name, help string) Gauge { // A
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}

	g := &gauge{
		prom: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}),
	}
	_ = r.reg.Register(g.prom)
	r.gauges[name] = g
	return g
}

// Value returns the current value of the named gauge or counter. Gauges win
// if both exist under the same name.
func (r *Registry) Value(name string) (float64, bool) { // A
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g.value(), true
	}
	if c, ok := r.counters[name]; ok {
		return c.value(), true
	}
	return 0, false
}

// Names lists every instrument created so far, sorted.
func (r *Registry) Names() []string { // HC
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.gauges)+len(r.counters))
	for n := range r.gauges {
		names = append(names, n)
	}
	for n := range r.counters {
		if _, dup := r.gauges[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler { // A
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

var _ Metrics = (*Registry)(nil)

type counter struct {
	prom prometheus.Counter
	bits atomic.Uint64
}

func (c *counter) Add(delta float64) {
	if delta < 0 || math.IsNaN(delta) {
		return
	}
	addFloat(&c.bits, delta)
	c.prom.Add(delta)
}

func (c *counter) value() float64 {
	return math.Float64frombits(c.bits.Load())
}

type gauge struct {
	prom prometheus.Gauge
	bits atomic.Uint64
}

func (g *gauge) Set(value float64) {
	g.bits.Store(math.Float64bits(value))
	g.prom.Set(value)
}

func (g *gauge) Add(delta float64) {
	addFloat(&g.bits, delta)
	g.prom.Add(delta)
}

func (g *gauge) value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func addFloat(bits *atomic.Uint64, delta float64) {
	for {
		old := bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}
