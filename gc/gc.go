// Package gc models the host collector: native code tracks the script
// handles it retains, and every pass asks the registered roots to mark the
// ones still reachable. Unmarked handles are swept and their finalizers run.
package gc

import (
	"reflect"
	"sync"
	"time"

	"github.com/zond/juiceworker/metrics"
	"go.uber.org/zap"
)

// Marker is handed to Tracers during a pass.
type Marker interface {
	Mark(h any)
	MarkIfNotNil(h any)
}

// Tracer declares its reachable handles to a Marker.
type Tracer interface {
	Trace(m Marker)
}

// TracerFunc adapts a function to a Tracer.
type TracerFunc func(m Marker)

func (f TracerFunc) Trace(m Marker) {
	f(m)
}

// Stats describes one pass.
type Stats struct {
	Marked int
	Swept  int
}

type handle struct {
	finalize func()
	marked   bool
}

type root struct {
	id     int
	tracer Tracer
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Collector keeps the handle table. Handles must be comparable, which goja
// objects and values are.
type Collector struct {
	mu      sync.Mutex
	handles map[any]*handle
	roots   []root
	nextID  int
	passes  int
	inPass  bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(opts Options) *Collector {
	c := &Collector{
		handles: map[any]*handle{},
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// AddRoot registers t to be traced on every pass. The returned function
// unregisters it; handles only t kept alive go on the next pass.
func (c *Collector) AddRoot(t Tracer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.roots = append(c.roots, root{id: id, tracer: t})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.roots {
			if r.id == id {
				c.roots = append(c.roots[:i], c.roots[i+1:]...)
				return
			}
		}
	}
}

// Track starts tracking h. finalize, if not nil, runs when h is swept.
// Tracking an already tracked handle keeps the first non nil finalizer.
func (c *Collector) Track(h any, finalize func()) {
	if isNil(h) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hd, found := c.handles[h]; found {
		if hd.finalize == nil {
			hd.finalize = finalize
		}
		return
	}
	c.handles[h] = &handle{finalize: finalize}
}

// Alive reports whether h is tracked and not yet swept.
func (c *Collector) Alive(h any) bool {
	if isNil(h) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.handles[h]
	return found
}

// Len returns the number of tracked handles.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Passes returns the number of completed passes.
func (c *Collector) Passes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes
}

type marker struct {
	c      *Collector
	marked int
}

func (m *marker) Mark(h any) {
	if hd, found := m.c.handles[h]; found && !hd.marked {
		hd.marked = true
		m.marked++
	}
}

func (m *marker) MarkIfNotNil(h any) {
	if !isNil(h) {
		m.Mark(h)
	}
}

// Collect runs one mark and sweep pass. Tracers run with the table locked
// and must not call back into the Collector. Finalizers run after the lock
// is released, so they may Track new handles.
func (c *Collector) Collect() Stats {
	start := time.Now()
	c.mu.Lock()
	if c.inPass {
		c.mu.Unlock()
		return Stats{}
	}
	c.inPass = true
	for _, hd := range c.handles {
		hd.marked = false
	}
	m := &marker{c: c}
	for _, r := range c.roots {
		r.tracer.Trace(m)
	}
	finalizers := []func(){}
	swept := 0
	for h, hd := range c.handles {
		if !hd.marked {
			delete(c.handles, h)
			swept++
			if hd.finalize != nil {
				finalizers = append(finalizers, hd.finalize)
			}
		}
	}
	c.passes++
	c.inPass = false
	c.mu.Unlock()

	for _, f := range finalizers {
		f()
	}
	stats := Stats{Marked: m.marked, Swept: swept}
	c.metrics.Collected(stats.Marked, stats.Swept, time.Since(start))
	c.logger.Debug("collected", zap.Int("marked", stats.Marked), zap.Int("swept", stats.Swept))
	return stats
}

func isNil(h any) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
