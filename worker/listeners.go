package worker

import (
	"sort"

	"github.com/zond/juiceworker/gc"
	"github.com/zond/juiceworker/indexedlist"
	"github.com/zond/juiceworker/timers"
	"go.uber.org/zap"
)

// Event is what listeners receive. Data is either a Go value or a value
// owned by the script engine. Object caches the script side event object.
type Event struct {
	Type   string
	Data   any
	Object any
}

// Listener is either a *NativeListener or a script listener created by the
// script bridge. Listeners are compared by identity.
type Listener interface {
	HandleEvent(ev *Event) error
}

// NativeListener is a listener implemented in Go.
type NativeListener struct {
	Name string
	Func func(ev *Event) error
}

func (n *NativeListener) HandleEvent(ev *Event) error {
	return n.Func(ev)
}

func (n *NativeListener) String() string {
	return "native " + n.Name
}

type RegisteredListener struct {
	Listener   Listener
	UseCapture bool
}

// Trace marks the listener if it holds script handles.
func (r RegisteredListener) Trace(m gc.Marker) {
	if t, ok := r.Listener.(gc.Tracer); ok {
		t.Trace(m)
	}
}

var registeredListenerPolicy = indexedlist.FuncPolicy[RegisteredListener]{
	EqualFunc: func(a, b RegisteredListener) bool {
		return a.Listener == b.Listener && a.UseCapture == b.UseCapture
	},
}

// AddEventListener appends l to the listeners of typ. Duplicates are kept.
func (c *Context) AddEventListener(typ string, l Listener, useCapture bool) {
	if l == nil {
		return
	}
	list, found := c.listeners[typ]
	if !found {
		list = indexedlist.New[RegisteredListener](registeredListenerPolicy)
		c.listeners[typ] = list
	}
	list.AppendItem(RegisteredListener{Listener: l, UseCapture: useCapture})
	c.metrics.ListenerAdded()
}

// RemoveEventListener removes the first registration of l for typ with the
// same capture flag. Unknown listeners are ignored.
func (c *Context) RemoveEventListener(typ string, l Listener, useCapture bool) {
	if l == nil {
		return
	}
	list, found := c.listeners[typ]
	if !found {
		return
	}
	if list.RemoveValue(RegisteredListener{Listener: l, UseCapture: useCapture}) {
		c.metrics.ListenerRemoved(1)
	}
	if list.Len() == 0 {
		delete(c.listeners, typ)
	}
}

// Listeners returns a copy of the listeners of typ in dispatch order.
func (c *Context) Listeners(typ string) []RegisteredListener {
	if list, found := c.listeners[typ]; found {
		return list.Snapshot()
	}
	return nil
}

// ListenerTypes returns the event types with listeners, sorted.
func (c *Context) ListenerTypes() []string {
	result := make([]string, 0, len(c.listeners))
	for typ := range c.listeners {
		result = append(result, typ)
	}
	sort.Strings(result)
	return result
}

// EachListener visits every registration.
func (c *Context) EachListener(f func(typ string, r RegisteredListener)) {
	for typ, list := range c.listeners {
		for _, r := range list.All() {
			f(typ, r)
		}
	}
}

func (c *Context) removeAllListeners() {
	n := 0
	for _, list := range c.listeners {
		n += list.Len()
	}
	c.listeners = map[string]*indexedlist.List[RegisteredListener]{}
	c.metrics.ListenerRemoved(n)
}

// SetOnMessage replaces the message handler. nil clears it.
func (c *Context) SetOnMessage(l Listener) {
	c.onMessage = l
}

func (c *Context) OnMessage() Listener {
	return c.onMessage
}

// DispatchEvent runs the handlers for ev.Type in registration order over a
// snapshot, so handlers added or removed meanwhile do not affect this
// dispatch. Message events reach onmessage first. Handler errors are
// reported and do not stop the dispatch. It returns the number of handlers
// invoked.
func (c *Context) DispatchEvent(ev *Event) int {
	handlers := []Listener{}
	if ev.Type == MessageEvent && c.onMessage != nil {
		handlers = append(handlers, c.onMessage)
	}
	for _, r := range c.Listeners(ev.Type) {
		handlers = append(handlers, r.Listener)
	}
	for _, h := range handlers {
		if err := h.HandleEvent(ev); err != nil {
			c.metrics.ListenerFailed()
			c.ReportError(err)
		}
	}
	return len(handlers)
}

// ReportError logs err and hands it to the error sink.
func (c *Context) ReportError(err error) {
	c.logger.Warn("uncaught error", zap.Error(err))
	if c.errorSink != nil {
		c.errorSink(err)
	}
}

// TraceScheduledActions marks the script values captured by pending timers.
func (c *Context) TraceScheduledActions(m gc.Marker) {
	c.timers.Each(func(_ int32, action timers.Action) {
		if t, ok := action.(gc.Tracer); ok {
			t.Trace(m)
		}
	})
}

func (c *Context) TraceOnMessage(m gc.Marker) {
	if t, ok := c.onMessage.(gc.Tracer); ok {
		t.Trace(m)
	}
}

func (c *Context) TraceListeners(m gc.Marker) {
	for _, list := range c.listeners {
		indexedlist.TraceItems(list, m)
	}
}

// Trace marks everything the context keeps alive on behalf of scripts.
func (c *Context) Trace(m gc.Marker) {
	c.TraceScheduledActions(m)
	c.TraceOnMessage(m)
	c.TraceListeners(m)
}
