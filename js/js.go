// Package js exposes a worker.Context to a goja runtime: the worker global
// scope with self, location, navigator, onmessage, importScripts, event
// listeners and timers. The bridge declares every script value the worker
// keeps alive to a gc.Collector on each pass.
package js

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/dom"
	"github.com/zond/juiceworker/gc"
	"github.com/zond/juiceworker/worker"
	"go.uber.org/zap"
)

var ErrTimeout = fmt.Errorf("Timeout")

type Options struct {
	Worker worker.Options
	// Console receives console output and uncaught errors.
	Console io.Writer
	// Collector defaults to a private one.
	Collector *gc.Collector
	// GCInterval, if positive, runs a collection pass that often.
	GCInterval time.Duration
	// MaxRunTime interrupts scripts running longer than this.
	MaxRunTime time.Duration
}

// Bridge is the script side of a worker. Like worker.Context, it is used
// from the worker goroutine only, apart from the Post based methods.
type Bridge struct {
	vm            *goja.Runtime
	worker        *worker.Context
	collector     *gc.Collector
	removeRoot    func()
	console       io.Writer
	logger        *zap.Logger
	maxRunTime    time.Duration
	depth         int
	listenerCache map[*goja.Object]*scriptListener

	consoleObj       *goja.Object
	domExceptionCtor *goja.Object
	xhrCtor          *goja.Object
	locationObj      *goja.Object
	navigatorObj     *goja.Object
	jsonStringify    goja.Callable
}

func New(opts Options) (*Bridge, error) {
	b := &Bridge{
		vm:            goja.New(),
		collector:     opts.Collector,
		console:       opts.Console,
		maxRunTime:    opts.MaxRunTime,
		listenerCache: map[*goja.Object]*scriptListener{},
	}
	if b.console == nil {
		b.console = io.Discard
	}
	if b.collector == nil {
		b.collector = gc.New(gc.Options{Logger: opts.Worker.Logger, Metrics: opts.Worker.Metrics})
	}
	workerOpts := opts.Worker
	errorSink := workerOpts.ErrorSink
	workerOpts.ErrorSink = func(err error) {
		b.logError(err)
		if errorSink != nil {
			errorSink(err)
		}
	}
	if opts.GCInterval > 0 {
		workerOpts.Idle = func() { b.collector.Collect() }
		workerOpts.IdleInterval = opts.GCInterval
	}
	w, err := worker.New(workerOpts)
	if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	b.worker = w
	b.logger = w.Logger()
	if err := b.install(); err != nil {
		return nil, juiceworker.WithStack(err)
	}
	b.removeRoot = b.collector.AddRoot(b)
	return b, nil
}

func (b *Bridge) Worker() *worker.Context {
	return b.worker
}

func (b *Bridge) Runtime() *goja.Runtime {
	return b.vm
}

func (b *Bridge) Collector() *gc.Collector {
	return b.collector
}

// Run runs the worker loop. See worker.Context.Run.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.removeRoot()
	return b.worker.Run(ctx)
}

// RunUntilIdle runs the worker loop until nothing is pending.
func (b *Bridge) RunUntilIdle(ctx context.Context) error {
	defer b.removeRoot()
	return b.worker.RunUntilIdle(ctx)
}

func (b *Bridge) defineBuiltin(name string, v goja.Value) error {
	return b.vm.GlobalObject().DefineDataProperty(name, v, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (b *Bridge) defineAccessor(name string, get, set func(goja.FunctionCall) goja.Value) error {
	var setter goja.Value
	if set != nil {
		setter = b.vm.ToValue(set)
	}
	return b.vm.GlobalObject().DefineAccessorProperty(name, b.vm.ToValue(get), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (b *Bridge) install() error {
	global := b.vm.GlobalObject()
	b.collector.Track(global, nil)
	if stringify, ok := goja.AssertFunction(b.vm.Get("JSON").ToObject(b.vm).Get("stringify")); ok {
		b.jsonStringify = stringify
	}
	for _, cb := range []struct {
		name string
		fun  func(goja.FunctionCall) goja.Value
	}{
		{name: "importScripts", fun: b.importScripts},
		{name: "addEventListener", fun: b.addEventListener},
		{name: "removeEventListener", fun: b.removeEventListener},
		{name: "dispatchEvent", fun: b.dispatchEvent},
		{name: "setTimeout", fun: b.setTimeout},
		{name: "setInterval", fun: b.setInterval},
		{name: "clearTimeout", fun: b.clearTimer},
		{name: "clearInterval", fun: b.clearTimer},
		{name: "postMessage", fun: b.postMessage},
		{name: "close", fun: b.close},
	} {
		if err := b.defineBuiltin(cb.name, b.vm.ToValue(cb.fun)); err != nil {
			return juiceworker.WithStack(err)
		}
	}
	for _, acc := range []struct {
		name string
		get  func(goja.FunctionCall) goja.Value
		set  func(goja.FunctionCall) goja.Value
	}{
		{name: "self", get: b.getSelf, set: b.setSelf},
		{name: "location", get: b.getLocation},
		{name: "navigator", get: b.getNavigator},
		{name: "onmessage", get: b.getOnMessage, set: b.setOnMessage},
		{name: "XMLHttpRequest", get: b.getXMLHttpRequest},
	} {
		if err := b.defineAccessor(acc.name, acc.get, acc.set); err != nil {
			return juiceworker.WithStack(err)
		}
	}
	if err := b.installDOMException(); err != nil {
		return err
	}
	return b.installConsole()
}

func (b *Bridge) getSelf(goja.FunctionCall) goja.Value {
	return b.vm.GlobalObject()
}

// setSelf replaces the accessor with a plain data property.
func (b *Bridge) setSelf(call goja.FunctionCall) goja.Value {
	if err := b.vm.GlobalObject().DefineDataProperty("self", call.Argument(0), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		b.throw(err)
	}
	return goja.Undefined()
}

func (b *Bridge) getXMLHttpRequest(goja.FunctionCall) goja.Value {
	if b.xhrCtor == nil {
		b.xhrCtor = b.vm.ToValue(func(goja.ConstructorCall) *goja.Object {
			panic(b.newDOMException(dom.NotSupportedError, "XMLHttpRequest is not supported in this worker"))
		}).ToObject(b.vm)
		b.collector.Track(b.xhrCtor, nil)
	}
	return b.xhrCtor
}

func (b *Bridge) postMessage(call goja.FunctionCall) goja.Value {
	b.worker.PostMessage(call.Argument(0).Export())
	return goja.Undefined()
}

func (b *Bridge) close(goja.FunctionCall) goja.Value {
	b.worker.Close()
	return goja.Undefined()
}

type caller struct {
	URL      string
	Line     int
	Function string
}

// callerLocation finds the innermost script frame on the stack.
func (b *Bridge) callerLocation() caller {
	for _, frame := range b.vm.CaptureCallStack(0, nil) {
		if src := frame.SrcName(); src != "" && src != "<native>" {
			c := caller{URL: src, Line: frame.Position().Line, Function: frame.FuncName()}
			if c.Line < 0 {
				c.Line = 0
			}
			return c
		}
	}
	return caller{}
}

func (b *Bridge) importScripts(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}
	urls, ex := b.tryStrings(call.Arguments)
	if ex != nil {
		panic(ex)
	}
	c := b.callerLocation()
	if err := b.worker.ImportScripts(urls, c.URL, c.Line, b); err != nil {
		b.logger.Debug("importScripts failed",
			zap.String("caller", c.URL),
			zap.Int("line", c.Line),
			zap.String("function", c.Function),
			zap.Error(err))
		b.throw(err)
	}
	return goja.Undefined()
}

// Evaluate runs source as a script named url. It implements worker.Evaluator.
func (b *Bridge) Evaluate(url string, source string) error {
	_, err := b.vm.RunScript(url, source)
	return err
}

// guard interrupts f if it outlives the max run time. Nested calls share
// the outermost deadline.
func (b *Bridge) guard(f func() error) error {
	if b.maxRunTime <= 0 || b.depth > 0 {
		b.depth++
		defer func() { b.depth-- }()
		return f()
	}
	b.depth++
	timer := time.AfterFunc(b.maxRunTime, func() {
		b.vm.Interrupt(ErrTimeout)
	})
	defer func() {
		timer.Stop()
		b.vm.ClearInterrupt()
		b.depth--
	}()
	return f()
}

// Trace declares the bridge roots: its builtins, the worker's scheduled
// actions, the location and navigator wrappers, onmessage and every
// registered listener.
func (b *Bridge) Trace(m gc.Marker) {
	m.Mark(b.vm.GlobalObject())
	m.MarkIfNotNil(b.consoleObj)
	m.MarkIfNotNil(b.domExceptionCtor)
	m.MarkIfNotNil(b.xhrCtor)

	b.worker.TraceScheduledActions(m)

	m.MarkIfNotNil(b.locationObj)
	m.MarkIfNotNil(b.navigatorObj)

	b.worker.TraceOnMessage(m)
	b.worker.TraceListeners(m)
}

// Exec runs source on the worker goroutine and returns the exported result.
// It is safe to call from any goroutine while the worker runs.
func (b *Bridge) Exec(ctx context.Context, name string, source string) (any, error) {
	type result struct {
		value any
		err   error
	}
	results := make(chan result, 1)
	if err := b.worker.Post(func() {
		var res result
		res.err = b.guard(func() error {
			v, err := b.vm.RunScript(name, source)
			if err == nil && v != nil {
				res.value = v.Export()
			}
			return err
		})
		results <- res
	}); err != nil {
		return nil, err
	}
	select {
	case res := <-results:
		return res.value, res.err
	case <-ctx.Done():
		return nil, juiceworker.WithStack(ctx.Err())
	case <-b.worker.Done():
		return nil, errors.WithStack(worker.ErrClosed)
	}
}

// Do runs f on the worker goroutine and waits for it.
func (b *Bridge) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if err := b.worker.Post(func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return juiceworker.WithStack(ctx.Err())
	case <-b.worker.Done():
		return errors.WithStack(worker.ErrClosed)
	}
}

// DispatchEvent queues ev for dispatch on the worker goroutine.
func (b *Bridge) DispatchEvent(ev *worker.Event) error {
	return b.worker.Post(func() {
		b.worker.DispatchEvent(ev)
	})
}

// PostMessage delivers data to the worker as a message event.
func (b *Bridge) PostMessage(data any) error {
	return b.DispatchEvent(&worker.Event{Type: worker.MessageEvent, Data: data})
}
