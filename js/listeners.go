package js

import (
	"github.com/dop251/goja"
	"github.com/zond/juiceworker/gc"
	"github.com/zond/juiceworker/worker"
)

// scriptListener is the worker.Listener for a script function. There is at
// most one per function object, so removal by identity works.
type scriptListener struct {
	b   *Bridge
	obj *goja.Object
	fn  goja.Callable
}

func (l *scriptListener) HandleEvent(ev *worker.Event) error {
	return l.b.guard(func() error {
		_, err := l.fn(l.b.vm.GlobalObject(), l.b.eventObject(ev))
		return err
	})
}

func (l *scriptListener) String() string {
	if name := l.obj.Get("name"); name != nil {
		if s := name.String(); s != "" {
			return "function " + s
		}
	}
	return "anonymous function"
}

func (l *scriptListener) Trace(m gc.Marker) {
	m.Mark(l.obj)
}

// findListener returns the listener already created for v, if any.
func (b *Bridge) findListener(v goja.Value) *scriptListener {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	l, found := b.listenerCache[obj]
	if !found {
		return nil
	}
	if !b.collector.Alive(obj) {
		delete(b.listenerCache, obj)
		return nil
	}
	return l
}

// findOrCreateListener returns the listener for v, creating it on first use.
// Non callable values return nil.
func (b *Bridge) findOrCreateListener(v goja.Value) *scriptListener {
	if l := b.findListener(v); l != nil {
		return l
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	obj := v.(*goja.Object)
	l := &scriptListener{b: b, obj: obj, fn: fn}
	b.listenerCache[obj] = l
	b.collector.Track(obj, func() {
		delete(b.listenerCache, obj)
	})
	return l
}

// eventObject is what script listeners receive.
func (b *Bridge) eventObject(ev *worker.Event) goja.Value {
	if obj, ok := ev.Object.(*goja.Object); ok {
		return obj
	}
	obj := b.vm.NewObject()
	obj.Set("type", ev.Type)
	obj.Set("data", b.toValue(ev.Data))
	obj.Set("target", b.vm.GlobalObject())
	obj.Set("currentTarget", b.vm.GlobalObject())
	ev.Object = obj
	return obj
}

func (b *Bridge) toValue(v any) goja.Value {
	if jsv, ok := v.(goja.Value); ok {
		return jsv
	}
	return b.vm.ToValue(v)
}

func (b *Bridge) addEventListener(call goja.FunctionCall) goja.Value {
	l := b.findOrCreateListener(call.Argument(1))
	if l == nil {
		return goja.Undefined()
	}
	typ := b.toString(call.Argument(0))
	b.worker.AddEventListener(typ, l, call.Argument(2).ToBoolean())
	return goja.Undefined()
}

func (b *Bridge) removeEventListener(call goja.FunctionCall) goja.Value {
	l := b.findListener(call.Argument(1))
	if l == nil {
		return goja.Undefined()
	}
	typ := b.toString(call.Argument(0))
	b.worker.RemoveEventListener(typ, l, call.Argument(2).ToBoolean())
	return goja.Undefined()
}

func (b *Bridge) dispatchEvent(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(b.vm.NewTypeError("dispatchEvent requires an event object"))
	}
	ev := &worker.Event{
		Type:   b.toString(obj.Get("type")),
		Data:   obj.Get("data"),
		Object: obj,
	}
	b.worker.DispatchEvent(ev)
	return b.vm.ToValue(true)
}

func (b *Bridge) getOnMessage(goja.FunctionCall) goja.Value {
	if l, ok := b.worker.OnMessage().(*scriptListener); ok {
		return l.obj
	}
	return goja.Null()
}

func (b *Bridge) setOnMessage(call goja.FunctionCall) goja.Value {
	if l := b.findOrCreateListener(call.Argument(0)); l != nil {
		b.worker.SetOnMessage(l)
	} else {
		b.worker.SetOnMessage(nil)
	}
	return goja.Undefined()
}
