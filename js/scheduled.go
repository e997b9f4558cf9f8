package js

import (
	"time"

	"github.com/dop251/goja"
	"github.com/zond/juiceworker/gc"
)

// scheduledAction is a pending setTimeout or setInterval call: either a
// function with its extra arguments or a code string.
type scheduledAction struct {
	b      *Bridge
	fnObj  *goja.Object
	fn     goja.Callable
	args   []goja.Value
	code   string
	source string
}

func (a *scheduledAction) Fire() {
	err := a.b.guard(func() error {
		if a.fn != nil {
			_, err := a.fn(a.b.vm.GlobalObject(), a.args...)
			return err
		}
		_, err := a.b.vm.RunScript(a.source, a.code)
		return err
	})
	if err != nil {
		a.b.worker.ReportError(err)
	}
}

func (a *scheduledAction) Trace(m gc.Marker) {
	m.MarkIfNotNil(a.fnObj)
	for _, arg := range a.args {
		if obj, ok := arg.(*goja.Object); ok {
			m.Mark(obj)
		}
	}
}

func (a *scheduledAction) track() {
	if a.fnObj != nil {
		a.b.collector.Track(a.fnObj, nil)
	}
	for _, arg := range a.args {
		if obj, ok := arg.(*goja.Object); ok {
			a.b.collector.Track(obj, nil)
		}
	}
}

// newScheduledAction converts the handler before anything is registered,
// so a throwing conversion leaves no trace.
func (b *Bridge) newScheduledAction(call goja.FunctionCall) *scheduledAction {
	a := &scheduledAction{b: b}
	handler := call.Argument(0)
	if fn, ok := goja.AssertFunction(handler); ok {
		a.fnObj = handler.(*goja.Object)
		a.fn = fn
		if len(call.Arguments) > 2 {
			a.args = append([]goja.Value{}, call.Arguments[2:]...)
		}
	} else {
		a.code = b.toString(handler)
		a.source = b.callerLocation().URL
	}
	return a
}

func (b *Bridge) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	action := b.newScheduledAction(call)
	delay := toInt32(call.Argument(1))
	if delay < 0 {
		delay = 0
	}
	id := b.worker.SetTimer(action, time.Duration(delay)*time.Millisecond, repeat)
	if id != 0 {
		action.track()
	}
	return b.vm.ToValue(id)
}

func (b *Bridge) setTimeout(call goja.FunctionCall) goja.Value {
	return b.schedule(call, false)
}

func (b *Bridge) setInterval(call goja.FunctionCall) goja.Value {
	return b.schedule(call, true)
}

func (b *Bridge) clearTimer(call goja.FunctionCall) goja.Value {
	b.worker.ClearTimer(toInt32(call.Argument(0)))
	return goja.Undefined()
}
