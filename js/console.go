package js

import (
	"io"
	"log"
	"strings"

	"github.com/dop251/goja"
)

func (b *Bridge) stringify(v goja.Value) string {
	if _, isFunc := goja.AssertFunction(v); isFunc {
		return v.String()
	}
	obj, ok := v.(*goja.Object)
	if !ok || b.jsonStringify == nil {
		return b.safeString(v)
	}
	s := ""
	if ex := b.vm.Try(func() {
		if res, err := b.jsonStringify(goja.Undefined(), obj); err == nil && !goja.IsUndefined(res) {
			s = res.String()
		}
	}); ex != nil || s == "" {
		return b.safeString(v)
	}
	return s
}

// safeString never throws.
func (b *Bridge) safeString(v goja.Value) string {
	s := "<unprintable>"
	b.vm.Try(func() {
		s = b.toString(v)
	})
	return s
}

func (b *Bridge) logFunc(w io.Writer, prefix string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, b.stringify(arg))
		}
		log.New(w, prefix, 0).Println(strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (b *Bridge) installConsole() error {
	console := b.vm.NewObject()
	for _, cb := range []struct {
		name   string
		prefix string
	}{
		{name: "log"},
		{name: "info"},
		{name: "debug"},
		{name: "warn", prefix: "warning: "},
		{name: "error", prefix: "error: "},
	} {
		if err := console.Set(cb.name, b.logFunc(b.console, cb.prefix)); err != nil {
			return err
		}
	}
	b.consoleObj = console
	b.collector.Track(console, nil)
	return b.defineBuiltin("console", console)
}

// logError writes an uncaught error to the console.
func (b *Bridge) logError(err error) {
	log.New(b.console, "", 0).Printf("-- uncaught error in %q --\n%v", b.worker.ScriptURL().String(), err)
}
