package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker/gc"
	"github.com/zond/juiceworker/timers"
)

func newContext(t *testing.T, opts Options) *Context {
	t.Helper()
	if opts.ScriptURL == "" {
		opts.ScriptURL = "file:///scripts/main.js"
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func recorder(log *[]string, name string) *NativeListener {
	return &NativeListener{
		Name: name,
		Func: func(ev *Event) error {
			*log = append(*log, fmt.Sprintf("%s:%v", name, ev.Data))
			return nil
		},
	}
}

func TestListenerRegistry(t *testing.T) {
	c := newContext(t, Options{})
	got := []string{}
	a, b := recorder(&got, "a"), recorder(&got, "b")

	c.AddEventListener("ping", a, false)
	c.AddEventListener("ping", b, false)
	c.AddEventListener("ping", a, true)
	c.AddEventListener("ping", a, false)
	c.RemoveEventListener("ping", a, false)
	c.RemoveEventListener("ping", recorder(&got, "unknown"), false)
	c.RemoveEventListener("pong", a, false)
	c.AddEventListener("ping", nil, false)

	want := []RegisteredListener{{b, false}, {a, true}, {a, false}}
	if diff := cmp.Diff(want, c.Listeners("ping"), cmp.Comparer(func(x, y Listener) bool { return x == y })); diff != "" {
		t.Errorf("listeners: -want +got\n%s", diff)
	}
	if n := c.DispatchEvent(&Event{Type: "ping", Data: 1}); n != 3 {
		t.Errorf("DispatchEvent invoked %d, want 3", n)
	}
	if diff := cmp.Diff([]string{"b:1", "a:1", "a:1"}, got); diff != "" {
		t.Errorf("dispatch: -want +got\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ping"}, c.ListenerTypes()); diff != "" {
		t.Errorf("types: -want +got\n%s", diff)
	}
}

func TestDispatchSnapshot(t *testing.T) {
	c := newContext(t, Options{})
	got := []string{}
	second := recorder(&got, "second")
	first := &NativeListener{Func: func(ev *Event) error {
		got = append(got, "first")
		c.RemoveEventListener("x", second, false)
		c.AddEventListener("x", recorder(&got, "late"), false)
		return nil
	}}
	c.AddEventListener("x", first, false)
	c.AddEventListener("x", second, false)
	c.DispatchEvent(&Event{Type: "x", Data: "d"})
	if diff := cmp.Diff([]string{"first", "second:d"}, got); diff != "" {
		t.Errorf("-want +got\n%s", diff)
	}
}

func TestDispatchMessage(t *testing.T) {
	reported := []error{}
	c := newContext(t, Options{ErrorSink: func(err error) { reported = append(reported, err) }})
	got := []string{}
	c.AddEventListener(MessageEvent, recorder(&got, "listener"), false)
	c.AddEventListener(MessageEvent, &NativeListener{Func: func(*Event) error {
		return errors.New("boom")
	}}, false)
	c.AddEventListener(MessageEvent, recorder(&got, "after"), false)
	c.SetOnMessage(recorder(&got, "onmessage"))
	c.DispatchEvent(&Event{Type: MessageEvent, Data: "hi"})
	if diff := cmp.Diff([]string{"onmessage:hi", "listener:hi", "after:hi"}, got); diff != "" {
		t.Errorf("-want +got\n%s", diff)
	}
	if len(reported) != 1 || reported[0].Error() != "boom" {
		t.Errorf("reported %v, want [boom]", reported)
	}

	got = got[:0]
	c.DispatchEvent(&Event{Type: "other"})
	if len(got) != 0 {
		t.Errorf("onmessage ran for a non message event: %v", got)
	}
}

func TestLazyLocationNavigator(t *testing.T) {
	c := newContext(t, Options{ScriptURL: "https://example.com:8443/w/main.js?x=1#top", UserAgent: "test/1"})
	if c.OptionalLocation() != nil || c.OptionalNavigator() != nil {
		t.Fatalf("location or navigator created eagerly")
	}
	loc := c.Location()
	if loc != c.Location() || c.OptionalLocation() != loc {
		t.Errorf("Location() not cached")
	}
	for _, tc := range []struct {
		name string
		got  string
		want string
	}{
		{"href", loc.Href(), "https://example.com:8443/w/main.js?x=1#top"},
		{"protocol", loc.Protocol(), "https:"},
		{"host", loc.Host(), "example.com:8443"},
		{"hostname", loc.Hostname(), "example.com"},
		{"port", loc.Port(), "8443"},
		{"pathname", loc.Pathname(), "/w/main.js"},
		{"search", loc.Search(), "?x=1"},
		{"hash", loc.Hash(), "#top"},
		{"userAgent", c.Navigator().UserAgent, "test/1"},
	} {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
	if c.OptionalNavigator() != c.Navigator() {
		t.Errorf("Navigator() not cached")
	}
}

type loaderFunc func(ctx context.Context, req ImportRequest, eval Evaluator) error

func (f loaderFunc) ImportScripts(ctx context.Context, req ImportRequest, eval Evaluator) error {
	return f(ctx, req, eval)
}

func TestImportScripts(t *testing.T) {
	requests := []ImportRequest{}
	c := newContext(t, Options{Loader: loaderFunc(func(_ context.Context, req ImportRequest, eval Evaluator) error {
		requests = append(requests, req)
		return eval.Evaluate(req.URLs[0], "source")
	})})
	evaluated := []string{}
	eval := EvaluatorFunc(func(url, source string) error {
		evaluated = append(evaluated, url+"="+source)
		return nil
	})
	if err := c.ImportScripts(nil, "main.js", 3, eval); err != nil {
		t.Errorf("empty import: %v", err)
	}
	if len(requests) != 0 {
		t.Errorf("empty import reached the loader")
	}
	if err := c.ImportScripts([]string{"a.js"}, "main.js", -4, eval); err != nil {
		t.Fatal(err)
	}
	want := []ImportRequest{{URLs: []string{"a.js"}, BaseURL: "file:///scripts/main.js", CallerURL: "main.js", CallerLine: 0}}
	if diff := cmp.Diff(want, requests); diff != "" {
		t.Errorf("requests: -want +got\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.js=source"}, evaluated); diff != "" {
		t.Errorf("evaluated: -want +got\n%s", diff)
	}
}

type tracedListener struct {
	NativeListener
	handle *int
}

func (l *tracedListener) Trace(m gc.Marker) {
	m.Mark(l.handle)
}

type tracedAction struct {
	handle *int
}

func (a *tracedAction) Fire() {}

func (a *tracedAction) Trace(m gc.Marker) {
	m.Mark(a.handle)
}

func TestTrace(t *testing.T) {
	c := newContext(t, Options{})
	collector := gc.New(gc.Options{})
	collector.AddRoot(c)

	listenerHandle, actionHandle, onMessageHandle := new(int), new(int), new(int)
	for _, h := range []*int{listenerHandle, actionHandle, onMessageHandle} {
		collector.Track(h, nil)
	}
	l := &tracedListener{handle: listenerHandle}
	c.AddEventListener("x", l, false)
	id := c.SetTimer(&tracedAction{handle: actionHandle}, time.Hour, false)
	c.SetOnMessage(&tracedListener{handle: onMessageHandle})

	collector.Collect()
	collector.Collect()
	for name, h := range map[string]*int{"listener": listenerHandle, "action": actionHandle, "onmessage": onMessageHandle} {
		if !collector.Alive(h) {
			t.Errorf("%s swept while reachable", name)
		}
	}

	c.RemoveEventListener("x", l, false)
	c.ClearTimer(id)
	c.SetOnMessage(nil)
	collector.Collect()
	for name, h := range map[string]*int{"listener": listenerHandle, "action": actionHandle, "onmessage": onMessageHandle} {
		if collector.Alive(h) {
			t.Errorf("%s survived after release", name)
		}
	}
}

func TestSetTimerAfterClose(t *testing.T) {
	c := newContext(t, Options{})
	before := c.SetTimer(timers.ActionFunc(func() {}), time.Hour, false)
	c.Close()
	after := c.SetTimer(timers.ActionFunc(func() {}), time.Hour, true)
	if before <= 0 || after <= before {
		t.Errorf("ids around close = %d, %d, want positive and increasing", before, after)
	}
	if c.Timers().Has(after) || c.Timers().Len() != 1 {
		t.Errorf("timer set after close is pending, Len() = %d", c.Timers().Len())
	}
}

func TestRun(t *testing.T) {
	messages := []any{}
	c := newContext(t, Options{MessageSink: func(data any) { messages = append(messages, data) }})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	if err := c.Post(func() {
		count := 0
		var id int32
		id = c.SetTimer(timers.ActionFunc(func() {
			count++
			c.PostMessage(count)
			if count == 3 {
				c.ClearTimer(id)
				c.SetTimer(timers.ActionFunc(c.Close), 0, false)
			}
		}), time.Millisecond, true)
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-ctx.Done():
		t.Fatal("worker did not close")
	}
	<-c.Done()
	if diff := cmp.Diff([]any{1, 2, 3}, messages); diff != "" {
		t.Errorf("messages: -want +got\n%s", diff)
	}
	if err := c.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after close = %v, want ErrClosed", err)
	}
	if c.Timers().Len() != 0 {
		t.Errorf("timers left after close: %d", c.Timers().Len())
	}
}

func TestRunUntilIdle(t *testing.T) {
	reported := []error{}
	c := newContext(t, Options{ErrorSink: func(err error) { reported = append(reported, err) }})
	fired := 0
	c.Post(func() {
		c.SetTimer(timers.ActionFunc(func() { fired++ }), 2*time.Millisecond, false)
		c.SetTimer(timers.ActionFunc(func() { panic("bad timer") }), time.Millisecond, false)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.RunUntilIdle(ctx); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if len(reported) != 1 {
		t.Errorf("reported %v, want the panic", reported)
	}
}

func TestRunCancelled(t *testing.T) {
	c := newContext(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
