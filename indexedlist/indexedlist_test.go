package indexedlist

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker/dom"
	"github.com/zond/juiceworker/gc"
)

func listOf(items ...string) *List[string] {
	l := NewComparable[string]()
	for _, item := range items {
		l.AppendItem(item)
	}
	return l
}

func TestItemBounds(t *testing.T) {
	empty := listOf()
	for _, i := range []int{-1, 0, 1, 5} {
		got, err := empty.Item(i)
		if got != "" {
			t.Errorf("empty.Item(%d) = %q, want null item", i, got)
		}
		if dom.CodeOf(err) != dom.IndexSizeError {
			t.Errorf("empty.Item(%d) err = %v, want IndexSizeError", i, err)
		}
	}

	l := listOf("a", "b", "c")
	if got, err := l.Item(2); err != nil || got != "c" {
		t.Errorf("Item(2) = %q, %v, want c, nil", got, err)
	}
	if got, err := l.At(l.Len()); got != "" || !errors.Is(err, dom.Err(dom.IndexSizeError)) {
		t.Errorf("At(size) = %q, %v, want null item and IndexSizeError", got, err)
	}
}

func TestFirstLast(t *testing.T) {
	l := New[string](FuncPolicy[string]{NullItem: "<none>", EqualFunc: strings.EqualFold})
	if got := l.First(); got != "<none>" {
		t.Errorf("First() = %q, want <none>", got)
	}
	if got := l.Last(); got != "<none>" {
		t.Errorf("Last() = %q, want <none>", got)
	}
	l.AppendItem("a")
	l.AppendItem("B")
	if got := l.First(); got != "a" {
		t.Errorf("First() = %q, want a", got)
	}
	if got := l.Last(); got != "B" {
		t.Errorf("Last() = %q, want B", got)
	}
	if !l.RemoveValue("b") {
		t.Errorf("RemoveValue(b) should use the policy equality")
	}
	if diff := cmp.Diff([]string{"a"}, l.Snapshot()); diff != "" {
		t.Errorf("after RemoveValue: -want +got\n%s", diff)
	}
}

func TestMutations(t *testing.T) {
	for _, tc := range []struct {
		name     string
		initial  []string
		op       func(l *List[string]) (string, error)
		want     []string
		returned string
		code     dom.ExceptionCode
	}{
		{
			name:     "insert at front",
			initial:  []string{"a", "b"},
			op:       func(l *List[string]) (string, error) { return l.InsertItemBefore("x", 0) },
			want:     []string{"x", "a", "b"},
			returned: "x",
		},
		{
			name:     "insert at size appends",
			initial:  []string{"a", "b"},
			op:       func(l *List[string]) (string, error) { return l.InsertItemBefore("x", 2) },
			want:     []string{"a", "b", "x"},
			returned: "x",
		},
		{
			name:    "insert beyond size",
			initial: []string{"a", "b"},
			op:      func(l *List[string]) (string, error) { return l.InsertItemBefore("x", 3) },
			want:    []string{"a", "b"},
			code:    dom.IndexSizeError,
		},
		{
			name:     "append",
			initial:  []string{"a", "b"},
			op:       func(l *List[string]) (string, error) { return l.AppendItem("x") },
			want:     []string{"a", "b", "x"},
			returned: "x",
		},
		{
			name:     "remove middle",
			initial:  []string{"a", "b", "c"},
			op:       func(l *List[string]) (string, error) { return l.RemoveItem(1) },
			want:     []string{"a", "c"},
			returned: "b",
		},
		{
			name:    "remove at size",
			initial: []string{"a", "b", "c"},
			op:      func(l *List[string]) (string, error) { return l.RemoveItem(3) },
			want:    []string{"a", "b", "c"},
			code:    dom.IndexSizeError,
		},
		{
			name:     "replace",
			initial:  []string{"a", "b", "c"},
			op:       func(l *List[string]) (string, error) { return l.ReplaceItem("x", 2) },
			want:     []string{"a", "b", "x"},
			returned: "x",
		},
		{
			name:    "replace at size",
			initial: []string{"a"},
			op:      func(l *List[string]) (string, error) { return l.ReplaceItem("x", 1) },
			want:    []string{"a"},
			code:    dom.IndexSizeError,
		},
		{
			name:     "initialize non empty",
			initial:  []string{"a", "b", "c"},
			op:       func(l *List[string]) (string, error) { return l.Initialize("x") },
			want:     []string{"x"},
			returned: "x",
		},
		{
			name:     "initialize empty",
			op:       func(l *List[string]) (string, error) { return l.Initialize("x") },
			want:     []string{"x"},
			returned: "x",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := listOf(tc.initial...)
			got, err := tc.op(l)
			if code := dom.CodeOf(err); code != tc.code {
				t.Errorf("code = %v, want %v (err %v)", code, tc.code, err)
			}
			if got != tc.returned {
				t.Errorf("returned %q, want %q", got, tc.returned)
			}
			if diff := cmp.Diff(tc.want, l.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("items: -want +got\n%s", diff)
			}
			if l.Len() != len(tc.want) {
				t.Errorf("Len() = %d, want %d", l.Len(), len(tc.want))
			}
		})
	}
}

func TestRemoveValue(t *testing.T) {
	l := listOf("a", "b", "a")
	if !l.RemoveValue("a") {
		t.Fatalf("RemoveValue(a) = false")
	}
	if l.RemoveValue("z") {
		t.Errorf("RemoveValue(z) = true on missing item")
	}
	if diff := cmp.Diff([]string{"b", "a"}, l.Snapshot()); diff != "" {
		t.Errorf("-want +got\n%s", diff)
	}
	var seen []string
	for _, item := range l.All() {
		seen = append(seen, item)
	}
	if diff := cmp.Diff([]string{"b", "a"}, seen); diff != "" {
		t.Errorf("All(): -want +got\n%s", diff)
	}
	l.Clear()
	if l.Len() != 0 {
		t.Errorf("Len() after Clear = %d", l.Len())
	}
}

type handle struct {
	name string
}

type holder struct {
	held *handle
}

func (h holder) Trace(m gc.Marker) {
	m.MarkIfNotNil(h.held)
}

func TestTraceItems(t *testing.T) {
	c := gc.New(gc.Options{})
	kept, held, dropped := &handle{"kept"}, &handle{"held"}, &handle{"dropped"}
	for _, h := range []*handle{kept, held, dropped} {
		c.Track(h, nil)
	}

	handles := NewComparable[*handle]()
	handles.AppendItem(kept)
	handles.AppendItem(nil)
	holders := New[holder](FuncPolicy[holder]{
		EqualFunc: func(a, b holder) bool { return a.held == b.held },
	})
	holders.AppendItem(holder{held: held})
	holders.AppendItem(holder{})

	defer c.AddRoot(gc.TracerFunc(func(m gc.Marker) {
		TraceItems(handles, m)
		TraceItems(holders, m)
	}))()

	if got := c.Collect(); got != (gc.Stats{Marked: 2, Swept: 1}) {
		t.Errorf("Collect() = %+v", got)
	}
	if !c.Alive(kept) || !c.Alive(held) || c.Alive(dropped) {
		t.Errorf("alive kept=%v held=%v dropped=%v", c.Alive(kept), c.Alive(held), c.Alive(dropped))
	}
}
