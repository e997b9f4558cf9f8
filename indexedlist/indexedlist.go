// Package indexedlist provides an ordered, index addressed list with
// DOM style bounds checked mutation.
package indexedlist

import (
	"iter"
	"slices"

	"github.com/zond/juiceworker/dom"
	"github.com/zond/juiceworker/gc"
)

// Policy describes the item type of a List: the sentinel returned by failed
// reads, and equality for removal by value.
type Policy[T any] interface {
	Null() T
	Equal(a, b T) bool
}

// ComparablePolicy uses the zero value as sentinel and == for equality.
type ComparablePolicy[T comparable] struct{}

func (ComparablePolicy[T]) Null() T {
	var zero T
	return zero
}

func (ComparablePolicy[T]) Equal(a, b T) bool {
	return a == b
}

// FuncPolicy adapts a sentinel and an equality function into a Policy.
type FuncPolicy[T any] struct {
	NullItem  T
	EqualFunc func(a, b T) bool
}

func (f FuncPolicy[T]) Null() T {
	return f.NullItem
}

func (f FuncPolicy[T]) Equal(a, b T) bool {
	return f.EqualFunc(a, b)
}

// List is not safe for concurrent use. It is owned by a single worker.
type List[T any] struct {
	items  []T
	policy Policy[T]
}

func New[T any](policy Policy[T]) *List[T] {
	return &List[T]{policy: policy}
}

// NewComparable returns a list using ComparablePolicy.
func NewComparable[T comparable]() *List[T] {
	return New[T](ComparablePolicy[T]{})
}

func (l *List[T]) indexSizeError(index int, size int) error {
	return dom.New(dom.IndexSizeError, "index %d is not below size %d", index, size)
}

func (l *List[T]) Len() int {
	return len(l.items)
}

// Clear drops all items.
func (l *List[T]) Clear() {
	clear(l.items)
	l.items = l.items[:0]
}

// Initialize replaces the contents with the single item x.
func (l *List[T]) Initialize(x T) (T, error) {
	l.Clear()
	return l.AppendItem(x)
}

// First returns the first item, or the null item if the list is empty.
func (l *List[T]) First() T {
	if len(l.items) == 0 {
		return l.policy.Null()
	}
	return l.items[0]
}

// Last returns the last item, or the null item if the list is empty.
func (l *List[T]) Last() T {
	if len(l.items) == 0 {
		return l.policy.Null()
	}
	return l.items[len(l.items)-1]
}

func (l *List[T]) inRange(index int) bool {
	return index >= 0 && index < len(l.items)
}

// Item returns the item at index. Out of range indices, index == Len()
// included, return the null item and an IndexSizeError.
func (l *List[T]) Item(index int) (T, error) {
	if !l.inRange(index) {
		return l.policy.Null(), l.indexSizeError(index, len(l.items))
	}
	return l.items[index], nil
}

// At is the read only accessor. Same bounds as Item.
func (l *List[T]) At(index int) (T, error) {
	return l.Item(index)
}

// InsertItemBefore inserts x before index. index == Len() appends.
func (l *List[T]) InsertItemBefore(x T, index int) (T, error) {
	if index < 0 || index > len(l.items) {
		return l.policy.Null(), l.indexSizeError(index, len(l.items)+1)
	}
	l.items = slices.Insert(l.items, index, x)
	return x, nil
}

// ReplaceItem overwrites the item at index and returns x.
func (l *List[T]) ReplaceItem(x T, index int) (T, error) {
	if !l.inRange(index) {
		return l.policy.Null(), l.indexSizeError(index, len(l.items))
	}
	l.items[index] = x
	return x, nil
}

// RemoveItem removes and returns the item at index.
func (l *List[T]) RemoveItem(index int) (T, error) {
	if !l.inRange(index) {
		return l.policy.Null(), l.indexSizeError(index, len(l.items))
	}
	removed := l.items[index]
	l.items = slices.Delete(l.items, index, index+1)
	return removed, nil
}

// RemoveValue removes the first item equal to x. It reports whether anything
// was removed.
func (l *List[T]) RemoveValue(x T) bool {
	for i, item := range l.items {
		if l.policy.Equal(item, x) {
			l.items = slices.Delete(l.items, i, i+1)
			return true
		}
	}
	return false
}

// AppendItem appends x and returns it.
func (l *List[T]) AppendItem(x T) (T, error) {
	l.items = append(l.items, x)
	return x, nil
}

// All iterates over the current items.
func (l *List[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, item := range l.items {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the items, safe to range over while the list
// is mutated.
func (l *List[T]) Snapshot() []T {
	return slices.Clone(l.items)
}

// TraceItems lets every item implementing gc.Tracer trace itself, and marks
// the other items as handles.
func TraceItems[T any](l *List[T], m gc.Marker) {
	for _, item := range l.items {
		if t, ok := any(item).(gc.Tracer); ok {
			t.Trace(m)
		} else {
			m.MarkIfNotNil(item)
		}
	}
}
