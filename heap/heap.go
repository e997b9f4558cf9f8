// Package heap is a generic binary min-heap whose elements can learn their
// position, so they can later be removed or re-sorted in place.
package heap

type Heap[T any] struct {
	data     []T
	less     func(a, b T) bool
	setIndex func(value T, index int)
}

// New returns a heap ordered by less. setIndex may be nil; otherwise it is
// called every time an element moves, and with -1 when it leaves the heap.
func New[T any](less func(a, b T) bool, setIndex func(value T, index int)) *Heap[T] {
	if setIndex == nil {
		setIndex = func(T, int) {}
	}
	return &Heap[T]{
		data:     []T{},
		less:     less,
		setIndex: setIndex,
	}
}

func (h *Heap[T]) Push(value T) {
	h.data = append(h.data, value)
	h.setIndex(value, len(h.data)-1)
	h.up(len(h.data) - 1)
}

func (h *Heap[T]) Pop() (T, bool) {
	return h.Remove(0)
}

// Remove takes out the element at index.
func (h *Heap[T]) Remove(index int) (T, bool) {
	if index < 0 || index >= len(h.data) {
		var zero T
		return zero, false
	}
	last := len(h.data) - 1
	removed := h.data[index]
	if index != last {
		h.swap(index, last)
	}
	var zero T
	h.data[last] = zero
	h.data = h.data[:last]
	h.setIndex(removed, -1)
	if index != last {
		h.Fix(index)
	}
	return removed, true
}

// Fix restores heap order after the element at index changed priority.
func (h *Heap[T]) Fix(index int) {
	if !h.down(index) {
		h.up(index)
	}
}

func (h *Heap[T]) Peek() (T, bool) {
	if len(h.data) == 0 {
		var zero T
		return zero, false
	}
	return h.data[0], true
}

func (h *Heap[T]) Size() int {
	return len(h.data)
}

// Each visits the elements in heap, not priority, order.
func (h *Heap[T]) Each(f func(T)) {
	for _, v := range h.data {
		f(v)
	}
}

func (h *Heap[T]) swap(i, j int) {
	h.data[i], h.data[j] = h.data[j], h.data[i]
	h.setIndex(h.data[i], i)
	h.setIndex(h.data[j], j)
}

func (h *Heap[T]) up(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if !h.less(h.data[index], h.data[parent]) {
			return
		}
		h.swap(index, parent)
		index = parent
	}
}

// down reports whether the element moved.
func (h *Heap[T]) down(index int) bool {
	start := index
	size := len(h.data)
	for {
		smallest := index
		if left := 2*index + 1; left < size && h.less(h.data[left], h.data[smallest]) {
			smallest = left
		}
		if right := 2*index + 2; right < size && h.less(h.data[right], h.data[smallest]) {
			smallest = right
		}
		if smallest == index {
			return index > start
		}
		h.swap(index, smallest)
		index = smallest
	}
}
