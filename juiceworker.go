// Package juiceworker holds helpers shared by every package of the worker
// runtime: stack-carrying errors and a small generic concurrent map.
package juiceworker

import (
	"bytes"
	"fmt"
	"iter"
	"sync"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStack annotates err with a stack trace unless it already carries one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

// StackTrace renders the stack trace carried by err, or "" if it has none.
func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	var tracer stackTracer
	if errors.As(err, &tracer) {
		for _, f := range tracer.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}

// SyncMap is a map guarded by a RWMutex.
type SyncMap[K comparable, V any] struct {
	m     map[K]V
	mutex sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: map[K]V{},
	}
}

func (s *SyncMap[K, V]) Each() iter.Seq2[K, V] {
	return func(yield func(k K, v V) bool) {
		for k, v := range s.Clone() {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Clone returns a copy of the current contents.
func (s *SyncMap[K, V]) Clone() map[K]V {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := make(map[K]V, len(s.m))
	for k, v := range s.m {
		result[k] = v
	}
	return result
}

func (s *SyncMap[K, V]) GetHas(key K) (V, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, found := s.m[key]
	return v, found
}

func (s *SyncMap[K, V]) Set(key K, value V) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.m[key] = value
}

func (s *SyncMap[K, V]) Del(key K) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.m)
}
