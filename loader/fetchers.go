package loader

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
)

// Fetcher loads the source of an absolute, slash separated path. Missing
// sources return an error wrapping os.ErrNotExist.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (source []byte, mtime int64, err error)
}

// DirFetcher serves files below Root.
type DirFetcher struct {
	Root string
}

func (d DirFetcher) Fetch(ctx context.Context, p string) ([]byte, int64, error) {
	clean := path.Clean("/" + p)
	full := filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	info, err := os.Stat(full)
	if err != nil {
		return nil, 0, juiceworker.WithStack(err)
	}
	if info.IsDir() {
		return nil, 0, errors.Wrapf(os.ErrNotExist, "%s is a directory", p)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, 0, juiceworker.WithStack(err)
	}
	return b, info.ModTime().UnixNano(), nil
}

// MapFetcher serves sources from memory. It is safe for concurrent use.
type MapFetcher struct {
	mu      sync.RWMutex
	sources map[string]string
	mtimes  map[string]int64
}

func NewMapFetcher(sources map[string]string) *MapFetcher {
	m := &MapFetcher{
		sources: map[string]string{},
		mtimes:  map[string]int64{},
	}
	for p, src := range sources {
		m.Set(p, src)
	}
	return m
}

func (m *MapFetcher) Set(p string, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean("/" + p)
	m.sources[p] = source
	m.mtimes[p] = time.Now().UnixNano()
}

func (m *MapFetcher) Fetch(ctx context.Context, p string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p = path.Clean("/" + p)
	src, found := m.sources[p]
	if !found {
		return nil, 0, errors.Wrap(os.ErrNotExist, p)
	}
	return []byte(src), m.mtimes[p], nil
}
