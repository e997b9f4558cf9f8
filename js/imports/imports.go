// Package imports expands `// @import path` directives in worker scripts.
// Imports are concatenated depth first, dependencies before dependents, and
// every file appears once.
package imports

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-pkgz/expirable-cache/v3"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
)

// importPattern matches `// @import path` at the start of a line.
var importPattern = regexp.MustCompile(`(?m)^// @import\s+(\S+)\s*$`)

// ErrCycle is returned, wrapped, when a file imports itself.
var ErrCycle = errors.New("circular import")

// LoadFunc loads the raw source of a path and its modification time.
type LoadFunc func(ctx context.Context, path string) (source []byte, mtime int64, err error)

// Result is a resolved script.
type Result struct {
	Source   string
	MaxMtime int64
	// Deps lists every file in the dependency tree, the root first.
	Deps []string
}

type Options struct {
	// TTL is how long resolved scripts are cached. Zero disables the cache.
	TTL     time.Duration
	MaxKeys int
}

// Resolver resolves and caches scripts. It is safe for concurrent use.
type Resolver struct {
	cache cache.Cache[string, *Result]
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{}
	if opts.TTL > 0 {
		r.cache = cache.NewCache[string, *Result]().WithTTL(opts.TTL).WithMaxKeys(opts.MaxKeys)
	}
	return r
}

// Resolve loads sourcePath and everything it imports.
func (r *Resolver) Resolve(ctx context.Context, sourcePath string, load LoadFunc) (*Result, error) {
	if r.cache != nil {
		if res, found := r.cache.Get(sourcePath); found {
			return res, nil
		}
	}
	rs := &resolveState{
		inProgress: map[string]bool{},
		included:   map[string]bool{},
		load:       load,
	}
	res := &Result{}
	buf := &strings.Builder{}
	if err := rs.resolve(ctx, sourcePath, buf, res); err != nil {
		return nil, err
	}
	res.Source = buf.String()
	if r.cache != nil {
		r.cache.Add(sourcePath, res)
	}
	return res, nil
}

// Invalidate drops sourcePath and every cached script depending on it.
func (r *Resolver) Invalidate(sourcePath string) {
	if r.cache == nil {
		return
	}
	for _, key := range r.cache.Keys() {
		if res, found := r.cache.Peek(key); found {
			for _, dep := range res.Deps {
				if dep == sourcePath {
					r.cache.Invalidate(key)
					break
				}
			}
		}
	}
}

func (r *Resolver) InvalidateAll() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

type resolveState struct {
	inProgress map[string]bool
	included   map[string]bool
	load       LoadFunc
}

func (rs *resolveState) resolve(ctx context.Context, sourcePath string, buf *strings.Builder, res *Result) error {
	if rs.inProgress[sourcePath] {
		return errors.Wrap(ErrCycle, sourcePath)
	}
	if rs.included[sourcePath] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return juiceworker.WithStack(err)
	}
	rs.inProgress[sourcePath] = true
	defer delete(rs.inProgress, sourcePath)

	source, mtime, err := rs.load(ctx, sourcePath)
	if err != nil {
		return errors.Wrapf(err, "loading %s", sourcePath)
	}
	if mtime > res.MaxMtime {
		res.MaxMtime = mtime
	}
	res.Deps = append(res.Deps, sourcePath)

	for _, imp := range ParseImports(string(source)) {
		if err := rs.resolve(ctx, ResolvePath(sourcePath, imp), buf, res); err != nil {
			return errors.Wrapf(err, "in %s", sourcePath)
		}
	}
	buf.WriteString(RemoveImports(string(source)))
	rs.included[sourcePath] = true
	return nil
}

// ParseImports returns the import paths of source in order.
func ParseImports(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, match[1])
	}
	return result
}

// RemoveImports blanks the import lines of source, keeping line numbers.
func RemoveImports(source string) string {
	return importPattern.ReplaceAllString(source, "")
}

// ResolvePath resolves importPath against the file importing it. Paths
// starting with / are absolute.
func ResolvePath(fromPath, importPath string) string {
	if strings.HasPrefix(importPath, "/") {
		return path.Clean(importPath)
	}
	return path.Join(path.Dir(fromPath), importPath)
}
