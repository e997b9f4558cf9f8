// Package loader implements importScripts: URLs are resolved against the
// worker location, fetched from a local Fetcher with their `// @import`
// directives expanded, and evaluated in order.
package loader

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juiceworker/dom"
	"github.com/zond/juiceworker/js/imports"
	"github.com/zond/juiceworker/metrics"
	"github.com/zond/juiceworker/worker"
	"go.uber.org/zap"
)

type Options struct {
	Fetcher Fetcher
	// CacheTTL is how long fetched scripts are cached. Zero disables caching.
	CacheTTL     time.Duration
	CacheMaxKeys int
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Loader is a worker.ScriptLoader. It is safe for concurrent use by many
// workers.
type Loader struct {
	fetcher  Fetcher
	resolver *imports.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(opts Options) *Loader {
	l := &Loader{
		fetcher: opts.Fetcher,
		resolver: imports.NewResolver(imports.Options{
			TTL:     opts.CacheTTL,
			MaxKeys: opts.CacheMaxKeys,
		}),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Resolve turns ref into an absolute URL using base.
func Resolve(base string, ref string) (*url.URL, error) {
	b, err := url.Parse(base)
	if err != nil {
		return nil, dom.New(dom.SyntaxError, "invalid base URL %q: %v", base, err)
	}
	u, err := b.Parse(ref)
	if err != nil {
		return nil, dom.New(dom.SyntaxError, "invalid URL %q: %v", ref, err)
	}
	return u, nil
}

func localPath(u *url.URL) (string, error) {
	switch u.Scheme {
	case "", "file":
		if u.Path == "" {
			return "", dom.New(dom.NetworkError, "no path in %q", u.String())
		}
		return u.Path, nil
	}
	return "", dom.New(dom.NetworkError, "unsupported scheme %q in %q", u.Scheme, u.String())
}

// Invalidate drops cached scripts depending on path.
func (l *Loader) Invalidate(path string) {
	l.resolver.Invalidate(path)
}

func (l *Loader) fail(reason string, err error) error {
	l.metrics.ImportFailed(reason)
	return err
}

// ImportScripts resolves every URL before loading any. Then each script is
// fetched and evaluated in turn; the first failure ends the import.
// Resolution failures are SyntaxErrors, fetch failures NetworkErrors and
// import cycles SyntaxErrors. Evaluation errors are returned as is.
func (l *Loader) ImportScripts(ctx context.Context, req worker.ImportRequest, eval worker.Evaluator) error {
	resolved := make([]*url.URL, 0, len(req.URLs))
	for _, ref := range req.URLs {
		u, err := Resolve(req.BaseURL, ref)
		if err != nil {
			return l.fail("syntax", err)
		}
		resolved = append(resolved, u)
	}
	for _, u := range resolved {
		p, err := localPath(u)
		if err != nil {
			return l.fail("network", err)
		}
		res, err := l.resolver.Resolve(ctx, p, l.fetcher.Fetch)
		if errors.Is(err, imports.ErrCycle) {
			return l.fail("cycle", dom.New(dom.SyntaxError, "%v", err))
		} else if err != nil {
			l.logger.Info("fetching script failed",
				zap.String("url", u.String()),
				zap.String("caller", req.CallerURL),
				zap.Int("line", req.CallerLine),
				zap.Error(err))
			return l.fail("network", dom.New(dom.NetworkError, "loading %s: %v", u.String(), err))
		}
		l.metrics.Imported()
		if err := eval.Evaluate(u.String(), res.Source); err != nil {
			return l.fail("script", err)
		}
	}
	return nil
}
