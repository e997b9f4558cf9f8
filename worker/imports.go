package worker

import (
	"context"

	"go.uber.org/zap"
)

// Evaluator runs fetched script source in the worker.
type Evaluator interface {
	Evaluate(url string, source string) error
}

// EvaluatorFunc adapts a function to an Evaluator.
type EvaluatorFunc func(url string, source string) error

func (f EvaluatorFunc) Evaluate(url string, source string) error {
	return f(url, source)
}

type ImportRequest struct {
	URLs []string
	// BaseURL is what relative URLs resolve against.
	BaseURL    string
	CallerURL  string
	CallerLine int
}

// ScriptLoader fetches and evaluates scripts synchronously and in order,
// stopping at the first failure.
type ScriptLoader interface {
	ImportScripts(ctx context.Context, req ImportRequest, eval Evaluator) error
}

// ImportScripts loads urls through the configured loader. An empty urls is
// a no-op.
func (c *Context) ImportScripts(urls []string, callerURL string, callerLine int, eval Evaluator) error {
	if len(urls) == 0 {
		return nil
	}
	if callerLine < 0 {
		callerLine = 0
	}
	c.logger.Debug("importScripts",
		zap.Strings("urls", urls),
		zap.String("caller", callerURL),
		zap.Int("line", callerLine))
	return c.loader.ImportScripts(c.ctx, ImportRequest{
		URLs:       urls,
		BaseURL:    c.scriptURL.String(),
		CallerURL:  callerURL,
		CallerLine: callerLine,
	}, eval)
}
