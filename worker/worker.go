// Package worker holds the engine independent state of a worker: its event
// listeners, message handler, location and navigator, scheduled actions and
// script loader, and the single goroutine loop that runs them.
package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/indexedlist"
	"github.com/zond/juiceworker/metrics"
	"github.com/zond/juiceworker/timers"
	"go.uber.org/zap"
)

const MessageEvent = "message"

var ErrClosed = errors.New("worker is closed")

type Options struct {
	// ScriptURL is the worker location and the base for relative imports.
	ScriptURL string
	UserAgent string
	Loader    ScriptLoader
	// MinTimerDelay is the smallest delay timers can be scheduled with.
	MinTimerDelay time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// MessageSink receives everything the worker posts.
	MessageSink func(data any)
	// ErrorSink receives uncaught errors, e.g. from listeners and timers.
	ErrorSink func(err error)
	// Idle, if set, is called by the loop every IdleInterval while running.
	Idle         func()
	IdleInterval time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Context is a worker. Apart from Post, Close and Done, its methods must be
// called on the goroutine running Run, i.e. from posted tasks, timers and
// event handlers.
type Context struct {
	id          uuid.UUID
	scriptURL   *url.URL
	userAgent   string
	listeners   map[string]*indexedlist.List[RegisteredListener]
	onMessage   Listener
	location    *Location
	navigator   *Navigator
	timers      *timers.Table
	loader      ScriptLoader
	messageSink func(any)
	errorSink   func(error)
	idle        func()
	idleEvery   time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
	ctx         context.Context

	mu      sync.Mutex
	tasks   []func()
	closing bool
	wake    chan struct{} // Buffered(1), signals a new task or close
	done    chan struct{} // Closed when Run exits
}

func New(opts Options) (*Context, error) {
	scriptURL, err := url.Parse(opts.ScriptURL)
	if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	c := &Context{
		id:          uuid.New(),
		scriptURL:   scriptURL,
		userAgent:   opts.UserAgent,
		listeners:   map[string]*indexedlist.List[RegisteredListener]{},
		loader:      opts.Loader,
		messageSink: opts.MessageSink,
		errorSink:   opts.ErrorSink,
		idle:        opts.Idle,
		idleEvery:   opts.IdleInterval,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		ctx:         context.Background(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("worker", c.id.String()))
	if c.loader == nil {
		c.loader = noLoader{}
	}
	c.timers = timers.New(timers.Options{
		Clock:    opts.Clock,
		MinDelay: opts.MinTimerDelay,
		Metrics:  opts.Metrics,
	})
	return c, nil
}

type noLoader struct{}

func (noLoader) ImportScripts(context.Context, ImportRequest, Evaluator) error {
	return errors.New("no script loader configured")
}

func (c *Context) ID() uuid.UUID {
	return c.id
}

func (c *Context) Logger() *zap.Logger {
	return c.logger
}

func (c *Context) ScriptURL() *url.URL {
	return c.scriptURL
}

func (c *Context) Timers() *timers.Table {
	return c.timers
}

// SetTimer schedules action and returns its id. Once the worker is closing
// the id is issued but nothing is scheduled.
func (c *Context) SetTimer(action timers.Action, delay time.Duration, repeat bool) int32 {
	if c.Closing() {
		return c.timers.IssueID()
	}
	return c.timers.Schedule(action, delay, repeat)
}

// ClearTimer cancels a pending timer. Unknown ids are ignored.
func (c *Context) ClearTimer(id int32) {
	c.timers.Cancel(id)
}

// PostMessage hands data to the message sink.
func (c *Context) PostMessage(data any) {
	if c.messageSink != nil {
		c.messageSink(data)
	}
}

// signal sends a non-blocking wake signal.
func (c *Context) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Post queues f to run on the worker goroutine.
func (c *Context) Post(f func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return errors.WithStack(ErrClosed)
	}
	c.tasks = append(c.tasks, f)
	c.signal()
	return nil
}

// Close makes the loop stop after the current task. Pending timers are
// dropped.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	c.signal()
}

func (c *Context) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Done is closed when Run has returned.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

func (c *Context) takeTasks() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := c.tasks
	c.tasks = nil
	return tasks
}

func (c *Context) hasTasks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks) > 0
}

func (c *Context) runTask(f func()) {
	defer func() {
		if e := recover(); e != nil {
			err, ok := e.(error)
			if !ok {
				err = errors.Errorf("%v", e)
			}
			c.ReportError(juiceworker.WithStack(err))
		}
	}()
	f()
}

// Idle reports whether the worker has neither queued tasks nor pending
// timers.
func (c *Context) Idle() bool {
	return !c.hasTasks() && c.timers.Len() == 0
}

// Run is the worker loop. It runs posted tasks and due timers until the
// worker is closed or ctx is done.
func (c *Context) Run(ctx context.Context) error {
	return c.run(ctx, false)
}

// RunUntilIdle is Run, but also returns once the worker is idle.
func (c *Context) RunUntilIdle(ctx context.Context) error {
	return c.run(ctx, true)
}

func (c *Context) run(ctx context.Context, untilIdle bool) error {
	defer close(c.done)
	c.ctx = ctx
	c.metrics.WorkerStarted()
	c.logger.Debug("worker started", zap.String("url", c.scriptURL.String()))
	defer func() {
		c.timers.Clear()
		c.removeAllListeners()
		c.onMessage = nil
		c.metrics.WorkerStopped()
		c.logger.Debug("worker stopped")
	}()

	if ctx.Err() != nil {
		return juiceworker.WithStack(ctx.Err())
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var idleC <-chan time.Time
	if c.idle != nil && c.idleEvery > 0 {
		ticker := time.NewTicker(c.idleEvery)
		defer ticker.Stop()
		idleC = ticker.C
	}

	for {
		for _, task := range c.takeTasks() {
			if c.Closing() {
				return nil
			}
			c.runTask(task)
		}
		if c.Closing() {
			return nil
		}

		c.runTask(func() {
			c.timers.RunDue(c.timers.Now())
		})
		if c.Closing() {
			return nil
		}
		if c.hasTasks() {
			continue
		}
		if untilIdle && c.Idle() {
			return nil
		}

		// Determine what to wait on.
		var timerC <-chan time.Time
		if due, found := c.timers.NextDue(); found {
			if d := due.Sub(c.timers.Now()); d > 0 {
				timer.Reset(d)
				timerC = timer.C
			} else {
				continue
			}
		}

		select {
		case <-timerC:
			// Timer fired, loop to process.
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-idleC:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			c.runTask(c.idle)
		case <-ctx.Done():
			return juiceworker.WithStack(ctx.Err())
		}
	}
}
