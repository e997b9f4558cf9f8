// Package console is a line REPL for a running worker. JavaScript lines
// run in the worker; lines starting with ':' are console commands.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/charmbracelet/lipgloss"
	"github.com/gertd/go-pluralize"
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/js"
	"github.com/zond/juiceworker/timers"
	"github.com/zond/juiceworker/worker"
	"go.uber.org/zap"
	"golang.org/x/term"

	goccy "github.com/goccy/go-json"
)

var ErrQuit = errors.New("quit")

const sourceName = "<console>"

type Options struct {
	// Prompt, if set, replaces the terminal prompt.
	Prompt string
	Logger *zap.Logger
}

type Console struct {
	b          *js.Bridge
	term       *term.Terminal
	plural     *pluralize.Client
	logger     *zap.Logger
	errorStyle lipgloss.Style
	dimStyle   lipgloss.Style
	headStyle  lipgloss.Style
}

// New returns a console reading lines from t. The bridge must be running
// (see js.Bridge.Run) for lines to be executed. Terminal writes are
// goroutine safe, so t is also a fine bridge console.
func New(t *term.Terminal, b *js.Bridge, opts Options) *Console {
	if opts.Prompt != "" {
		t.SetPrompt(opts.Prompt)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	renderer := lipgloss.NewRenderer(t)
	return &Console{
		b:          b,
		term:       t,
		plural:     pluralize.NewClient(),
		logger:     opts.Logger,
		errorStyle: renderer.NewStyle().Foreground(lipgloss.Color("196")),
		dimStyle:   renderer.NewStyle().Foreground(lipgloss.Color("240")),
		headStyle:  renderer.NewStyle().Bold(true),
	}
}

// SetSize updates the terminal size, e.g. on a window change.
func (c *Console) SetSize(width, height int) error {
	return juiceworker.WithStack(c.term.SetSize(width, height))
}

type command struct {
	names map[string]bool
	usage string
	f     func(c *Console, ctx context.Context, rest string) error
}

func m(s ...string) map[string]bool {
	res := map[string]bool{}
	for _, p := range s {
		res[p] = true
	}
	return res
}

func (c *Console) commands() []command {
	return []command{
		{
			names: m(":import", ":i"),
			usage: ":import <url>...",
			f:     (*Console).importScripts,
		},
		{
			names: m(":dispatch", ":d"),
			usage: ":dispatch <type> [json data]",
			f: func(c *Console, ctx context.Context, rest string) error {
				typ, data, _ := strings.Cut(rest, " ")
				if typ == "" {
					return errors.New("usage: :dispatch <type> [json data]")
				}
				return c.dispatch(ctx, typ, parseData(data))
			},
		},
		{
			names: m(":message", ":m"),
			usage: ":message <json data>",
			f: func(c *Console, ctx context.Context, rest string) error {
				return c.dispatch(ctx, worker.MessageEvent, parseData(rest))
			},
		},
		{
			names: m(":gc"),
			usage: ":gc",
			f:     (*Console).collect,
		},
		{
			names: m(":timers", ":t"),
			usage: ":timers",
			f:     (*Console).timers,
		},
		{
			names: m(":listeners", ":l"),
			usage: ":listeners",
			f:     (*Console).listeners,
		},
		{
			names: m(":help", ":h", ":?"),
			usage: ":help",
			f:     (*Console).help,
		},
		{
			names: m(":quit", ":q"),
			usage: ":quit",
			f: func(*Console, context.Context, string) error {
				return ErrQuit
			},
		},
	}
}

// Run reads and handles lines until EOF, :quit, ctx is done or the worker
// stops.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return juiceworker.WithStack(ctx.Err())
		}
		line, err := c.term.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return juiceworker.WithStack(err)
		}
		if err := c.Handle(ctx, line); errors.Is(err, ErrQuit) {
			return nil
		} else if errors.Is(err, worker.ErrClosed) {
			fmt.Fprintln(c.term, c.dimStyle.Render("worker closed"))
			return nil
		} else if err != nil {
			c.logger.Debug("console line failed", zap.String("line", line), zap.Error(err))
			fmt.Fprintln(c.term, c.errorStyle.Render(err.Error()))
		}
	}
}

// Handle runs one line.
func (c *Console) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		return c.exec(ctx, line)
	}
	name, rest, _ := strings.Cut(line, " ")
	for _, cmd := range c.commands() {
		if cmd.names[name] {
			return cmd.f(c, ctx, strings.TrimSpace(rest))
		}
	}
	return errors.Errorf("unknown command %q, try :help", name)
}

func (c *Console) exec(ctx context.Context, source string) error {
	result, err := c.b.Exec(ctx, sourceName, source)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.term, c.dimStyle.Render(format(result)))
	return nil
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case map[string]any, []any:
		if b, err := goccy.Marshal(x); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// parseData parses raw as JSON, falling back to the raw string.
func parseData(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var data any
	if err := goccy.Unmarshal([]byte(raw), &data); err != nil {
		return raw
	}
	return data
}

func (c *Console) importScripts(ctx context.Context, rest string) error {
	args, err := shellwords.SplitPosix(rest)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	if len(args) == 0 {
		return errors.New("usage: :import <url>...")
	}
	var importErr error
	if err := c.b.Do(ctx, func() {
		importErr = c.b.Worker().ImportScripts(args, sourceName, 0, c.b)
	}); err != nil {
		return err
	}
	if importErr != nil {
		return importErr
	}
	fmt.Fprintf(c.term, "Imported %s\n", c.plural.Pluralize("script", len(args), true))
	return nil
}

func (c *Console) dispatch(ctx context.Context, typ string, data any) error {
	var invoked int
	if err := c.b.Do(ctx, func() {
		invoked = c.b.Worker().DispatchEvent(&worker.Event{Type: typ, Data: data})
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.term, "Dispatched %q to %s\n", typ, c.plural.Pluralize("handler", invoked, true))
	return nil
}

func (c *Console) collect(ctx context.Context, _ string) error {
	var before, after int
	var took time.Duration
	if err := c.b.Do(ctx, func() {
		before = c.b.Collector().Len()
		start := time.Now()
		c.b.Collector().Collect()
		took = time.Since(start)
		after = c.b.Collector().Len()
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.term, "Swept %s in %v, %s left\n",
		c.plural.Pluralize("handle", before-after, true),
		took.Round(time.Microsecond),
		c.plural.Pluralize("handle", after, true))
	return nil
}

func (c *Console) timers(ctx context.Context, _ string) error {
	var pending []timers.Info
	var now time.Time
	if err := c.b.Do(ctx, func() {
		pending = c.b.Worker().Timers().Pending()
		now = c.b.Worker().Timers().Now()
	}); err != nil {
		return err
	}
	fmt.Fprintln(c.term, c.headStyle.Render(c.plural.Pluralize("timer", len(pending), true)+" pending"))
	if len(pending) == 0 {
		return nil
	}
	t := table.New("ID", "Due in", "Interval", "Repeat").WithWriter(c.term)
	for _, info := range pending {
		t.AddRow(info.ID, info.Due.Sub(now).Round(time.Millisecond), info.Interval, info.Repeat)
	}
	t.Print()
	return nil
}

func (c *Console) listeners(ctx context.Context, _ string) error {
	type row struct {
		typ      string
		listener string
		capture  bool
	}
	rows := []row{}
	hasOnMessage := false
	if err := c.b.Do(ctx, func() {
		hasOnMessage = c.b.Worker().OnMessage() != nil
		for _, typ := range c.b.Worker().ListenerTypes() {
			for _, r := range c.b.Worker().Listeners(typ) {
				rows = append(rows, row{typ: typ, listener: describe(r.Listener), capture: r.UseCapture})
			}
		}
	}); err != nil {
		return err
	}
	fmt.Fprintln(c.term, c.headStyle.Render(c.plural.Pluralize("listener", len(rows), true)))
	if hasOnMessage {
		fmt.Fprintln(c.term, "onmessage is set")
	}
	if len(rows) == 0 {
		return nil
	}
	t := table.New("Type", "Listener", "Capture").WithWriter(c.term)
	for _, r := range rows {
		t.AddRow(r.typ, r.listener, r.capture)
	}
	t.Print()
	return nil
}

func describe(l worker.Listener) string {
	if s, ok := l.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", l)
}

func (c *Console) help(context.Context, string) error {
	fmt.Fprintln(c.term, c.headStyle.Render("Commands:"))
	for _, cmd := range c.commands() {
		fmt.Fprintf(c.term, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(c.term, "Anything else runs as JavaScript in the worker.")
	return nil
}
