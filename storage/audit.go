package storage

import (
	"context"
	"io"
	"sync"
	"time"

	goccy "github.com/goccy/go-json"
	"github.com/zond/juiceworker"
	"gopkg.in/natefinch/lumberjack.v2"
)

type sessionIDKey struct{}

// WithSessionID tags ctx with the session making changes, for the audit log.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// AuditData is the interface for typed audit event data.
type AuditData interface {
	auditData()
}

type AuditEntry struct {
	Time      string    `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	Event     string    `json:"event"`
	Data      AuditData `json:"data"`
}

// AuditSourcePut is logged when a source is created or replaced.
type AuditSourcePut struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Created bool   `json:"created"`
}

func (AuditSourcePut) auditData() {}

// AuditSourceDelete is logged when a source is removed.
type AuditSourceDelete struct {
	Path string `json:"path"`
}

func (AuditSourceDelete) auditData() {}

// AuditSourceRename is logged when a source is moved.
type AuditSourceRename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (AuditSourceRename) auditData() {}

// AuditRestore is logged when a backup is loaded into the store.
type AuditRestore struct {
	Sources int `json:"sources"`
}

func (AuditRestore) auditData() {}

// AuditLogger writes store changes as JSON lines. A nil *AuditLogger
// logs nothing.
type AuditLogger struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *goccy.Encoder
	now func() time.Time
}

type AuditOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewAuditLogger writes to a file rotated by lumberjack.
func NewAuditLogger(opts AuditOptions) *AuditLogger {
	return newAuditLogger(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	})
}

func newAuditLogger(out io.WriteCloser) *AuditLogger {
	return &AuditLogger{
		out: out,
		enc: goccy.NewEncoder(out),
		now: time.Now,
	}
}

// Log writes one entry.
func (a *AuditLogger) Log(ctx context.Context, event string, data AuditData) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sessionID, _ := SessionID(ctx)
	return juiceworker.WithStack(a.enc.Encode(AuditEntry{
		Time:      a.now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Event:     event,
		Data:      data,
	}))
}

func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}
