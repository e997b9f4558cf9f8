// Package storage keeps worker script sources in SQLite.
package storage

import (
	"context"
	"database/sql"
	"io"
	"iter"
	"os"
	"path"
	"time"

	goccy "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	path    TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	mtime   INTEGER NOT NULL
);`

type Source struct {
	Path    string `db:"path"`
	Content string `db:"content"`
	Mtime   int64  `db:"mtime"`
}

type Options struct {
	Audit  *AuditLogger
	Logger *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnChange, if set, is called with the path of every changed source.
	OnChange func(path string)
}

// Sources is the source store. It implements loader.Fetcher.
type Sources struct {
	db       *sqlx.DB
	audit    *AuditLogger
	logger   *zap.Logger
	clock    func() time.Time
	onChange func(string)
}

// Open opens or creates the database at dsn, e.g. a file path or
// ":memory:".
func Open(ctx context.Context, dsn string, opts Options) (*Sources, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	// SQLite serializes writers, and every :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	s := &Sources{
		db:       db,
		audit:    opts.Audit,
		logger:   opts.Logger,
		clock:    opts.Clock,
		onChange: opts.OnChange,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, juiceworker.WithStack(err)
	}
	return s, nil
}

func (s *Sources) Close() error {
	return juiceworker.WithStack(s.db.Close())
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func (s *Sources) changed(p string) {
	if s.onChange != nil {
		s.onChange(p)
	}
}

// Get returns the source at p, or an error wrapping os.ErrNotExist.
func (s *Sources) Get(ctx context.Context, p string) (*Source, error) {
	p = cleanPath(p)
	src := &Source{}
	if err := s.db.GetContext(ctx, src, `SELECT path, content, mtime FROM sources WHERE path = ?`, p); errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(os.ErrNotExist, p)
	} else if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	return src, nil
}

// Ensure creates an empty source at p unless it exists.
func (s *Sources) Ensure(ctx context.Context, p string) (*Source, bool, error) {
	p = cleanPath(p)
	res, err := s.db.ExecContext(ctx, `INSERT INTO sources (path, content, mtime) VALUES (?, '', ?) ON CONFLICT(path) DO NOTHING`, p, s.clock().UnixNano())
	if err != nil {
		return nil, false, juiceworker.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, juiceworker.WithStack(err)
	}
	if n > 0 {
		if err := s.audit.Log(ctx, "SOURCE_PUT", AuditSourcePut{Path: p, Created: true}); err != nil {
			s.logger.Warn("audit log failed", zap.Error(err))
		}
		s.changed(p)
	}
	src, err := s.Get(ctx, p)
	return src, n > 0, err
}

// Put stores content at p, creating or replacing it.
func (s *Sources) Put(ctx context.Context, p string, content string) error {
	p = cleanPath(p)
	_, err := s.Get(ctx, p)
	created := errors.Is(err, os.ErrNotExist)
	if err != nil && !created {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, `
INSERT INTO sources (path, content, mtime) VALUES (:path, :content, :mtime)
ON CONFLICT(path) DO UPDATE SET content = excluded.content, mtime = excluded.mtime`, &Source{
		Path:    p,
		Content: content,
		Mtime:   s.clock().UnixNano(),
	}); err != nil {
		return juiceworker.WithStack(err)
	}
	if err := s.audit.Log(ctx, "SOURCE_PUT", AuditSourcePut{Path: p, Size: len(content), Created: created}); err != nil {
		s.logger.Warn("audit log failed", zap.Error(err))
	}
	s.logger.Debug("stored source", zap.String("path", p), zap.Int("size", len(content)))
	s.changed(p)
	return nil
}

// Delete removes p. Missing sources return an error wrapping os.ErrNotExist.
func (s *Sources) Delete(ctx context.Context, p string) error {
	p = cleanPath(p)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, p)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return juiceworker.WithStack(err)
	} else if n == 0 {
		return errors.Wrap(os.ErrNotExist, p)
	}
	if err := s.audit.Log(ctx, "SOURCE_DELETE", AuditSourceDelete{Path: p}); err != nil {
		s.logger.Warn("audit log failed", zap.Error(err))
	}
	s.changed(p)
	return nil
}

// Rename moves the source at from to to, replacing any source at to.
func (s *Sources) Rename(ctx context.Context, from, to string) error {
	from, to = cleanPath(from), cleanPath(to)
	if from == to {
		_, err := s.Get(ctx, from)
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, to); err != nil {
		return juiceworker.WithStack(err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE sources SET path = ?, mtime = ? WHERE path = ?`, to, s.clock().UnixNano(), from)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return juiceworker.WithStack(err)
	} else if n == 0 {
		return errors.Wrap(os.ErrNotExist, from)
	}
	if err := tx.Commit(); err != nil {
		return juiceworker.WithStack(err)
	}
	if err := s.audit.Log(ctx, "SOURCE_RENAME", AuditSourceRename{From: from, To: to}); err != nil {
		s.logger.Warn("audit log failed", zap.Error(err))
	}
	s.changed(from)
	s.changed(to)
	return nil
}

// Each iterates over all sources ordered by path.
func (s *Sources) Each(ctx context.Context) iter.Seq2[*Source, error] {
	return func(yield func(*Source, error) bool) {
		rows, err := s.db.QueryxContext(ctx, `SELECT path, content, mtime FROM sources ORDER BY path`)
		if err != nil {
			yield(nil, juiceworker.WithStack(err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			src := &Source{}
			if err := rows.StructScan(src); err != nil {
				yield(nil, juiceworker.WithStack(err))
				return
			}
			if !yield(src, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, juiceworker.WithStack(err))
		}
	}
}

// Fetch serves sources to the script loader.
func (s *Sources) Fetch(ctx context.Context, p string) ([]byte, int64, error) {
	src, err := s.Get(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	return []byte(src.Content), src.Mtime, nil
}

// Backup is the JSON document written by Backup and read by Restore.
type Backup struct {
	Sources map[string]string
}

// Backup writes every source to w as JSON.
func (s *Sources) Backup(ctx context.Context, w io.Writer) error {
	b := &Backup{Sources: map[string]string{}}
	for src, err := range s.Each(ctx) {
		if err != nil {
			return err
		}
		b.Sources[src.Path] = src.Content
	}
	enc := goccy.NewEncoder(w)
	enc.SetIndent("", "  ")
	return juiceworker.WithStack(enc.Encode(b))
}

// Restore stores every source of a backup read from r, in one transaction.
func (s *Sources) Restore(ctx context.Context, r io.Reader) (int, error) {
	b := &Backup{}
	if err := goccy.NewDecoder(r).Decode(b); err != nil {
		return 0, errors.Wrap(err, "decoding backup")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, juiceworker.WithStack(err)
	}
	defer tx.Rollback()
	now := s.clock().UnixNano()
	for p, content := range b.Sources {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sources (path, content, mtime) VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET content = excluded.content, mtime = excluded.mtime`, cleanPath(p), content, now); err != nil {
			return 0, errors.Wrapf(err, "storing %q", p)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, juiceworker.WithStack(err)
	}
	if err := s.audit.Log(ctx, "RESTORE", AuditRestore{Sources: len(b.Sources)}); err != nil {
		s.logger.Warn("audit log failed", zap.Error(err))
	}
	for p := range b.Sources {
		s.changed(cleanPath(p))
	}
	return len(b.Sources), nil
}
