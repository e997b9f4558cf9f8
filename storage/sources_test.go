package storage

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/bxcodec/faker/v4/pkg/options"
	goccy "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error {
	return nil
}

func testSources(t *testing.T, opts Options) *Sources {
	t.Helper()
	if opts.Clock == nil {
		now := time.Unix(100, 0)
		opts.Clock = func() time.Time {
			now = now.Add(time.Second)
			return now
		}
	}
	s, err := Open(context.Background(), ":memory:", opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	changed := []string{}
	s := testSources(t, Options{OnChange: func(p string) { changed = append(changed, p) }})
	ctx := context.Background()

	if _, err := s.Get(ctx, "/main.js"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Get(missing) = %v, want ErrNotExist", err)
	}
	if err := s.Put(ctx, "main.js", "var a;"); err != nil {
		t.Fatal(err)
	}
	first, err := s.Get(ctx, "/main.js")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "/main.js", "var b;"); err != nil {
		t.Fatal(err)
	}
	second, err := s.Get(ctx, "/lib/../main.js")
	if err != nil {
		t.Fatal(err)
	}
	if second.Content != "var b;" || second.Mtime <= first.Mtime {
		t.Errorf("after replace got %+v, first was %+v", second, first)
	}

	src, mtime, err := s.Fetch(ctx, "/main.js")
	if err != nil || string(src) != "var b;" || mtime != second.Mtime {
		t.Errorf("Fetch = %q, %d, %v", src, mtime, err)
	}

	if err := s.Delete(ctx, "/main.js"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "/main.js"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second Delete = %v, want ErrNotExist", err)
	}
	if diff := cmp.Diff([]string{"/main.js", "/main.js", "/main.js"}, changed); diff != "" {
		t.Errorf("changes: -want +got\n%s", diff)
	}
}

func TestEnsure(t *testing.T) {
	s := testSources(t, Options{})
	ctx := context.Background()
	src, created, err := s.Ensure(ctx, "/a.js")
	if err != nil || !created || src.Content != "" {
		t.Fatalf("Ensure(new) = %+v, %v, %v", src, created, err)
	}
	if err := s.Put(ctx, "/a.js", "var a;"); err != nil {
		t.Fatal(err)
	}
	src, created, err = s.Ensure(ctx, "/a.js")
	if err != nil || created || src.Content != "var a;" {
		t.Errorf("Ensure(existing) = %+v, %v, %v", src, created, err)
	}
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	from := testSources(t, Options{})
	for p, content := range map[string]string{"/b.js": "var b;", "/a.js": "var a;", "/lib/u.js": "var u;"} {
		if err := from.Put(ctx, p, content); err != nil {
			t.Fatal(err)
		}
	}
	paths := []string{}
	for src, err := range from.Each(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, src.Path)
	}
	if diff := cmp.Diff([]string{"/a.js", "/b.js", "/lib/u.js"}, paths); diff != "" {
		t.Errorf("Each order: -want +got\n%s", diff)
	}

	buf := &bytes.Buffer{}
	if err := from.Backup(ctx, buf); err != nil {
		t.Fatal(err)
	}
	auditBuf := &bytes.Buffer{}
	to := testSources(t, Options{Audit: newAuditLogger(nopCloser{auditBuf})})
	n, err := to.Restore(WithSessionID(ctx, "s1"), buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("restored %d, want 3", n)
	}
	got, err := to.Get(ctx, "/lib/u.js")
	if err != nil || got.Content != "var u;" {
		t.Errorf("restored source = %+v, %v", got, err)
	}

	entry := map[string]any{}
	if err := goccy.Unmarshal(bytes.TrimSpace(auditBuf.Bytes()), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["event"] != "RESTORE" || entry["session_id"] != "s1" {
		t.Errorf("audit entry = %v", entry)
	}

	if _, err := to.Restore(ctx, strings.NewReader("not json")); err == nil {
		t.Errorf("Restore(garbage) succeeded")
	}
}

type fakeSource struct {
	Dir     string `faker:"word"`
	Name    string `faker:"uuid_hyphenated"`
	Content string `faker:"paragraph"`
}

func (f fakeSource) path() string {
	return "/" + f.Dir + "/" + f.Name + ".js"
}

func contents(t *testing.T, s *Sources) map[string]string {
	t.Helper()
	result := map[string]string{}
	for src, err := range s.Each(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		result[src.Path] = src.Content
	}
	return result
}

func TestRandomBackupRestore(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		fakes := []fakeSource{}
		if err := faker.FakeData(&fakes, options.WithRandomMapAndSliceMaxSize(10)); err != nil {
			t.Fatal(err)
		}
		from := testSources(t, Options{})
		want := map[string]string{}
		for _, f := range fakes {
			if err := from.Put(ctx, f.path(), f.Content); err != nil {
				t.Fatal(err)
			}
			want[f.path()] = f.Content
		}
		if diff := cmp.Diff(want, contents(t, from)); diff != "" {
			t.Fatalf("stored: -want +got\n%s", diff)
		}

		buf := &bytes.Buffer{}
		if err := from.Backup(ctx, buf); err != nil {
			t.Fatal(err)
		}
		to := testSources(t, Options{})
		n, err := to.Restore(ctx, buf)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(want) {
			t.Errorf("restored %d, want %d", n, len(want))
		}
		if diff := cmp.Diff(want, contents(t, to)); diff != "" {
			t.Errorf("restored: -want +got\n%s", diff)
		}
	}
}

func TestAuditLog(t *testing.T) {
	buf := &bytes.Buffer{}
	s := testSources(t, Options{Audit: newAuditLogger(nopCloser{buf})})
	ctx := WithSessionID(context.Background(), "sess")
	s.Put(ctx, "/a.js", "12345")
	s.Put(ctx, "/a.js", "1")
	s.Delete(ctx, "/a.js")

	type entry struct {
		SessionID string         `json:"session_id"`
		Event     string         `json:"event"`
		Data      map[string]any `json:"data"`
	}
	got := []entry{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		e := entry{}
		if err := goccy.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		got = append(got, e)
	}
	want := []entry{
		{"sess", "SOURCE_PUT", map[string]any{"path": "/a.js", "size": float64(5), "created": true}},
		{"sess", "SOURCE_PUT", map[string]any{"path": "/a.js", "size": float64(1), "created": false}},
		{"sess", "SOURCE_DELETE", map[string]any{"path": "/a.js"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("audit: -want +got\n%s", diff)
	}
}

func TestRename(t *testing.T) {
	changed := []string{}
	s := testSources(t, Options{OnChange: func(p string) { changed = append(changed, p) }})
	ctx := context.Background()
	s.Put(ctx, "/a.js", "a")
	s.Put(ctx, "/b.js", "b")
	changed = nil

	if err := s.Rename(ctx, "/a.js", "lib/b.js"); err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(ctx, "/lib/b.js", "/b.js"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "/b.js")
	if err != nil || got.Content != "a" {
		t.Errorf("Get(/b.js) = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, "/a.js"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Get(/a.js) = %v, want ErrNotExist", err)
	}
	if err := s.Rename(ctx, "/a.js", "/c.js"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Rename(missing) = %v, want ErrNotExist", err)
	}
	if diff := cmp.Diff([]string{"/a.js", "/lib/b.js", "/lib/b.js", "/b.js"}, changed); diff != "" {
		t.Errorf("changes: -want +got\n%s", diff)
	}
}
