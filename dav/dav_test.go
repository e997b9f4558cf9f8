package dav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// brokenFS fails everything with err.
type brokenFS struct {
	err error
}

func (b brokenFS) Read(context.Context, string) (io.ReadCloser, error)   { return nil, b.err }
func (b brokenFS) Write(context.Context, string) (io.WriteCloser, error) { return nil, b.err }
func (b brokenFS) Stat(context.Context, string) (*FileInfo, error)       { return nil, b.err }
func (b brokenFS) Remove(context.Context, string) error                  { return b.err }
func (b brokenFS) Mkdir(context.Context, string) error                   { return b.err }
func (b brokenFS) List(context.Context, string) ([]*FileInfo, error)     { return nil, b.err }
func (b brokenFS) Rename(context.Context, string, string) error          { return b.err }

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		err    error
		method string
		status int
	}{
		{err: errors.New("disk on fire"), method: "GET", status: http.StatusInternalServerError},
		{err: errors.Wrap(os.ErrNotExist, "x"), method: "PROPFIND", status: http.StatusNotFound},
		{err: errors.Wrap(os.ErrExist, "x"), method: "MKCOL", status: http.StatusConflict},
		{err: nil, method: "OPTIONS", status: http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		(&Handler{FS: brokenFS{err: tc.err}}).ServeHTTP(rec, httptest.NewRequest(tc.method, "/a.js", strings.NewReader("")))
		if rec.Code != tc.status {
			t.Errorf("%s with %v = %d, want %d", tc.method, tc.err, rec.Code, tc.status)
		}
	}
}
