package fs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker/dav"
	"github.com/zond/juiceworker/storage"
)

func testFs(t *testing.T, sources map[string]string) *Fs {
	t.Helper()
	ctx := context.Background()
	s, err := storage.Open(ctx, ":memory:", storage.Options{
		Clock: func() time.Time { return time.Unix(100, 0) },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	for p, content := range sources {
		if err := s.Put(ctx, p, content); err != nil {
			t.Fatal(err)
		}
	}
	return &Fs{Sources: s}
}

func names(infos []*dav.FileInfo) []string {
	result := []string{}
	for _, info := range infos {
		name := info.Name
		if info.IsDir {
			name += "/"
		}
		result = append(result, name)
	}
	return result
}

func TestStatList(t *testing.T) {
	f := testFs(t, map[string]string{
		"/main.js":          "main",
		"/lib/util.js":      "util",
		"/lib/deep/more.js": "more",
		"/other/x.js":       "x",
	})
	ctx := context.Background()

	for _, tc := range []struct {
		path    string
		isDir   bool
		size    int64
		missing bool
	}{
		{path: "/", isDir: true},
		{path: "/main.js", size: 4},
		{path: "lib", isDir: true},
		{path: "/lib/deep/", isDir: true},
		{path: "/li", missing: true},
		{path: "/lib/nope.js", missing: true},
	} {
		info, err := f.Stat(ctx, tc.path)
		if tc.missing {
			if !errors.Is(err, os.ErrNotExist) {
				t.Errorf("Stat(%q) = %v, want ErrNotExist", tc.path, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Stat(%q): %v", tc.path, err)
			continue
		}
		if info.IsDir != tc.isDir || info.Size != tc.size || info.ModTime.IsZero() {
			t.Errorf("Stat(%q) = %+v", tc.path, info)
		}
	}

	for dir, want := range map[string][]string{
		"/":         {"/lib/", "/other/", "/main.js"},
		"/lib":      {"/lib/deep/", "/lib/util.js"},
		"/lib/deep": {"/lib/deep/more.js"},
	} {
		got, err := f.List(ctx, dir)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, names(got)); diff != "" {
			t.Errorf("List(%q): -want +got\n%s", dir, diff)
		}
	}
}

func TestRemoveRename(t *testing.T) {
	f := testFs(t, map[string]string{
		"/main.js":          "main",
		"/lib/util.js":      "util",
		"/lib/deep/more.js": "more",
	})
	ctx := context.Background()

	if err := f.Rename(ctx, "/lib", "/vendor"); err != nil {
		t.Fatal(err)
	}
	if err := f.Rename(ctx, "/vendor", "/vendor/inner"); !errors.Is(err, os.ErrExist) {
		t.Errorf("Rename into itself = %v, want ErrExist", err)
	}
	if err := f.Rename(ctx, "/main.js", "/vendor/main.js"); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove(ctx, "/vendor/deep"); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove(ctx, "/vendor/deep"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second Remove = %v, want ErrNotExist", err)
	}
	got, err := f.List(ctx, "/vendor")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/vendor/main.js", "/vendor/util.js"}, names(got)); diff != "" {
		t.Errorf("-want +got\n%s", diff)
	}
	if err := f.Mkdir(ctx, "/vendor/main.js"); !errors.Is(err, os.ErrExist) {
		t.Errorf("Mkdir over a source = %v, want ErrExist", err)
	}
	if _, err := f.Write(ctx, "/vendor"); !errors.Is(err, os.ErrExist) {
		t.Errorf("Write over a directory = %v, want ErrExist", err)
	}
}

func TestHandler(t *testing.T) {
	f := testFs(t, map[string]string{"/lib/util.js": "var util;"})
	srv := httptest.NewServer(&dav.Handler{FS: f})
	defer srv.Close()

	do := func(method, path, body string, headers ...string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode, string(b)
	}

	for _, tc := range []struct {
		method   string
		path     string
		body     string
		headers  []string
		status   int
		contains string
	}{
		{method: "GET", path: "/lib/util.js", status: http.StatusOK, contains: "var util;"},
		{method: "GET", path: "/nope.js", status: http.StatusNotFound},
		{method: "PUT", path: "/main.js", body: "postMessage(1);", status: http.StatusCreated},
		{method: "PUT", path: "/main.js", body: "postMessage(2);", status: http.StatusNoContent},
		{method: "GET", path: "/main.js", status: http.StatusOK, contains: "postMessage(2);"},
		{method: "GET", path: "/", status: http.StatusOK, contains: "lib/\nmain.js\n"},
		{method: "PROPFIND", path: "/", headers: []string{"Depth", "1"}, status: http.StatusMultiStatus, contains: "<D:href>/lib/</D:href>"},
		{method: "PROPFIND", path: "/lib/util.js", headers: []string{"Depth", "0"}, status: http.StatusMultiStatus, contains: "<D:getcontentlength>9</D:getcontentlength>"},
		{method: "MOVE", path: "/main.js", status: http.StatusBadRequest},
		{method: "MOVE", path: "/main.js", headers: []string{"Destination", srv.URL + "/lib/util.js", "Overwrite", "F"}, status: http.StatusPreconditionFailed},
		{method: "MOVE", path: "/main.js", headers: []string{"Destination", srv.URL + "/app.js"}, status: http.StatusCreated},
		{method: "GET", path: "/app.js", status: http.StatusOK, contains: "postMessage(2);"},
		{method: "MKCOL", path: "/app.js", status: http.StatusConflict},
		{method: "DELETE", path: "/lib", status: http.StatusNoContent},
		{method: "GET", path: "/lib/util.js", status: http.StatusNotFound},
		{method: "PATCH", path: "/app.js", status: http.StatusMethodNotAllowed},
	} {
		status, body := do(tc.method, tc.path, tc.body, tc.headers...)
		if status != tc.status || !strings.Contains(body, tc.contains) {
			t.Errorf("%s %s = %d %q, want %d containing %q", tc.method, tc.path, status, body, tc.status, tc.contains)
		}
	}
}
