// Package fs presents the source store as a dav.FileSystem. The store is
// flat, so directories exist as long as some source lives below them.
package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/dav"
	"github.com/zond/juiceworker/storage"
)

type Fs struct {
	Sources *storage.Sources
}

func pathify(s string) string {
	return path.Clean("/" + s)
}

// prefix returns the path prefix of everything below dir.
func prefix(dir string) string {
	if dir == "/" {
		return dir
	}
	return dir + "/"
}

func (f *Fs) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	src, err := f.Sources.Get(ctx, pathify(name))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(src.Content)), nil
}

type writeBuffer struct {
	bytes.Buffer
	ctx     context.Context
	path    string
	sources *storage.Sources
}

func (w *writeBuffer) Close() error {
	return w.sources.Put(w.ctx, w.path, w.String())
}

func (f *Fs) Write(ctx context.Context, name string) (io.WriteCloser, error) {
	p := pathify(name)
	if info, err := f.Stat(ctx, p); err == nil && info.IsDir {
		return nil, errors.Wrapf(os.ErrExist, "%s is a directory", p)
	}
	return &writeBuffer{
		ctx:     ctx,
		path:    p,
		sources: f.Sources,
	}, nil
}

// below returns the sources under dir.
func (f *Fs) below(ctx context.Context, dir string) ([]*storage.Source, error) {
	pre := prefix(dir)
	result := []*storage.Source{}
	for src, err := range f.Sources.Each(ctx) {
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(src.Path, pre) {
			result = append(result, src)
		}
	}
	return result, nil
}

func (f *Fs) Stat(ctx context.Context, name string) (*dav.FileInfo, error) {
	p := pathify(name)
	src, err := f.Sources.Get(ctx, p)
	if err == nil {
		return &dav.FileInfo{
			Name:    src.Path,
			Size:    int64(len(src.Content)),
			ModTime: time.Unix(0, src.Mtime),
		}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	children, err := f.below(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 && p != "/" {
		return nil, errors.Wrap(os.ErrNotExist, p)
	}
	info := &dav.FileInfo{Name: p, IsDir: true}
	for _, child := range children {
		if t := time.Unix(0, child.Mtime); t.After(info.ModTime) {
			info.ModTime = t
		}
	}
	return info, nil
}

// Remove removes a source, or every source below a directory.
func (f *Fs) Remove(ctx context.Context, name string) error {
	p := pathify(name)
	if err := f.Sources.Delete(ctx, p); !errors.Is(err, os.ErrNotExist) {
		return err
	}
	children, err := f.below(ctx, p)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return errors.Wrap(os.ErrNotExist, p)
	}
	for _, child := range children {
		if err := f.Sources.Delete(ctx, child.Path); err != nil {
			return err
		}
	}
	return nil
}

// Mkdir only checks that name is not a source, since directories appear
// with their first source.
func (f *Fs) Mkdir(ctx context.Context, name string) error {
	p := pathify(name)
	if _, err := f.Sources.Get(ctx, p); err == nil {
		return errors.Wrapf(os.ErrExist, "%s is a source", p)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the direct children of a directory, subdirectories first.
func (f *Fs) List(ctx context.Context, name string) ([]*dav.FileInfo, error) {
	p := pathify(name)
	children, err := f.below(ctx, p)
	if err != nil {
		return nil, err
	}
	dirs := map[string]*dav.FileInfo{}
	files := []*dav.FileInfo{}
	for _, child := range children {
		mtime := time.Unix(0, child.Mtime)
		rest := strings.TrimPrefix(child.Path, prefix(p))
		if first, _, isDir := strings.Cut(rest, "/"); isDir {
			dir, found := dirs[first]
			if !found {
				dir = &dav.FileInfo{Name: prefix(p) + first, IsDir: true}
				dirs[first] = dir
			}
			if mtime.After(dir.ModTime) {
				dir.ModTime = mtime
			}
			continue
		}
		files = append(files, &dav.FileInfo{
			Name:    child.Path,
			Size:    int64(len(child.Content)),
			ModTime: mtime,
		})
	}
	result := make([]*dav.FileInfo, 0, len(dirs)+len(files))
	for _, dir := range dirs {
		result = append(result, dir)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return append(result, files...), nil
}

// Rename moves a source, or every source below a directory.
func (f *Fs) Rename(ctx context.Context, oldName, newName string) error {
	from, to := pathify(oldName), pathify(newName)
	if err := f.Sources.Rename(ctx, from, to); !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if strings.HasPrefix(to, prefix(from)) {
		return errors.Wrapf(os.ErrExist, "can not move %s into itself", from)
	}
	children, err := f.below(ctx, from)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return errors.Wrap(os.ErrNotExist, from)
	}
	for _, child := range children {
		if err := f.Sources.Rename(ctx, child.Path, prefix(to)+strings.TrimPrefix(child.Path, prefix(from))); err != nil {
			return juiceworker.WithStack(err)
		}
	}
	return nil
}
