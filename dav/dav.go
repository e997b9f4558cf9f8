// Package dav serves a FileSystem over the part of WebDAV that editors and
// the common desktop clients need to browse, open, save and move files.
package dav

import (
	"context"
	"encoding/xml"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"go.uber.org/zap"
)

// FileInfo describes a file or directory. Name is the full slash separated
// path.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem is what Handler serves. Missing files must be reported with
// errors wrapping os.ErrNotExist, and conflicts with errors wrapping
// os.ErrExist.
type FileSystem interface {
	Read(ctx context.Context, name string) (io.ReadCloser, error)
	Write(ctx context.Context, name string) (io.WriteCloser, error)
	Stat(ctx context.Context, name string) (*FileInfo, error)
	Remove(ctx context.Context, name string) error
	Mkdir(ctx context.Context, name string) error
	List(ctx context.Context, name string) ([]*FileInfo, error)
	Rename(ctx context.Context, oldName, newName string) error
}

type Handler struct {
	FS     FileSystem
	Logger *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger().Debug("dav request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
	var err error
	switch r.Method {
	case "OPTIONS":
		w.Header().Set("DAV", "1")
		w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, MOVE, PROPFIND")
	case "GET", "HEAD":
		err = h.handleGet(w, r)
	case "PUT":
		err = h.handlePut(w, r)
	case "DELETE":
		err = h.FS.Remove(r.Context(), r.URL.Path)
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
		}
	case "MKCOL":
		err = h.FS.Mkdir(r.Context(), r.URL.Path)
		if err == nil {
			w.WriteHeader(http.StatusCreated)
		}
	case "MOVE":
		err = h.handleMove(w, r)
	case "PROPFIND":
		err = h.handlePropfind(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
	if err != nil {
		h.fail(w, r, err)
	}
}

type badRequest string

func (b badRequest) Error() string {
	return string(b)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		http.Error(w, bad.Error(), http.StatusBadRequest)
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, os.ErrExist):
		http.Error(w, "Conflict", http.StatusConflict)
	default:
		h.logger().Error("dav request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) error {
	info, err := h.FS.Stat(r.Context(), r.URL.Path)
	if err != nil {
		return err
	}
	if info.IsDir {
		files, err := h.FS.List(r.Context(), r.URL.Path)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, f := range files {
			name := path.Base(f.Name)
			if f.IsDir {
				name += "/"
			}
			io.WriteString(w, name+"\n")
		}
		return nil
	}
	contentType := mime.TypeByExtension(path.Ext(info.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return nil
	}
	file, err := h.FS.Read(r.Context(), r.URL.Path)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := io.Copy(w, file); err != nil {
		h.logger().Debug("writing response", zap.String("path", r.URL.Path), zap.Error(err))
	}
	return nil
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) error {
	_, err := h.FS.Stat(r.Context(), r.URL.Path)
	created := errors.Is(err, os.ErrNotExist)
	if err != nil && !created {
		return err
	}
	file, err := h.FS.Write(r.Context(), r.URL.Path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r.Body); err != nil {
		file.Close()
		return errors.Wrapf(err, "reading body of %s", r.URL.Path)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) error {
	destination := r.Header.Get("Destination")
	if destination == "" {
		return badRequest("Destination header missing")
	}
	u, err := url.Parse(destination)
	if err != nil {
		return badRequest("invalid Destination header")
	}
	_, err = h.FS.Stat(r.Context(), u.Path)
	overwrite := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if overwrite && r.Header.Get("Overwrite") == "F" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return nil
	}
	if err := h.FS.Rename(r.Context(), r.URL.Path, u.Path); err != nil {
		return err
	}
	if overwrite {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	Namespace string     `xml:"xmlns:D,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName   string       `xml:"D:displayname"`
	ResourceType  resourceType `xml:"D:resourcetype"`
	ContentLength *int64       `xml:"D:getcontentlength,omitempty"`
	ContentType   string       `xml:"D:getcontenttype,omitempty"`
	LastModified  string       `xml:"D:getlastmodified,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection"`
}

func toResponse(info *FileInfo) response {
	href := (&url.URL{Path: info.Name}).EscapedPath()
	p := prop{DisplayName: path.Base(info.Name)}
	if info.IsDir {
		p.ResourceType.Collection = &struct{}{}
		if href != "/" {
			href += "/"
		}
	} else {
		size := info.Size
		p.ContentLength = &size
		p.ContentType = mime.TypeByExtension(path.Ext(info.Name))
	}
	if !info.ModTime.IsZero() {
		p.LastModified = info.ModTime.UTC().Format(http.TimeFormat)
	}
	return response{
		Href: href,
		Propstat: propstat{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

// handlePropfind answers with every property for the resource and, unless
// Depth is 0, its children. Requested property names are ignored.
func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request) error {
	info, err := h.FS.Stat(r.Context(), r.URL.Path)
	if err != nil {
		return err
	}
	ms := &multistatus{
		Namespace: "DAV:",
		Responses: []response{toResponse(info)},
	}
	if info.IsDir && r.Header.Get("Depth") != "0" {
		files, err := h.FS.List(r.Context(), r.URL.Path)
		if err != nil {
			return err
		}
		for _, f := range files {
			ms.Responses = append(ms.Responses, toResponse(f))
		}
	}
	b, err := xml.Marshal(ms)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	io.WriteString(w, xml.Header)
	w.Write(b)
	return nil
}
