package worker

import (
	"net/url"
	"runtime"
)

// Location is the read only view of the worker script URL.
type Location struct {
	URL *url.URL
}

func (l *Location) Href() string {
	return l.URL.String()
}

func (l *Location) Protocol() string {
	return l.URL.Scheme + ":"
}

func (l *Location) Host() string {
	return l.URL.Host
}

func (l *Location) Hostname() string {
	return l.URL.Hostname()
}

func (l *Location) Port() string {
	return l.URL.Port()
}

func (l *Location) Pathname() string {
	if l.URL.Opaque != "" {
		return l.URL.Opaque
	}
	if l.URL.Path == "" && l.URL.Host != "" {
		return "/"
	}
	return l.URL.EscapedPath()
}

func (l *Location) Search() string {
	if l.URL.RawQuery == "" {
		return ""
	}
	return "?" + l.URL.RawQuery
}

func (l *Location) Hash() string {
	if l.URL.Fragment == "" {
		return ""
	}
	return "#" + l.URL.EscapedFragment()
}

// Navigator describes the host to scripts.
type Navigator struct {
	AppName    string
	AppVersion string
	Platform   string
	UserAgent  string
	OnLine     bool
}

const (
	appName    = "juiceworker"
	appVersion = "1.0"
)

func newNavigator(userAgent string) *Navigator {
	if userAgent == "" {
		userAgent = appName + "/" + appVersion
	}
	return &Navigator{
		AppName:    appName,
		AppVersion: appVersion,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		UserAgent:  userAgent,
		OnLine:     true,
	}
}

// Location returns the worker location, creating it on first use.
func (c *Context) Location() *Location {
	if c.location == nil {
		c.location = &Location{URL: c.scriptURL}
	}
	return c.location
}

// OptionalLocation returns nil until Location has been called.
func (c *Context) OptionalLocation() *Location {
	return c.location
}

// Navigator returns the worker navigator, creating it on first use.
func (c *Context) Navigator() *Navigator {
	if c.navigator == nil {
		c.navigator = newNavigator(c.userAgent)
	}
	return c.navigator
}

// OptionalNavigator returns nil until Navigator has been called.
func (c *Context) OptionalNavigator() *Navigator {
	return c.navigator
}
