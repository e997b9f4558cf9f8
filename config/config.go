// Package config loads workerd settings: defaults, then an optional JSON
// file, then JUICEWORKER_* environment variables, then command line flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/zond/juiceworker"

	goccy "github.com/goccy/go-json"
)

const EnvPrefix = "JUICEWORKER"

// Duration is a time.Duration written as "1.5s" in JSON and environment
// variables.
type Duration time.Duration

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return goccy.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := goccy.Unmarshal(b, &s); err != nil {
		var ns int64
		if err := goccy.Unmarshal(b, &ns); err != nil {
			return errors.Errorf("invalid duration %s", b)
		}
		*d = Duration(ns)
		return nil
	}
	return d.Decode(s)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return juiceworker.WithStack(err)
	}
	*d = Duration(parsed)
	return nil
}

type Log struct {
	Level      string `json:"level" split_words:"true"`
	Path       string `json:"path" split_words:"true"`
	MaxSizeMB  int    `json:"maxSizeMB" split_words:"true"`
	MaxBackups int    `json:"maxBackups" split_words:"true"`
	MaxAgeDays int    `json:"maxAgeDays" split_words:"true"`
}

type Config struct {
	// Dir holds the source database, the host key and the audit log.
	Dir string `json:"dir" split_words:"true"`
	// ScriptDir, if set, serves scripts from disk instead of the database.
	ScriptDir   string `json:"scriptDir" split_words:"true"`
	ScriptURL   string `json:"scriptURL" split_words:"true"`
	UserAgent   string `json:"userAgent" split_words:"true"`
	SSHAddr     string `json:"sshAddr" split_words:"true"`
	MetricsAddr string `json:"metricsAddr" split_words:"true"`
	// DAVAddr, if set, serves the source database over WebDAV.
	DAVAddr  string `json:"davAddr" split_words:"true"`
	DAVRealm string `json:"davRealm" split_words:"true"`
	// DAVUsers maps WebDAV usernames to digest HA1 hashes, see workerd ha1.
	DAVUsers      map[string]string `json:"davUsers" split_words:"true"`
	MinTimerDelay Duration          `json:"minTimerDelay" split_words:"true"`
	MaxRunTime    Duration          `json:"maxRunTime" split_words:"true"`
	GCInterval    Duration          `json:"gcInterval" split_words:"true"`
	CacheTTL      Duration          `json:"cacheTTL" split_words:"true"`
	CacheMaxKeys  int               `json:"cacheMaxKeys" split_words:"true"`
	AuditLog      bool              `json:"auditLog" split_words:"true"`
	Log           Log               `json:"log" split_words:"true"`
}

func Default() *Config {
	return &Config{
		Dir:           filepath.Join(os.Getenv("HOME"), ".juiceworker"),
		ScriptURL:     "file:///main.js",
		SSHAddr:       "127.0.0.1:15000",
		DAVRealm:      "juiceworker",
		MinTimerDelay: Duration(time.Millisecond),
		MaxRunTime:    Duration(time.Second),
		GCInterval:    Duration(10 * time.Second),
		CacheTTL:      Duration(time.Minute),
		CacheMaxKeys:  1024,
		AuditLog:      true,
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load returns the defaults overridden by the JSON file at path, if path
// is not empty, and then by the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, juiceworker.WithStack(err)
		}
		if err := goccy.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, juiceworker.WithStack(err)
	}
	return c, nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.Dir, "sources.sqlite")
}

func (c *Config) HostKeyPath() string {
	return filepath.Join(c.Dir, "host.pem")
}

func (c *Config) HostPubKeyPath() string {
	return filepath.Join(c.Dir, "host.pub")
}

func (c *Config) AuditPath() string {
	return filepath.Join(c.Dir, "audit.log")
}

// Flags are command line overrides. Only flags given on the command line
// are applied.
type Flags struct {
	fs     *pflag.FlagSet
	values Config
	apply  map[string]func(dst *Config, src *Config)
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, apply: map[string]func(*Config, *Config){}}
	def := Default()
	str := func(name string, field func(*Config) *string, usage string) {
		fs.StringVar(field(&f.values), name, *field(def), usage)
		f.apply[name] = func(dst, src *Config) { *field(dst) = *field(src) }
	}
	dur := func(name string, field func(*Config) *Duration, usage string) {
		fs.DurationVar((*time.Duration)(field(&f.values)), name, field(def).D(), usage)
		f.apply[name] = func(dst, src *Config) { *field(dst) = *field(src) }
	}
	str("dir", func(c *Config) *string { return &c.Dir }, "Where to keep the source database, host key and audit log.")
	str("script-dir", func(c *Config) *string { return &c.ScriptDir }, "Serve scripts from this directory instead of the database.")
	str("script-url", func(c *Config) *string { return &c.ScriptURL }, "Worker location, the base for relative imports.")
	str("user-agent", func(c *Config) *string { return &c.UserAgent }, "navigator.userAgent.")
	str("ssh", func(c *Config) *string { return &c.SSHAddr }, "Where to listen to SSH connections.")
	str("metrics", func(c *Config) *string { return &c.MetricsAddr }, "Where to serve /metrics. Empty disables.")
	str("dav", func(c *Config) *string { return &c.DAVAddr }, "Where to serve the source database over WebDAV. Empty disables.")
	str("log-level", func(c *Config) *string { return &c.Log.Level }, "debug, info, warn or error.")
	str("log-file", func(c *Config) *string { return &c.Log.Path }, "Log JSON to this rotated file instead of stderr.")
	dur("min-timer-delay", func(c *Config) *Duration { return &c.MinTimerDelay }, "Smallest timer delay.")
	dur("max-run-time", func(c *Config) *Duration { return &c.MaxRunTime }, "Interrupt scripts running longer than this.")
	dur("gc-interval", func(c *Config) *Duration { return &c.GCInterval }, "How often to run a collection pass.")
	dur("cache-ttl", func(c *Config) *Duration { return &c.CacheTTL }, "How long fetched scripts are cached.")
	return f
}

// Apply copies the flags set on the command line into c. The flags may have
// been parsed by another set sharing them, e.g. a cobra subcommand's merged
// flags, so Changed is checked rather than the set's own parse record.
func (f *Flags) Apply(c *Config) {
	f.fs.VisitAll(func(fl *pflag.Flag) {
		if apply, found := f.apply[fl.Name]; found && fl.Changed {
			apply(c, &f.values)
		}
	})
}
