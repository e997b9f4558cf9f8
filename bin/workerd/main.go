// workerd runs scripts in workers: once from the command line, in a local
// console, or in consoles served over SSH.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/config"
	"github.com/zond/juiceworker/js"
	"github.com/zond/juiceworker/loader"
	"github.com/zond/juiceworker/logging"
	"github.com/zond/juiceworker/metrics"
	"github.com/zond/juiceworker/storage"
	"github.com/zond/juiceworker/worker"
	"go.uber.org/zap"
)

// env is what the subcommands share. It is set up before any of them runs.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	sources  *storage.Sources
	loader   *loader.Loader
}

func (e *env) close() {
	if e.sources != nil {
		if err := e.sources.Close(); err != nil {
			e.logger.Warn("closing sources", zap.Error(err))
		}
	}
	e.logger.Sync()
}

// openSources opens the source database in the config dir.
func (e *env) openSources(ctx context.Context) (*storage.Sources, error) {
	if e.sources != nil {
		return e.sources, nil
	}
	if err := os.MkdirAll(e.cfg.Dir, 0700); err != nil {
		return nil, juiceworker.WithStack(err)
	}
	var audit *storage.AuditLogger
	if e.cfg.AuditLog {
		audit = storage.NewAuditLogger(storage.AuditOptions{
			Path:       e.cfg.AuditPath(),
			MaxSizeMB:  e.cfg.Log.MaxSizeMB,
			MaxBackups: e.cfg.Log.MaxBackups,
			MaxAgeDays: e.cfg.Log.MaxAgeDays,
		})
	}
	sources, err := storage.Open(ctx, e.cfg.DBPath(), storage.Options{
		Audit:  audit,
		Logger: e.logger,
		OnChange: func(path string) {
			if e.loader != nil {
				e.loader.Invalidate(path)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	e.sources = sources
	return sources, nil
}

// scriptLoader serves scripts from the script dir if configured, and from
// the source database otherwise.
func (e *env) scriptLoader(ctx context.Context) (*loader.Loader, error) {
	if e.loader != nil {
		return e.loader, nil
	}
	var fetcher loader.Fetcher
	if e.cfg.ScriptDir != "" {
		fetcher = loader.DirFetcher{Root: e.cfg.ScriptDir}
	} else {
		sources, err := e.openSources(ctx)
		if err != nil {
			return nil, err
		}
		fetcher = sources
	}
	e.loader = loader.New(loader.Options{
		Fetcher:      fetcher,
		CacheTTL:     e.cfg.CacheTTL.D(),
		CacheMaxKeys: e.cfg.CacheMaxKeys,
		Logger:       e.logger,
		Metrics:      e.metrics,
	})
	return e.loader, nil
}

func (e *env) bridgeOptions(ctx context.Context, console io.Writer, logger *zap.Logger) (js.Options, error) {
	l, err := e.scriptLoader(ctx)
	if err != nil {
		return js.Options{}, err
	}
	return js.Options{
		Worker: worker.Options{
			ScriptURL:     e.cfg.ScriptURL,
			UserAgent:     e.cfg.UserAgent,
			Loader:        l,
			MinTimerDelay: e.cfg.MinTimerDelay.D(),
			Logger:        logger,
			Metrics:       e.metrics,
		},
		Console:    console,
		GCInterval: e.cfg.GCInterval.D(),
		MaxRunTime: e.cfg.MaxRunTime.D(),
	}, nil
}

func newRootCmd() *cobra.Command {
	e := &env{}
	configPath := ""
	root := &cobra.Command{
		Use:           "workerd",
		Short:         "Run JavaScript workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "JSON config file.")
	flags := config.BindFlags(root.PersistentFlags())
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags.Apply(cfg)
		e.cfg = cfg
		if e.logger, err = logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Path:       cfg.Log.Path,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Output:     cmd.ErrOrStderr(),
		}); err != nil {
			return err
		}
		e.registry = prometheus.NewRegistry()
		e.metrics = metrics.New(e.registry)
		return nil
	}
	root.PersistentPostRun = func(*cobra.Command, []string) {
		e.close()
	}
	root.AddCommand(
		runCmd(e),
		consoleCmd(e),
		serveCmd(e),
		sourcesCmd(e),
		backupCmd(e),
		restoreCmd(e),
		ha1Cmd(e),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if trace := juiceworker.StackTrace(err); trace != "" && os.Getenv("JUICEWORKER_TRACE") != "" {
			fmt.Fprintln(os.Stderr, trace)
		}
		os.Exit(1)
	}
}
