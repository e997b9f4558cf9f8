package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zond/juiceworker/dav"
	"github.com/zond/juiceworker/digest"
	"github.com/zond/juiceworker/fs"
	"github.com/zond/juiceworker/js"
	"github.com/zond/juiceworker/pemfile"
	"github.com/zond/juiceworker/server"
	"github.com/zond/juiceworker/storage"
	"go.uber.org/zap"
)

func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve worker consoles over SSH, and optionally metrics and the sources over WebDAV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			keys := pemfile.KeyParams{
				KeyPath:       e.cfg.HostKeyPath(),
				SSHPubKeyPath: e.cfg.HostPubKeyPath(),
			}
			pemBytes, generated, err := keys.Ensure()
			if err != nil {
				return err
			}
			if generated {
				e.logger.Info("generated host key", zap.String("path", keys.KeyPath))
			}
			if _, err := e.scriptLoader(ctx); err != nil {
				return err
			}
			srv, err := server.New(server.Options{
				Addr:       e.cfg.SSHAddr,
				HostKeyPEM: pemBytes,
				Logger:     e.logger,
				NewBridge: func(w io.Writer, logger *zap.Logger) (*js.Bridge, error) {
					opts, err := e.bridgeOptions(ctx, w, logger)
					if err != nil {
						return nil, err
					}
					return js.New(opts)
				},
			})
			if err != nil {
				return err
			}

			if e.cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
				defer e.serveHTTP("metrics", e.cfg.MetricsAddr, mux).Close()
			}
			if e.cfg.DAVAddr != "" {
				handler, err := e.davHandler(ctx)
				if err != nil {
					return err
				}
				defer e.serveHTTP("dav", e.cfg.DAVAddr, handler).Close()
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					e.logger.Warn("shutting down", zap.Error(err))
				}
			}()
			return srv.ListenAndServe()
		},
	}
}

func (e *env) serveHTTP(name, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		e.logger.Info("serving "+name, zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error(name+" server failed", zap.Error(err))
		}
	}()
	return srv
}

// davHandler serves the source database to the users in the config.
// Changes are audited with the session id "dav:<user>".
func (e *env) davHandler(ctx context.Context) (http.Handler, error) {
	if len(e.cfg.DAVUsers) == 0 {
		return nil, errors.New("serving WebDAV needs at least one user in davUsers, see workerd ha1")
	}
	sources, err := e.openSources(ctx)
	if err != nil {
		return nil, err
	}
	files := &dav.Handler{
		FS:     &fs.Fs{Sources: sources},
		Logger: e.logger,
	}
	auth := digest.New(digest.Options{
		Realm:  e.cfg.DAVRealm,
		Users:  digest.StaticUsers(e.cfg.DAVUsers),
		Logger: e.logger,
	})
	return auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := digest.User(r.Context())
		files.ServeHTTP(w, r.WithContext(storage.WithSessionID(r.Context(), "dav:"+user)))
	})), nil
}
