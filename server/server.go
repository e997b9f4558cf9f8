// Package server serves worker consoles over SSH. Every session gets a
// fresh worker.
package server

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/console"
	"github.com/zond/juiceworker/js"
	"go.uber.org/zap"
	"golang.org/x/term"

	gossh "golang.org/x/crypto/ssh"
)

// BridgeFactory creates the worker of a session. Script console output
// must go to w.
type BridgeFactory func(w io.Writer, logger *zap.Logger) (*js.Bridge, error)

type Options struct {
	Addr       string
	HostKeyPEM []byte
	NewBridge  BridgeFactory
	Logger     *zap.Logger
}

type Server struct {
	ssh       *ssh.Server
	newBridge BridgeFactory
	logger    *zap.Logger
	workers   *juiceworker.SyncMap[string, *js.Bridge]
}

func New(opts Options) (*Server, error) {
	if opts.NewBridge == nil {
		return nil, errors.New("no bridge factory")
	}
	s := &Server{
		newBridge: opts.NewBridge,
		logger:    opts.Logger,
		workers:   juiceworker.NewSyncMap[string, *js.Bridge](),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.ssh = &ssh.Server{
		Addr:    opts.Addr,
		Handler: s.HandleSession,
	}
	if err := s.ssh.SetOption(ssh.HostKeyPEM(opts.HostKeyPEM)); err != nil {
		return nil, juiceworker.WithStack(err)
	}
	signer, err := gossh.ParsePrivateKey(opts.HostKeyPEM)
	if err != nil {
		return nil, juiceworker.WithStack(err)
	}
	s.logger.Info("ssh host key", zap.String("fingerprint", gossh.FingerprintSHA256(signer.PublicKey())))
	return s, nil
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.ssh.Addr))
	return s.filter(s.ssh.ListenAndServe())
}

func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("listening", zap.String("addr", l.Addr().String()))
	return s.filter(s.ssh.Serve(l))
}

func (s *Server) filter(err error) error {
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return juiceworker.WithStack(err)
}

// Shutdown stops accepting sessions, closes the worker of every open
// session and waits for the sessions to end until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	for id, b := range s.workers.Each() {
		s.logger.Debug("closing worker", zap.String("worker", id))
		b.Worker().Close()
	}
	return juiceworker.WithStack(s.ssh.Shutdown(ctx))
}

func (s *Server) Close() error {
	return juiceworker.WithStack(s.ssh.Close())
}

// Workers returns the number of open sessions.
func (s *Server) Workers() int {
	return s.workers.Len()
}

// HandleSession runs a console on a new worker until the session ends.
func (s *Server) HandleSession(sess ssh.Session) {
	logger := s.logger.With(zap.String("user", sess.User()), zap.String("remote", sess.RemoteAddr().String()))
	t := term.NewTerminal(sess, "> ")
	if err := s.session(sess, t, logger); err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(t, "InternalServerError: %v\n", err)
		logger.Error("session failed", zap.Error(err), zap.String("stack", juiceworker.StackTrace(err)))
	}
}

func (s *Server) session(sess ssh.Session, t *term.Terminal, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()

	b, err := s.newBridge(t, logger)
	if err != nil {
		return err
	}
	c := console.New(t, b, console.Options{Logger: logger})
	pty, winCh, isPty := sess.Pty()
	if isPty {
		if err := c.SetSize(pty.Window.Width, pty.Window.Height); err != nil {
			return err
		}
		go func() {
			for win := range winCh {
				if err := c.SetSize(win.Width, win.Height); err != nil {
					logger.Debug("resizing terminal", zap.Error(err))
				}
			}
		}()
	}

	id := b.Worker().ID().String()
	s.workers.Set(id, b)
	defer s.workers.Del(id)
	logger.Info("session started", zap.String("worker", id))
	runErr := make(chan error, 1)
	consoleDone := make(chan struct{})
	go func() {
		runErr <- b.Run(ctx)
		select {
		case <-consoleDone:
		default:
			// The worker stopped on its own, so end the session to unblock the console.
			sess.Exit(0)
		}
	}()
	consoleErr := c.Run(ctx)
	close(consoleDone)
	b.Worker().Close()
	workerErr := <-runErr
	logger.Info("session ended", zap.String("worker", id))
	if consoleErr != nil {
		return consoleErr
	}
	if workerErr != nil && !errors.Is(workerErr, context.Canceled) {
		return workerErr
	}
	return nil
}
