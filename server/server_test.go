package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zond/juiceworker/js"
	"github.com/zond/juiceworker/pemfile"
	"github.com/zond/juiceworker/worker"
	"go.uber.org/zap"

	gossh "golang.org/x/crypto/ssh"
)

func startServer(t *testing.T) (*Server, *gossh.Client) {
	t.Helper()
	keys := pemfile.KeyParams{KeyPath: filepath.Join(t.TempDir(), "host.pem"), Bits: 1024}
	pemBytes, _, err := keys.Ensure()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := keys.Signer()
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Options{
		HostKeyPEM: pemBytes,
		NewBridge: func(w io.Writer, logger *zap.Logger) (*js.Bridge, error) {
			return js.New(js.Options{
				Worker:  worker.Options{ScriptURL: "file:///main.js", Logger: logger},
				Console: w,
			})
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	client, err := gossh.Dial("tcp", l.Addr().String(), &gossh.ClientConfig{
		User:            "tester",
		HostKeyCallback: gossh.FixedHostKey(signer.PublicKey()),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

// shell starts a session reading stdin and returns a channel receiving the
// result of waiting for it.
func shell(t *testing.T, client *gossh.Client, stdin io.Reader, stdout io.Writer) <-chan error {
	t.Helper()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	sess.Stdout = stdout
	sess.Stdin = stdin
	if err := sess.Shell(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()
	return done
}

func wait(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSession(t *testing.T) {
	srv, client := startServer(t)
	out := &bytes.Buffer{}
	wait(t, shell(t, client, strings.NewReader(`console.log("from " + "script")`+"\r6 * 7\r:quit\r"), out))
	for _, want := range []string{"from script", "42"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
	if n := srv.Workers(); n != 0 {
		t.Errorf("%d workers left after the session", n)
	}
}

func TestWorkerCloseEndsSession(t *testing.T) {
	_, client := startServer(t)
	stdin, w := io.Pipe()
	defer w.Close()
	done := shell(t, client, stdin, io.Discard)
	if _, err := io.WriteString(w, "close()\r"); err != nil {
		t.Fatal(err)
	}
	wait(t, done)
}

func TestShutdown(t *testing.T) {
	srv, client := startServer(t)
	stdin, w := io.Pipe()
	defer w.Close()
	done := shell(t, client, stdin, io.Discard)
	if _, err := io.WriteString(w, "1\r"); err != nil {
		t.Fatal(err)
	}
	for deadline := time.Now().Add(5 * time.Second); srv.Workers() == 0; time.Sleep(10 * time.Millisecond) {
		if time.Now().After(deadline) {
			t.Fatal("session never started")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown := make(chan error, 1)
	go func() {
		shutdown <- srv.Shutdown(ctx)
	}()
	wait(t, done)
	// Shutdown waits for the connection, not just the session.
	client.Close()
	wait(t, shutdown)
}

func TestNewNeedsFactory(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Errorf("wanted an error without a bridge factory")
	}
}
