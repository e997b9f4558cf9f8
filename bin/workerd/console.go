package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/console"
	"github.com/zond/juiceworker/js"
	"golang.org/x/term"
)

type stdio struct {
	io.Reader
	io.Writer
}

func consoleCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Run a worker with an interactive console on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
				state, err := term.MakeRaw(fd)
				if err != nil {
					return juiceworker.WithStack(err)
				}
				defer term.Restore(fd, state)
			}
			t := term.NewTerminal(stdio{cmd.InOrStdin(), cmd.OutOrStdout()}, "> ")
			opts, err := e.bridgeOptions(ctx, t, e.logger)
			if err != nil {
				return err
			}
			b, err := js.New(opts)
			if err != nil {
				return err
			}
			c := console.New(t, b, console.Options{Logger: e.logger})
			if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
				if width, height, err := term.GetSize(fd); err == nil {
					c.SetSize(width, height)
				}
			}
			done := make(chan error, 1)
			go func() {
				done <- b.Run(ctx)
			}()
			err = c.Run(ctx)
			b.Worker().Close()
			<-done
			return err
		},
	}
}
