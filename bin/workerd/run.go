package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/zond/juiceworker/js"
	"go.uber.org/zap"

	goccy "github.com/goccy/go-json"
)

func runCmd(e *env) *cobra.Command {
	timeout := time.Duration(0)
	cmd := &cobra.Command{
		Use:   "run <script>...",
		Short: "Import scripts into a new worker and run it until idle",
		Long: `Run imports the given scripts, resolved against the worker location, and
runs the worker until it has no pending timers or tasks, until it calls
close(), or until the timeout. Messages the worker posts are printed to
stdout as JSON lines.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			opts, err := e.bridgeOptions(ctx, cmd.ErrOrStderr(), e.logger)
			if err != nil {
				return err
			}
			enc := goccy.NewEncoder(cmd.OutOrStdout())
			opts.Worker.MessageSink = func(data any) {
				if err := enc.Encode(data); err != nil {
					e.logger.Warn("encoding message", zap.Error(err))
				}
			}
			failures := 0
			opts.Worker.ErrorSink = func(error) {
				failures++
			}
			b, err := js.New(opts)
			if err != nil {
				return err
			}
			if err := b.Worker().Post(func() {
				if err := b.Worker().ImportScripts(args, "", 0, b); err != nil {
					b.Worker().ReportError(err)
				}
			}); err != nil {
				return err
			}
			if err := b.RunUntilIdle(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if failures > 0 {
				return errors.Errorf("%d uncaught %s", failures, plural.Pluralize("error", failures, false))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the worker after this long. Zero waits until idle.")
	return cmd
}
