package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gertd/go-pluralize"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	"github.com/zond/juiceworker"
)

var plural = pluralize.NewClient()

func sourcesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the scripts in the source database",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "put <path> [file]",
			Short: "Store a script, read from file or stdin",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var content []byte
				var err error
				if len(args) == 2 {
					content, err = os.ReadFile(args[1])
				} else {
					content, err = io.ReadAll(cmd.InOrStdin())
				}
				if err != nil {
					return juiceworker.WithStack(err)
				}
				sources, err := e.openSources(cmd.Context())
				if err != nil {
					return err
				}
				return sources.Put(cmd.Context(), args[0], string(content))
			},
		},
		&cobra.Command{
			Use:   "get <path>",
			Short: "Print a script",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sources, err := e.openSources(cmd.Context())
				if err != nil {
					return err
				}
				src, err := sources.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), src.Content)
				return juiceworker.WithStack(err)
			},
		},
		&cobra.Command{
			Use:   "ls",
			Short: "List the scripts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sources, err := e.openSources(cmd.Context())
				if err != nil {
					return err
				}
				t := table.New("Path", "Size", "Modified").WithWriter(cmd.OutOrStdout())
				n := 0
				for src, err := range sources.Each(cmd.Context()) {
					if err != nil {
						return err
					}
					t.AddRow(src.Path, len(src.Content), time.Unix(0, src.Mtime).UTC().Format(time.RFC3339))
					n++
				}
				t.Print()
				fmt.Fprintln(cmd.OutOrStdout(), plural.Pluralize("script", n, true))
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <path>...",
			Short: "Remove scripts",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sources, err := e.openSources(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range args {
					if err := sources.Delete(cmd.Context(), p); err != nil {
						return err
					}
				}
				return nil
			},
		},
	)
	return cmd
}

func backupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: "Write every script as JSON to file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := e.openSources(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return juiceworker.WithStack(err)
				}
				defer f.Close()
				w = f
			}
			return sources.Backup(cmd.Context(), w)
		},
	}
}

func restoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [file]",
		Short: "Load scripts from a JSON backup in file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := e.openSources(cmd.Context())
			if err != nil {
				return err
			}
			r := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return juiceworker.WithStack(err)
				}
				defer f.Close()
				r = f
			}
			n, err := sources.Restore(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", plural.Pluralize("script", n, true))
			return nil
		},
	}
}
