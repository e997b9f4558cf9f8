package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/zond/juiceworker"
	"github.com/zond/juiceworker/digest"
	"golang.org/x/term"
)

func ha1Cmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ha1 <user>",
		Short: "Print the davUsers hash of a WebDAV user",
		Long: `Ha1 reads a password, from the terminal or the first line of stdin, and
prints the digest hash to put in davUsers for the user and the configured
realm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if fd := int(os.Stdin.Fd()); cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				b, err := term.ReadPassword(fd)
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return juiceworker.WithStack(err)
				}
				password = string(b)
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, "reading password")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("empty password")
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest.ComputeHA1(args[0], e.cfg.DAVRealm, password))
			return nil
		},
	}
}
