package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gwi.com/jedi-chat-client/internal/auth"
)

// readPassword reads a masked password from a terminal, or one line from any
// other input.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type authFunc func(a *app, cmd *cobra.Command, c auth.Credentials) error

func newAuthCmd(a *app, use, short, done string, fn authFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password is required")
			}
			if err := fn(a, cmd, auth.Credentials{Username: args[0], Password: password}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s as %s\n", done, args[0])
			return nil
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	return newAuthCmd(a, "login", "Sign in and store the credential", "Signed in", func(a *app, cmd *cobra.Command, c auth.Credentials) error {
		return a.session.Login(cmd.Context(), a.client, c)
	})
}

func newSignupCmd(a *app) *cobra.Command {
	return newAuthCmd(a, "signup", "Create an account and sign in", "Signed up", func(a *app, cmd *cobra.Command, c auth.Credentials) error {
		return a.session.Signup(cmd.Context(), a.client, c)
	})
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the credential and the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the API and the state of the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API: %s\n", a.client.BaseURL())
			cred := a.session.Credential()
			if cred == "" {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			exp, err := auth.TokenExpiry(cred)
			switch {
			case err != nil:
				fmt.Fprintln(out, "Signed in")
			case time.Now().After(exp):
				fmt.Fprintf(out, "Credential expired at %s\n", exp.Local().Format(time.RFC1123))
			default:
				fmt.Fprintf(out, "Signed in until %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}
