package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gobeyondidentity/docgate/internal/version"
	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/docclient"
)

func newLoginCmd(a *app) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login <hostname> <username>",
		Short: "Log in to a document server",
		Long: `Log in to a document server and store the session locally.

The hostname may carry a scheme and port ("https://docs.example.com" or
"127.0.0.1:8000"); without a scheme plain http is used. A successful login
clears any previously issued device id, so 'docgate check' must pass again
before documents are reachable.

Examples:
  docgate login 127.0.0.1:8000 alice
  echo "$PASSWORD" | docgate login docs.example.com alice --password-stdin`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname, username := args[0], args[1]

			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			client := docclient.New(
				docclient.WithTimeout(a.cfg.Timeouts.Default),
				docclient.WithUserAgent(version.UserAgent()),
			)
			sess, err := client.Login(cmd.Context(), a.sessions, hostname, username, password)
			if err != nil {
				reason := err.Error()
				var le *docclient.LoginError
				if errors.As(err, &le) {
					reason = le.Reason
				}
				a.audit.Emit(audit.NewLoginFailure(username, hostname, reason))
				return err
			}
			a.audit.Emit(audit.NewLoginSuccess(sess.Username, sess.Hostname))

			if !a.table() {
				return a.formatOutput(cmd.OutOrStdout(), sess)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s\n", sess.Hostname, sess.Username)
			fmt.Fprintln(cmd.OutOrStdout(), "Run 'docgate check' to attest this device.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

// readPassword reads the password from stdin when asked to or when stdin is
// not a terminal, and otherwise prompts without echo.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("no password provided on stdin")
	}
	return password, nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the local session and device id",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.sessions.Load()
			if err != nil || !sess.LoggedIn() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := a.sessions.Clear(); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			a.audit.Emit(audit.NewLogout(sess.Username))
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s\n", sess.Username)
			return nil
		},
	}
}
