package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/docgate/internal/version"
	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/clierror"
	"github.com/gobeyondidentity/docgate/pkg/docclient"
	"github.com/gobeyondidentity/docgate/pkg/session"
)

func newFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List and download protected documents",
		Long: `List and download documents from the server.

Both commands require a completed attestation run that issued the device id
in the session and is no older than attestation.freshness.`,
	}
	cmd.AddCommand(newFilesListCmd(a), newFilesGetCmd(a))
	return cmd
}

// attestedSession returns the session when the access gate allows it.
func (a *app) attestedSession() (*session.Session, error) {
	sess, err := a.loadSession()
	if err != nil {
		return nil, err
	}
	decision, err := a.gate().CanAccess(sess)
	if err != nil {
		return nil, err
	}
	if ce := clierror.FromGate(decision); ce != nil {
		return nil, ce
	}
	return sess, nil
}

func (a *app) docClient() *docclient.Client {
	return docclient.New(
		docclient.WithTimeout(a.cfg.Timeouts.Default),
		docclient.WithUserAgent(version.UserAgent()),
	)
}

func newFilesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available documents",
		Long: `List the documents available to this device. One-time documents can be
viewed once and are removed by the server afterwards.

Examples:
  docgate files list
  docgate files list -o json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.attestedSession()
			if err != nil {
				return err
			}
			listing, err := a.docClient().ListFiles(cmd.Context(), sess)
			if err != nil {
				return err
			}

			if !a.table() {
				return a.formatOutput(cmd.OutOrStdout(), listing)
			}
			if len(listing.Normal) == 0 && len(listing.OneTime) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents available")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FILENAME\tVIEW")
			for _, f := range listing.Normal {
				fmt.Fprintf(w, "%s\t%s\n", f.Filename, f.ViewType)
			}
			for _, f := range listing.OneTime {
				fmt.Fprintf(w, "%s\t%s\n", f.Filename, "one-time")
			}
			return w.Flush()
		},
	}
}

// DownloadOutput is the JSON/YAML form of `docgate files get`.
type DownloadOutput struct {
	Filename string `json:"filename" yaml:"filename"`
	Path     string `json:"path" yaml:"path"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
}

func newFilesGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <filename> [dest]",
		Short: "Download a document",
		Long: `Download a document. dest defaults to the file name in the current
directory; "-" writes to stdout. A failed download leaves no partial file.

Examples:
  docgate files get report.pdf
  docgate files get report.pdf /tmp/report.pdf`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.attestedSession()
			if err != nil {
				return err
			}

			filename := args[0]
			dest := filepath.Base(filename)
			if len(args) == 2 {
				dest = args[1]
			}

			client := a.docClient()
			var n int64
			if dest == "-" {
				n, err = client.Download(cmd.Context(), sess, filename, cmd.OutOrStdout(), nil)
			} else {
				n, err = downloadToFile(cmd, client, sess, filename, dest, a.table())
			}
			var de *docclient.DownloadError
			if errors.As(err, &de) && de.Status == http.StatusNotFound {
				return clierror.FileNotFound(filename)
			}
			if err != nil {
				return err
			}
			a.audit.Emit(audit.NewDocumentDownloaded(sess.Username, sess.DeviceID, filename, n))

			if dest == "-" {
				return nil
			}
			if !a.table() {
				return a.formatOutput(cmd.OutOrStdout(), DownloadOutput{Filename: filename, Path: dest, Bytes: n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", dest, n)
			return nil
		},
	}
}

// downloadToFile writes into a temp file next to dest and renames it into
// place once the transfer completed.
func downloadToFile(cmd *cobra.Command, client *docclient.Client, sess *session.Session, filename, dest string, showProgress bool) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name())

	var progress docclient.Progress
	if showProgress {
		progress = progressPrinter(cmd.ErrOrStderr())
	}
	n, err := client.Download(cmd.Context(), sess, filename, tmp, progress)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("failed to save %s: %w", dest, err)
	}
	return n, nil
}

// progressPrinter redraws a single progress line at most every 100ms.
func progressPrinter(w io.Writer) docclient.Progress {
	var last time.Time
	return func(received, total int64) {
		done := total > 0 && received >= total
		if !done && time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()
		if total > 0 {
			fmt.Fprintf(w, "\rDownloading... %d%% (%d/%d bytes)", received*100/total, received, total)
		} else {
			fmt.Fprintf(w, "\rDownloading... %d bytes", received)
		}
	}
}
