package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/docgate/pkg/attestation"
	"github.com/gobeyondidentity/docgate/pkg/timeutil"
)

// SessionOutput is the JSON/YAML form of `docgate session show`.
type SessionOutput struct {
	Hostname   string     `json:"hostname" yaml:"hostname"`
	Username   string     `json:"username" yaml:"username"`
	DeviceID   string     `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	Attested   bool       `json:"attested" yaml:"attested"`
	Reason     string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty" yaml:"last_run_id,omitempty"`
	AttestedAt *time.Time `json:"attested_at,omitempty" yaml:"attested_at,omitempty"`
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the local session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the logged-in identity and attestation status",
		Long: `Show the server, username and device id of the local session, and whether
the latest attestation run currently allows document access.

Examples:
  docgate session show
  docgate session show -o json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.loadSession()
			if err != nil {
				return err
			}
			decision, err := a.gate().CanAccess(sess)
			if err != nil {
				return err
			}

			out := SessionOutput{
				Hostname: sess.Hostname,
				Username: sess.Username,
				DeviceID: sess.DeviceID,
				Attested: decision.Allowed,
				Reason:   decision.Reason,
			}
			if decision.Run != nil {
				out.LastRunID = decision.Run.ID
				out.AttestedAt = decision.Run.FinishedAt
			}

			if !a.table() {
				return a.formatOutput(cmd.OutOrStdout(), out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Server:\t%s\n", out.Hostname)
			fmt.Fprintf(w, "Username:\t%s\n", out.Username)
			fmt.Fprintf(w, "Device ID:\t%s\n", valueOr(out.DeviceID, "-"))
			switch {
			case !out.Attested:
				fmt.Fprintf(w, "Attested:\tno (%s)\n", out.Reason)
			case out.AttestedAt != nil:
				fmt.Fprintf(w, "Attested:\tyes (%s, %s)\n", timeutil.Relative(*out.AttestedAt), out.AttestedAt.Local().Format(time.RFC3339))
			default:
				fmt.Fprintln(w, "Attested:\tyes")
			}
			return w.Flush()
		},
	})
	return cmd
}

// gate returns the document access gate configured from the freshness window.
func (a *app) gate() *attestation.Gate {
	g := attestation.NewGate(a.db)
	g.FreshnessWindow = a.cfg.Attestation.Freshness
	return g
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
