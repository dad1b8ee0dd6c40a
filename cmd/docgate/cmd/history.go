package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/store"
	"github.com/gobeyondidentity/docgate/pkg/timeutil"
)

// RunOutput is the JSON/YAML form of one attestation run.
type RunOutput struct {
	ID          string     `json:"id" yaml:"id"`
	Username    string     `json:"username" yaml:"username"`
	Status      string     `json:"status" yaml:"status"`
	Attempts    int        `json:"attempts" yaml:"attempts"`
	Completed   int        `json:"completed" yaml:"completed"`
	Total       int        `json:"total" yaml:"total"`
	FailedStage string     `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	FailureKind string     `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Message     string     `json:"message,omitempty" yaml:"message,omitempty"`
	DeviceID    string     `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	PostureHash string     `json:"posture_hash,omitempty" yaml:"posture_hash,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func newRunOutput(r *store.Run) RunOutput {
	return RunOutput{
		ID:          r.ID,
		Username:    r.Username,
		Status:      string(r.Status),
		Attempts:    r.Attempts,
		Completed:   r.Completed,
		Total:       r.Total,
		FailedStage: r.FailedStage,
		FailureKind: r.FailureKind,
		Message:     r.Message,
		DeviceID:    r.DeviceID,
		PostureHash: r.PostureHash,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		user   string
		status string
		since  time.Duration
		limit  int
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show attestation run history",
		Long: `Show recorded attestation runs, newest first.

Examples:
  docgate history
  docgate history --status failed --since 72h
  docgate history --prune 720h`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prune > 0 {
				n, err := a.db.PruneRuns(time.Now().Add(-prune))
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s) older than %s\n", n, prune)
				return nil
			}

			filter := store.RunFilter{
				Username: user,
				Status:   store.RunStatus(status),
				Limit:    limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			runs, err := a.db.ListRuns(filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if !a.table() {
				out := make([]RunOutput, 0, len(runs))
				for _, r := range runs {
					out = append(out, newRunOutput(r))
				}
				return a.formatOutput(cmd.OutOrStdout(), out)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No attestation runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tUSER\tSTATUS\tSTAGES\tATTEMPTS\tDETAIL")
			for _, r := range runs {
				detail := r.DeviceID
				if r.FailedStage != "" {
					detail = r.FailedStage + ": " + truncate(firstLine(r.Message), 48)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					timeutil.Relative(r.StartedAt),
					r.Username, r.Status, r.Completed, r.Total, r.Attempts, valueOr(detail, "-"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Only runs of this username")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (running, awaiting, completed, failed, abandoned)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete runs started before this duration ago instead of listing")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		eventType string
		user      string
		runID     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded security events",
		Long: `Show security events recorded in the local database, newest first.

Event types: ` + fmt.Sprint(audit.AllEventTypes()) + `

Examples:
  docgate audit
  docgate audit --type attestation.tamper`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.db.QueryAuditEntries(store.AuditFilter{
				Type:  audit.EventType(eventType),
				Actor: user,
				RunID: runID,
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("failed to query audit log: %w", err)
			}

			if !a.table() {
				return a.formatOutput(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit events recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSEVERITY\tTYPE\tUSER\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.Severity, e.Type, valueOr(e.Actor, "-"), truncate(firstLine(e.Message), 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type")
	cmd.Flags().StringVar(&user, "user", "", "Only events of this username")
	cmd.Flags().StringVar(&runID, "run", "", "Only events of this attestation run")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
