package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gobeyondidentity/docgate/internal/config"
	"github.com/gobeyondidentity/docgate/internal/version"
	"github.com/gobeyondidentity/docgate/pkg/attestation"
	"github.com/gobeyondidentity/docgate/pkg/authority"
	"github.com/gobeyondidentity/docgate/pkg/clierror"
	"github.com/gobeyondidentity/docgate/pkg/location"
	"github.com/gobeyondidentity/docgate/pkg/posture"
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	waitFmt = color.New(color.FgYellow).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// CheckOutput is the JSON/YAML form of `docgate check`.
type CheckOutput struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Phase       string        `json:"phase" yaml:"phase"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	Completed   int           `json:"completed" yaml:"completed"`
	Stages      []StageOutput `json:"stages" yaml:"stages"`
	DeviceID    string        `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	FailureKind string        `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Message     string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// StageOutput is one stage line of CheckOutput.
type StageOutput struct {
	Stage  string `json:"stage" yaml:"stage"`
	Title  string `json:"title" yaml:"title"`
	Status string `json:"status" yaml:"status"`
}

func newCheckOutput(st attestation.State) CheckOutput {
	out := CheckOutput{
		RunID:     st.RunID,
		Phase:     string(st.Phase),
		Attempts:  st.Attempt,
		Completed: st.Completed,
		DeviceID:  st.DeviceID,
		Message:   st.Message,
	}
	if st.Failure != nil {
		out.FailureKind = st.Failure.Kind.String()
	}
	for _, s := range st.Stages {
		out.Stages = append(out.Stages, StageOutput{
			Stage:  string(s),
			Title:  s.Title(),
			Status: string(st.StatusOf(s)),
		})
	}
	return out
}

// handoffChoices are the answers given on the command line for the external
// hand-offs. Each is consumed by its first use.
type handoffChoices struct {
	grant          bool
	deny           bool
	enableLocation bool
}

func newCheckCmd(a *app) *cobra.Command {
	var choices handoffChoices

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Attest this device",
		Long: `Run the attestation pipeline for the logged-in session.

Stages run in order and stop at the first failure:
  1. Location permission   granted to docgate on this device
  2. Location services     enabled on this device
  3. Device integrity      developer options off, no debugger attached
  4. App signature         signing certificate digest accepted by the server
  5. Device location       current position inside the server's geofence

On success the server issues a device id, which is stored in the session and
used for document requests. When the pipeline waits on a permission prompt or
on location services, docgate asks on the terminal; the flags below answer
in advance for scripted use.

Examples:
  docgate check
  docgate check --grant-permission --enable-location
  docgate check -o json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if choices.grant && choices.deny {
				return errors.New("--grant-permission and --deny-permission cannot be combined")
			}
			if _, err := a.loadSession(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			platform := posture.NewHostPlatform(a.cfg.ResolvedSettingsPath(), a.cfg.ResolvedSigningCertPath())
			o := attestation.New(attestation.Deps{
				Platform: platform,
				Acquirer: location.NewAcquirer(locationProvider(a.cfg.Location)),
				Verifiers: attestation.DefaultVerifierFactory(
					authority.WithTimeout(a.cfg.Timeouts.Default),
					authority.WithLocationTimeout(a.cfg.Timeouts.LocationCheck),
					authority.WithUserAgent(version.UserAgent()),
				),
				Session:  a.sessions,
				Handoff:  &terminalHandoff{w: cmd.ErrOrStderr()},
				Recorder: a.db,
				Audit:    a.audit,
				Logger:   a.logger,
			},
				attestation.WithLocationTimeout(a.cfg.Location.Timeout),
				attestation.WithReportTimeout(a.cfg.Timeouts.Report),
			)
			defer o.WaitReports()
			defer o.Stop()

			sub, unsubscribe := o.Subscribe()
			defer unsubscribe()

			r := &progressRenderer{w: cmd.OutOrStdout(), quiet: !a.table()}
			done := o.Start(ctx)
			for {
				st, ok := r.follow(sub, done)
				if !ok {
					if err := ctx.Err(); err != nil {
						return fmt.Errorf("attestation interrupted: %w", err)
					}
					return errors.New("attestation run was superseded")
				}
				if st.Phase == attestation.PhaseAwaiting {
					next, err := resolveHandoff(ctx, cmd, o, platform, st, &choices)
					if err != nil {
						return err
					}
					done = next
					continue
				}

				if !a.table() {
					if err := a.formatOutput(cmd.OutOrStdout(), newCheckOutput(st)); err != nil {
						return err
					}
				} else if st.Phase == attestation.PhaseCompleted {
					fmt.Fprintf(cmd.OutOrStdout(), "\nDevice attested. Device ID: %s\n", st.DeviceID)
				}
				if ce := clierror.FromState(st); ce != nil {
					return ce
				}
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&choices.grant, "grant-permission", false, "Grant location permission if asked")
	cmd.Flags().BoolVar(&choices.deny, "deny-permission", false, "Deny location permission if asked")
	cmd.Flags().BoolVar(&choices.enableLocation, "enable-location", false, "Turn on location services if they are off")
	return cmd
}

// resolveHandoff answers the hand-off a suspended run waits on, records the
// answer in the device settings and resumes the run.
func resolveHandoff(ctx context.Context, cmd *cobra.Command, o *attestation.Orchestrator, platform *posture.HostPlatform, st attestation.State, choices *handoffChoices) (<-chan attestation.State, error) {
	switch st.Awaiting {
	case attestation.ActionPermissionPrompt:
		var granted bool
		switch {
		case choices.grant:
			granted, choices.grant = true, false
		case choices.deny:
			granted, choices.deny = false, false
		default:
			answer, ok := confirm(cmd, "Allow docgate to access this device's location?")
			if !ok {
				return nil, clierror.AttestationPending(attestation.MsgPermissionRequired).
					WithHint("Run 'docgate check --grant-permission' to grant location access")
			}
			granted = answer
		}

		value := posture.PermissionStateDenied
		if granted {
			value = posture.PermissionStateGranted
		}
		if err := platform.Update(func(s *posture.DeviceSettings) { s.LocationPermission = value }); err != nil {
			return nil, fmt.Errorf("failed to save location permission: %w", err)
		}
		return o.PermissionResult(ctx, granted)

	case attestation.ActionLocationSettings:
		enable := choices.enableLocation
		choices.enableLocation = false
		if !enable {
			answer, ok := confirm(cmd, "Turn on location services?")
			if !ok || !answer {
				return nil, clierror.AttestationPending(st.Message).
					WithHint("Run 'docgate check --enable-location' to turn on location services")
			}
		}
		if err := platform.Update(func(s *posture.DeviceSettings) { s.LocationEnabled = true }); err != nil {
			return nil, fmt.Errorf("failed to enable location services: %w", err)
		}
		return o.SettingsReturned(ctx)

	default:
		return nil, fmt.Errorf("unexpected hand-off %q", st.Awaiting)
	}
}

// confirm asks a yes/no question on the terminal. ok is false when stdin is
// not a terminal or no answer could be read.
func confirm(cmd *cobra.Command, question string) (answer, ok bool) {
	f, isFile := cmd.InOrStdin().(*os.File)
	if !isFile || !term.IsTerminal(int(f.Fd())) {
		return false, false
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, true
	default:
		return false, true
	}
}

// locationProvider returns the position source selected in config.
func locationProvider(lc config.LocationConfig) location.Provider {
	if lc.Mode == config.LocationFile {
		return &location.FileProvider{Path: lc.FixFile}
	}
	return &location.StaticProvider{Position: &location.Position{
		Latitude:  lc.Latitude,
		Longitude: lc.Longitude,
		Altitude:  lc.Altitude,
	}}
}

// terminalHandoff tells the user what the suspended pipeline is waiting on.
type terminalHandoff struct {
	w io.Writer
}

func (h *terminalHandoff) RequestPermission() {
	fmt.Fprintln(h.w, attestation.MsgPermissionRequired)
}

func (h *terminalHandoff) OpenLocationSettings(message string) {
	fmt.Fprintln(h.w, message)
}

// progressRenderer prints a line whenever a stage passes, fails or starts
// waiting. Lines restart with each attempt.
type progressRenderer struct {
	w     io.Writer
	quiet bool

	runID   string
	attempt int
	last    map[attestation.Stage]attestation.StageStatus
}

// follow renders snapshots until done yields or closes, then renders any
// snapshot still buffered so output is complete before returning.
func (r *progressRenderer) follow(sub, done <-chan attestation.State) (attestation.State, bool) {
	for {
		select {
		case s, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			r.render(s)
		case st, ok := <-done:
			for sub != nil {
				select {
				case s, open := <-sub:
					if !open {
						sub = nil
						continue
					}
					r.render(s)
				default:
					return st, ok
				}
			}
			return st, ok
		}
	}
}

func (r *progressRenderer) render(s attestation.State) {
	if r.quiet || s.Phase == attestation.PhaseIdle {
		return
	}
	if s.RunID != r.runID || s.Attempt != r.attempt {
		if s.RunID == r.runID && s.Attempt > 1 {
			fmt.Fprintln(r.w, dimFmt(fmt.Sprintf("Re-checking from the first stage (attempt %d)", s.Attempt)))
		}
		r.runID, r.attempt = s.RunID, s.Attempt
		r.last = make(map[attestation.Stage]attestation.StageStatus)
	}

	for _, stage := range s.Stages {
		status := s.StatusOf(stage)
		if r.last[stage] == status {
			continue
		}
		r.last[stage] = status
		switch status {
		case attestation.StagePassed:
			fmt.Fprintf(r.w, "%s %s\n", okFmt("✓"), stage.Title())
		case attestation.StageFailed:
			fmt.Fprintf(r.w, "%s %s\n", errFmt("✗"), stage.Title())
		case attestation.StageBlocked:
			fmt.Fprintf(r.w, "%s %s %s\n", waitFmt("…"), stage.Title(), dimFmt("(waiting: "+string(s.Awaiting)+")"))
		}
	}
}
