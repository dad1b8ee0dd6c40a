package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/docgate/pkg/clierror"
)

// CommandResult captures the output and error from a command execution.
type CommandResult struct {
	Stdout string
	Stderr string
	Err    error
}

// Run executes cmd with args and an empty stdin.
func Run(cmd *cobra.Command, args ...string) *CommandResult {
	return RunWithInput(cmd, "", args...)
}

// RunWithInput executes cmd with args, feeding stdin to the command.
// Commands that read a password with --password-stdin read it from here.
func RunWithInput(cmd *cobra.Command, stdin string, args ...string) *CommandResult {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

// CLIError maps the command error the way the docgate entry point does
// before exiting. It is nil when the command succeeded.
func (r *CommandResult) CLIError() *clierror.CLIError {
	if r.Err == nil {
		return nil
	}
	return clierror.FromError(r.Err)
}

// AssertSuccess fails the test if the command returned an error.
func (r *CommandResult) AssertSuccess(t *testing.T) {
	t.Helper()
	if r.Err != nil {
		t.Fatalf("expected command to succeed, got error: %v\nstdout: %s\nstderr: %s",
			r.Err, r.Stdout, r.Stderr)
	}
}

// AssertError fails the test if the command did not return an error.
func (r *CommandResult) AssertError(t *testing.T) {
	t.Helper()
	if r.Err == nil {
		t.Fatalf("expected command to fail, but it succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertCode fails the test unless the command failed with the given
// clierror code.
func (r *CommandResult) AssertCode(t *testing.T, code string) {
	t.Helper()
	r.AssertError(t)
	if got := r.CLIError().Code; got != code {
		t.Errorf("error code = %s, want %s (error: %v)", got, code, r.Err)
	}
}

// AssertExit fails the test unless the command would exit with exitCode.
func (r *CommandResult) AssertExit(t *testing.T, exitCode int) {
	t.Helper()
	got := clierror.ExitSuccess
	if ce := r.CLIError(); ce != nil {
		got = ce.ExitCode
	}
	if got != exitCode {
		t.Errorf("exit code = %d, want %d (error: %v)", got, exitCode, r.Err)
	}
}

// AssertContains fails the test if stdout does not contain the expected string.
func (r *CommandResult) AssertContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stdout, expected) {
		t.Errorf("expected stdout to contain %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertNotContains fails the test if stdout contains the unexpected string.
func (r *CommandResult) AssertNotContains(t *testing.T, unexpected string) {
	t.Helper()
	if strings.Contains(r.Stdout, unexpected) {
		t.Errorf("expected stdout NOT to contain %q, got:\n%s", unexpected, r.Stdout)
	}
}

// AssertPrefix fails the test if trimmed stdout does not start with expected.
func (r *CommandResult) AssertPrefix(t *testing.T, expected string) {
	t.Helper()
	if !strings.HasPrefix(strings.TrimSpace(r.Stdout), expected) {
		t.Errorf("expected stdout to start with %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertExact fails the test if stdout does not exactly match expected.
// Used for downloads written to stdout.
func (r *CommandResult) AssertExact(t *testing.T, expected string) {
	t.Helper()
	if r.Stdout != expected {
		t.Errorf("expected stdout to be exactly %q, got %q", expected, r.Stdout)
	}
}

// AssertStderrContains fails the test if stderr does not contain expected.
// Prompts, hand-off notices and download progress go to stderr.
func (r *CommandResult) AssertStderrContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stderr, expected) {
		t.Errorf("expected stderr to contain %q, got:\n%s", expected, r.Stderr)
	}
}
