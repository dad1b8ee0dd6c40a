package cmd

import (
	"testing"

	"github.com/gobeyondidentity/docgate/internal/testutil/cli"
	"github.com/gobeyondidentity/docgate/pkg/clierror"
)

func TestRootCmd_HelpShowsSubcommands(t *testing.T) {
	t.Log("Verifying help output lists the docgate commands")

	result := cli.Run(NewRootCmd(), "--help")
	result.AssertSuccess(t)

	for _, name := range []string{"login", "check", "files", "history", "audit", "session", "logout", "version", "completion"} {
		result.AssertContains(t, name)
	}
}

func TestRootCmd_RejectsUnknownOutputFormat(t *testing.T) {
	env := newTestEnv(t)

	result := env.run("history", "-o", "xml")
	result.AssertError(t)
	result.AssertExit(t, clierror.ExitGeneral)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("DOCGATE_LATITUDE", "north")

	result := env.run("history")
	result.AssertError(t)
	t.Logf("error: %v", result.Err)
}

func TestCompletion(t *testing.T) {
	result := cli.Run(NewRootCmd(), "completion", "bash")
	result.AssertSuccess(t)
	result.AssertContains(t, "docgate")
}
