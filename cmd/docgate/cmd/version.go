package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/docgate/internal/version"
	"github.com/gobeyondidentity/docgate/internal/versioncheck"
)

// VersionOutput is the JSON/YAML form of `docgate version`.
type VersionOutput struct {
	version.Info `yaml:",inline"`
	Update       *versioncheck.CheckResult `json:"update,omitempty" yaml:"update,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return newVersionCmdWithChecker(versioncheck.NewChecker())
}

// newVersionCmdWithChecker lets tests point the update check at a fake
// release API.
func newVersionCmdWithChecker(checker *versioncheck.Checker) *cobra.Command {
	var check, skipUpdateCheck bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the docgate version",
		Long: `Show the docgate version. With --check, also ask GitHub for the latest
release (cached for 24 hours) and print how to upgrade.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			info := version.Get()

			if f := cmd.Flag("output"); f != nil && f.Value.String() != "table" {
				v := VersionOutput{Info: info}
				if check && !skipUpdateCheck {
					v.Update = checker.Check(cmd.Context(), version.Version)
				}
				return (&app{outputFormat: f.Value.String()}).formatOutput(out, v)
			}

			fmt.Fprintf(out, "docgate version %s\n", version.Version)
			fmt.Fprintf(out, "  commit: %s, built: %s, %s %s\n", info.Commit, info.BuildDate, info.GoVersion, info.Platform)

			if !check || skipUpdateCheck {
				return nil
			}

			result := checker.Check(cmd.Context(), version.Version)
			switch {
			case result.LatestVersion == "":
				fmt.Fprintf(out, "\nCould not check for updates: %v\n", result.Error)
			case result.UpdateAvailable:
				fmt.Fprintf(out, "\n%s\n", result.Notice())
			default:
				fmt.Fprintln(out, "\nYou are running the latest version")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check for a newer release")
	cmd.Flags().BoolVar(&skipUpdateCheck, "skip-update-check", false, "Never contact GitHub")
	return cmd
}
