package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// exactArgs requires exactly n positional arguments and, when the count is
// wrong, explains the expected arguments named in cmd.Use.
func exactArgs(n int) cobra.PositionalArgs {
	return rangeArgs(n, n)
}

// rangeArgs requires between min and max positional arguments.
func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return argsError(cmd, min, max, len(args))
		}
		return nil
	}
}

func argsError(cmd *cobra.Command, min, max, got int) error {
	names := argNames(cmd.Use)

	expected := fmt.Sprintf("%d", min)
	if min != max {
		expected = fmt.Sprintf("%d-%d", min, max)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "requires %s argument(s), received %d\n\n", expected, got)
	fmt.Fprintf(&msg, "Usage: %s %s\n", cmd.CommandPath(), strings.Join(names, " "))
	fmt.Fprintf(&msg, "\nRun '%s --help' for details.", cmd.CommandPath())
	return fmt.Errorf("%s", msg.String())
}

// argNames returns the <required> and [optional] placeholders in a Use
// string: "login <hostname> <username>" yields ["<hostname>", "<username>"].
func argNames(use string) []string {
	parts := strings.Fields(use)
	if len(parts) < 2 {
		return nil
	}
	var names []string
	for _, p := range parts[1:] {
		if strings.HasPrefix(p, "<") || strings.HasPrefix(p, "[") {
			names = append(names, p)
		}
	}
	return names
}
