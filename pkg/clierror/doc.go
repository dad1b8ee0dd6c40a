// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. Pipeline failures and document client errors are
// mapped with FromState, FromFailure and FromError so every command reports
// them the same way.
//
// # Usage
//
//	if err != nil {
//	    return clierror.FromError(err).
//	        WithHint("Check that the server address is correct")
//	}
package clierror
