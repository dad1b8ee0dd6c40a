// Package cli runs docgate cobra commands in tests.
//
// Run and RunWithInput execute a command with captured stdout, stderr and
// stdin. CommandResult carries assertions for output and for the structured
// error code and exit code the command would exit with.
//
//	result := cli.Run(root, "files", "list")
//	result.AssertCode(t, clierror.CodeAttestationUnavailable)
//
// Home gives each test an isolated installation: HOME and the XDG
// directories point into a temp dir, and the config file and state dir
// live under it.
//
//	home := cli.NewHome(t)
//	home.WriteConfig("log:\n  level: error\n")
//	result := cli.Run(root, "--config", home.ConfigPath, "history")
package cli
