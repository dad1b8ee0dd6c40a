// Package cmd implements the docgate CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/docgate/internal/config"
	"github.com/gobeyondidentity/docgate/internal/version"
	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/clierror"
	"github.com/gobeyondidentity/docgate/pkg/session"
	"github.com/gobeyondidentity/docgate/pkg/store"
)

// app carries global flags and the collaborators opened for a command.
type app struct {
	configPath   string
	outputFormat string
	logLevel     string

	cfg      *config.Config
	logger   *slog.Logger
	db       *store.Store
	sessions session.Store
	audit    audit.EventEmitter
	syslog   *audit.SyslogWriter
}

// noSetup lists commands that run without config, database or session.
var noSetup = map[string]bool{
	"completion": true,
	"help":       true,
	"version":    true,
	"__complete": true,
}

// NewRootCmd builds the docgate command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docgate",
		Short: "Attested access to protected documents",
		Long: `docgate gates access to a protected document area behind device attestation.

Before documents can be listed or downloaded, 'docgate check' must pass every
stage: location permission, location services, device integrity, app signature
and a geofenced location check by the server, which issues the device id used
for document requests.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noSetup[cmd.Name()] || (cmd.HasParent() && noSetup[cmd.Parent().Name()]) {
				return nil
			}
			switch a.outputFormat {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q: use table, json or yaml", a.outputFormat)
			}
			return a.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: ~/.config/docgate/config.yaml)")
	root.PersistentFlags().StringVarP(&a.outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newCheckCmd(a),
		newFilesCmd(a),
		newHistoryCmd(a),
		newAuditCmd(a),
		newSessionCmd(a),
		newVersionCmd(),
		newCompletionCmd(root),
	)
	return root
}

// setup loads configuration and opens the store, session and audit sinks.
func (a *app) setup(logOut io.Writer) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(logOut, cfg.Log)

	db, err := store.Open(cfg.ResolvedDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.sessions = session.NewFileStore(cfg.ResolvedSessionPath())

	backends := []audit.EventEmitter{audit.NewSlogEmitter(a.logger), store.NewAuditEmitter(db)}
	if cfg.Audit.Syslog {
		w, err := audit.NewSyslogWriter(audit.SyslogConfig{SocketPath: cfg.Audit.SyslogSocket})
		if err != nil {
			a.logger.Warn("syslog unavailable, auditing to log and database only", "error", err)
		} else {
			a.syslog = w
			backends = append(backends, w)
		}
	}
	a.audit = audit.NewMultiEmitter(a.logger, backends...)
	return nil
}

func (a *app) close() {
	if a.syslog != nil {
		a.syslog.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// loadSession returns the stored session or clierror.NotLoggedIn.
func (a *app) loadSession() (*session.Session, error) {
	sess, err := a.sessions.Load()
	if err != nil || !sess.LoggedIn() {
		return nil, clierror.NotLoggedIn()
	}
	return sess, nil
}

// newLogger builds the diagnostic logger. Levels were validated by config.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	a := &app{}
	root := newRootCmd(a)
	err := root.Execute()
	a.close()
	if err == nil {
		return clierror.ExitSuccess
	}
	ce := clierror.FromError(err)
	fmt.Fprintln(os.Stderr, clierror.FormatError(ce, a.outputFormat))
	return ce.ExitCode
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for docgate.

To load completions:

Bash:
  source <(docgate completion bash)

Zsh:
  docgate completion zsh > "${fpath[1]}/_docgate"

Fish:
  docgate completion fish > ~/.config/fish/completions/docgate.fish

PowerShell:
  docgate completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unknown shell: %s", args[0])
			}
		},
	}
}

// formatOutput writes data as JSON or YAML. Table output is handled by
// each command.
func (a *app) formatOutput(w io.Writer, data any) error {
	switch a.outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return nil
	}
}

func (a *app) table() bool {
	return a.outputFormat == "table"
}
