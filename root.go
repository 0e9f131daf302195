package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tonimelisma/spsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagYes        bool
)

// skipSessionAnnotation marks commands that never talk to SharePoint and so
// need no credential store or orchestrator.
const skipSessionAnnotation = "spsync.skipSession"

// cliContextKey is the context key under which the pre-run stores the
// CLIContext.
type cliContextKey struct{}

// CLIContext carries everything a subcommand needs: resolved settings, the
// logger and, unless the command skips it, a Session.
type CLIContext struct {
	Settings *config.Settings
	Logger   *slog.Logger
	Notifier *consoleNotifier
	Terminal *terminal
	Session  *Session
	Stdout   io.Writer
}

// activeCLI is the context of the running command. main closes its session
// after the command returns, whether or not it failed.
var activeCLI *CLIContext

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	v := config.NewSettingsViper()

	cmd := &cobra.Command{
		Use:     "spsync",
		Short:   "SharePoint file sync and publishing",
		Long:    "Check out, publish and synchronize SharePoint files from a local workspace.",
		Version: version,
		// Silence Cobra's default error/usage printing; main reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, v)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "global settings file path")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVarP(&flagYes, "yes", "y", false, "answer yes to confirmations")
	pf.String("log-format", "", "log format: text or json")
	pf.String("credentials-db", "", "credential database path")
	pf.Duration("http-timeout", 0, "timeout for each SharePoint request")

	bindFlag(v, config.KeyLogFormat, pf.Lookup("log-format"))
	bindFlag(v, config.KeyCredentialsDB, pf.Lookup("credentials-db"))
	bindFlag(v, config.KeyHTTPTimeout, pf.Lookup("http-timeout"))

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCheckoutCmd())
	cmd.AddCommand(newDiscardCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPopulateCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newSaveCmd())
	cmd.AddCommand(newPublishWorkspaceCmd())
	cmd.AddCommand(newResetCredentialsCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// bindFlag binds a flag to a settings key. A flag only overrides the file
// and environment once the user sets it.
func bindFlag(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("BUG: binding flag for %s: %v", key, err))
	}
}

// setupCLIContext resolves the global settings, builds the logger and,
// unless the command opts out, opens the session.
func setupCLIContext(cmd *cobra.Command, v *viper.Viper) error {
	settings, err := config.LoadSettings(v, flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	logger := buildLogger(settings, os.Stderr)

	cc := &CLIContext{
		Settings: settings,
		Logger:   logger,
		Notifier: newConsoleNotifier(os.Stdout, os.Stderr, flagQuiet),
		Terminal: newTerminal(os.Stdin, os.Stderr, flagYes),
		Stdout:   os.Stdout,
	}

	var interruptHint io.Writer = os.Stderr
	if flagQuiet {
		interruptHint = nil
	}

	ctx := shutdownContext(cmd.Context(), logger, interruptHint)

	if cmd.Annotations[skipSessionAnnotation] == "" {
		sess, err := NewSession(ctx, settings, cc.Terminal, cc.Notifier, logger)
		if err != nil {
			return err
		}

		cc.Session = sess
	}

	activeCLI = cc
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// mustCLIContext returns the CLIContext stored by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not set; PersistentPreRunE did not run")
	}

	return cc
}

// buildLogger creates an slog.Logger from the settings and CLI flags. The
// settings level is the baseline; --verbose and --quiet override it because
// CLI flags always win.
func buildLogger(settings *config.Settings, w io.Writer) *slog.Logger {
	level := slog.LevelWarn

	if settings != nil {
		switch settings.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if settings != nil && settings.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// closeActive releases the session of the command that just ran.
func closeActive() {
	if activeCLI == nil || activeCLI.Session == nil {
		return
	}

	if err := activeCLI.Session.Close(); err != nil {
		activeCLI.Logger.Warn("closing session", slog.String("error", err.Error()))
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
