package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spsync/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <site-url> [dir]",
		Short: "Create a workspace configuration",
		Long: `Write a new spsync.toml for a SharePoint site into dir (default: the
current directory) and create the source directory.`,
		Args:        cobra.RangeArgs(1, 2),
		Annotations: map[string]string{skipSessionAnnotation: "true"},
		RunE:        runInit,
	}

	cmd.Flags().String("auth", string(config.AuthDigest), "authentication type: Digest or AddIn")

	return cmd
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <site-path-or-pattern>",
		Short: "Download a server folder or pattern into the workspace",
		Long: `Download files from the site into the workspace. The path is relative
to the workspace's site and may point into a configured sub-site; it may
contain wildcards, with ** matching any number of folders.

With --site the pattern is applied to that site or sub-site instead.`,
		Args: cobra.ExactArgs(1),
		RunE: runPull,
	}

	cmd.Flags().String("site", "", "site or sub-site URL the pattern is relative to")
	cmd.Flags().String("workspace", "", "workspace directory (default: current directory)")

	return cmd
}

func newPopulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "populate [workspace]",
		Short: "Download every configured remote folder",
		Long: `Download the remote folders of the workspace and of each sub-site. All
downloads run concurrently; a failed download is reported without stopping
the others.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPopulate,
	}

	return cmd
}

func newPublishWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish-workspace [workspace]",
		Short: "Publish every file matched by the workspace publish globs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPublishWorkspace,
	}

	cmd.Flags().StringP("message", "m", "", "check-in comment")

	return cmd
}

func newResetCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-credentials [workspace]",
		Short: "Forget and re-enter the workspace credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runResetCredentials,
	}

	cmd.Flags().Bool("list", false, "list the sites with stored credentials instead")

	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload [workspace]",
		Short: "Validate and reload the workspace configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReload,
	}
}

// workspaceArg returns the workspace directory named by args, or the
// current directory.
func workspaceArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return absPath(args[0])
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determining current directory: %w", err)
	}

	return wd, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := workspaceArg(args[1:])
	if err != nil {
		return err
	}

	rawAuth, err := cmd.Flags().GetString("auth")
	if err != nil {
		return err
	}

	authType := config.AuthType(rawAuth)
	if authType != config.AuthDigest && authType != config.AuthAddIn {
		return fmt.Errorf("--auth must be %q or %q, got %q", config.AuthDigest, config.AuthAddIn, rawAuth)
	}

	path, err := config.CreateWorkspace(root, args[0], authType, cc.Logger)
	if err != nil {
		return err
	}

	if _, err := config.Load(path, cc.Logger); err != nil {
		return fmt.Errorf("new workspace configuration is invalid: %w", err)
	}

	cc.Notifier.Status("Created " + path)

	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	site, err := cmd.Flags().GetString("site")
	if err != nil {
		return err
	}

	ws, err := cmd.Flags().GetString("workspace")
	if err != nil {
		return err
	}

	root, err := workspaceArg([]string{ws})
	if err != nil {
		return err
	}

	orch := cc.Session.Orchestrator

	if site != "" {
		got, err := orch.DownloadMany(cmd.Context(), root, site, args[0])
		if err != nil {
			return err
		}

		return printTransfers(cc, got)
	}

	got, err := orch.RetrieveFolder(cmd.Context(), root, args[0])
	if err != nil {
		return err
	}

	return printTransfers(cc, got)
}

func runPopulate(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := workspaceArg(args)
	if err != nil {
		return err
	}

	report, err := cc.Session.Orchestrator.PopulateWorkspace(cmd.Context(), root)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cc.Stdout, populateRows(report))
	}

	if !flagQuiet {
		printPopulateReport(cc.Stdout, report)
	}

	return nil
}

func runPublishWorkspace(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := workspaceArg(args)
	if err != nil {
		return err
	}

	message, err := cmd.Flags().GetString("message")
	if err != nil {
		return err
	}

	got, err := cc.Session.Orchestrator.PublishWorkspace(cmd.Context(), root, message)
	if err != nil {
		return err
	}

	return printTransfers(cc, got)
}

func runResetCredentials(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}

	if list {
		sites, err := cc.Session.Store.Sites(cmd.Context())
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cc.Stdout, sites)
		}

		for _, s := range sites {
			fmt.Fprintln(cc.Stdout, s)
		}

		return nil
	}

	root, err := workspaceArg(args)
	if err != nil {
		return err
	}

	return cc.Session.Orchestrator.ResetCredentials(cmd.Context(), root)
}

func runReload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := workspaceArg(args)
	if err != nil {
		return err
	}

	site, err := cc.Session.Orchestrator.ReloadConfiguration(cmd.Context(), root)
	if err != nil {
		return err
	}

	err = signalWatcher(watchPIDPath(site.WorkspaceRoot))

	switch {
	case err == nil:
		cc.Notifier.Info("Asked the running watcher to reload.")
	case errors.Is(err, errNoWatcher):
		cc.Logger.Debug("no watcher to signal", slog.String("error", err.Error()))
	default:
		cc.Notifier.Warn("Could not signal the running watcher: " + err.Error())
	}

	return nil
}
