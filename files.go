package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spsync/internal/siteops"
	"github.com/tonimelisma/spsync/internal/spclient"
)

func newCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <file>",
		Short: "Check a file out on the server",
		Long: `Check out a file on the server so nobody else can change it.

After the check-out the latest published server version is compared with
the local copy and any difference is reported.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheckout,
	}
}

func newDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <file>",
		Short: "Discard a check-out and its server-side changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscard,
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show server metadata and check-out state of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>",
		Short: "Delete a file on the server and locally",
		Long: `Delete a file from the server and then from the local workspace.

The local copy is only removed once the server delete succeeded. Asks for
confirmation unless --yes is given; without a terminal the delete is
cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: runDelete,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <file-or-folder>",
		Short: "Replace local files with their server versions",
		Long: `Download the latest published server version of a local file, or
refresh every file below a local folder.

With --to, a single file is downloaded into another directory instead,
keeping its position relative to the source root.`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}

	cmd.Flags().String("to", "", "download a single file below this directory")

	return cmd
}

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <file-or-folder>",
		Short: "Upload and check in a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runPublish,
	}

	cmd.Flags().StringP("message", "m", "", "check-in comment")
	cmd.Flags().String("scope", string(siteops.ScopeMajor), "version to publish: major or minor")

	return cmd
}

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <file-or-folder>",
		Short: "Upload a file or folder without checking it in",
		Args:  cobra.ExactArgs(1),
		RunE:  runSave,
	}
}

func runCheckout(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	return cc.Session.Orchestrator.CheckOut(cmd.Context(), path)
}

func runDiscard(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	return cc.Session.Orchestrator.DiscardCheckOut(cmd.Context(), path)
}

func runDelete(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	return cc.Session.Orchestrator.DeleteFile(cmd.Context(), path)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	info, err := cc.Session.Orchestrator.FileInformation(cmd.Context(), path)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cc.Stdout, newFileInfoJSON(info))
	}

	printFileInfo(cc.Stdout, info)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	to, err := cmd.Flags().GetString("to")
	if err != nil {
		return err
	}

	var got []spclient.Transferred

	if to != "" {
		dest, absErr := absPath(to)
		if absErr != nil {
			return absErr
		}

		got, err = cc.Session.Orchestrator.DownloadSingle(cmd.Context(), path, dest)
	} else {
		got, err = cc.Session.Orchestrator.GetServerVersion(cmd.Context(), path)
	}

	if err != nil {
		return err
	}

	return printTransfers(cc, got)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	message, err := cmd.Flags().GetString("message")
	if err != nil {
		return err
	}

	rawScope, err := cmd.Flags().GetString("scope")
	if err != nil {
		return err
	}

	scope, err := siteops.ParseScope(rawScope)
	if err != nil {
		return err
	}

	if scope == siteops.ScopeNone {
		return fmt.Errorf("--scope must be %q or %q; use 'spsync save' to upload without check-in",
			siteops.ScopeMajor, siteops.ScopeMinor)
	}

	got, err := cc.Session.Orchestrator.Publish(cmd.Context(), siteops.PublishingAction{
		Path:    path,
		Scope:   scope,
		Message: message,
	})
	if err != nil {
		return err
	}

	return printTransfers(cc, got)
}

func runSave(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	got, err := cc.Session.Orchestrator.Save(cmd.Context(), path)
	if err != nil {
		return err
	}

	return printTransfers(cc, got)
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}

	return abs, nil
}
