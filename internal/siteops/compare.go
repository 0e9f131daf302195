package siteops

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"

	"github.com/tonimelisma/spsync/internal/pull"
)

// compareWithServer downloads the latest published version of a checked
// out file into a fresh temporary directory and compares it with the local
// copy. Problems are reported as warnings only.
func (o *Orchestrator) compareWithServer(ctx context.Context, inv *invocation, localPath string) {
	local, err := afero.ReadFile(o.fs, localPath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}

	if err != nil {
		o.cfg.Notifier.Warn("Could not read the local copy for comparison: " + err.Error())
		return
	}

	tmp := filepath.Join(o.compareDir(), uuid.NewString())
	defer func() {
		if err := o.fs.RemoveAll(tmp); err != nil {
			o.logger.Debug("removing comparison copy failed", slog.String("path", tmp), slog.String("error", err.Error()))
		}
	}()

	req, err := pull.Single(localPath, tmp, inv.site)
	if err != nil {
		o.cfg.Notifier.Warn("Could not compare with the server version: " + err.Error())
		return
	}

	got, err := inv.gw.Download(ctx, req)
	if err != nil || len(got) == 0 {
		if err != nil {
			o.cfg.Notifier.Warn("Could not compare with the server version: " + err.Error())
		}

		return
	}

	server, err := afero.ReadFile(o.fs, got[0].LocalPath)
	if err != nil {
		o.cfg.Notifier.Warn("Could not read the server version: " + err.Error())
		return
	}

	if bytes.Equal(server, local) {
		return
	}

	o.cfg.Notifier.Warn("The server version of " + filepath.Base(localPath) + " appears to be different from your local version.")

	if o.cfg.Reviewer == nil {
		return
	}

	cmp := Comparison{
		LocalPath:  localPath,
		ServerPath: got[0].LocalPath,
		Diff:       lineDiff(string(server), string(local)),
	}

	if err := o.cfg.Reviewer.Review(ctx, cmp); err != nil {
		o.logger.Warn("review failed", slog.String("path", localPath), slog.String("error", err.Error()))
	}
}

// lineDiff renders the changed lines between two texts, old lines prefixed
// with "-" and new lines with "+".
func lineDiff(oldText, newText string) string {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder

	for _, d := range diffs {
		var prefix string

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			sb.WriteString(prefix)
			sb.WriteString(line)

			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}

	return sb.String()
}
