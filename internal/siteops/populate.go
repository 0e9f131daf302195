package siteops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/spclient"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// PopulateEntry is the outcome of one scheduled download. Err and
// Transferred are mutually exclusive.
type PopulateEntry struct {
	SiteURL     string
	Pattern     string
	Transferred []spclient.Transferred
	Err         error
}

// PopulateReport gathers every scheduled download of a workspace
// population, in scheduling order.
type PopulateReport struct {
	Entries []PopulateEntry
}

// Succeeded returns the number of downloads that completed.
func (r *PopulateReport) Succeeded() int {
	n := 0

	for i := range r.Entries {
		if r.Entries[i].Err == nil {
			n++
		}
	}

	return n
}

// Failed returns the number of downloads that failed.
func (r *PopulateReport) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Files returns the total number of files written.
func (r *PopulateReport) Files() int {
	n := 0

	for i := range r.Entries {
		n += len(r.Entries[i].Transferred)
	}

	return n
}

// populateJob is one download of a workspace population.
type populateJob struct {
	siteURL *url.URL
	pattern string
	// file marks a literal file entry of the top-level site, downloaded at
	// its latest published version.
	file bool
}

// run executes one job with panic recovery, so a failure in one download
// never affects its siblings.
func (j populateJob) run(ctx context.Context, fn func(context.Context) ([]spclient.Transferred, error)) (entry PopulateEntry) {
	entry = PopulateEntry{SiteURL: j.siteURL.String(), Pattern: j.pattern}

	defer func() {
		if r := recover(); r != nil {
			entry.Transferred = nil
			entry.Err = fmt.Errorf("panic downloading %s from %s: %v", j.pattern, j.siteURL, r)
		}
	}()

	got, err := fn(ctx)
	if err != nil {
		entry.Err = err
		return entry
	}

	entry.Transferred = got

	return entry
}

// PopulateWorkspace downloads every remote folder of the workspace rooted
// at root: the top-level site's remote folders and those of each sub-site.
// All downloads run concurrently and are gathered, never short-circuited;
// the operation succeeds even when some of them fail, and the report tells
// which.
func (o *Orchestrator) PopulateWorkspace(ctx context.Context, root string) (*PopulateReport, error) {
	report := &PopulateReport{}

	err := o.run(ctx, "populate workspace", target{path: root},
		func(ctx context.Context, inv *invocation) (string, error) {
			jobs, err := populateJobs(inv.site)
			if err != nil {
				return "", err
			}

			o.cfg.Notifier.Info("Starting file synchronization...")

			report.Entries = make([]PopulateEntry, len(jobs))

			var g errgroup.Group

			for i, job := range jobs {
				g.Go(func() error {
					report.Entries[i] = job.run(ctx, func(ctx context.Context) ([]spclient.Transferred, error) {
						return o.populateOne(ctx, inv, job)
					})

					return nil
				})
			}

			_ = g.Wait()

			unauthorized := false

			for i := range report.Entries {
				e := &report.Entries[i]
				if e.Err != nil {
					o.cfg.Notifier.Warn(fmt.Sprintf("Downloading %s from %s failed: %v", e.Pattern, e.SiteURL, e.Err))
					unauthorized = unauthorized || errors.Is(e.Err, spclient.ErrUnauthorized)
				}
			}

			// Sub-sites share the top-level credentials, so one rejection
			// invalidates them for the whole workspace.
			if unauthorized {
				o.rejected(ctx, inv.site)
			}

			o.logger.Info("populate complete",
				slog.Int("downloads", len(report.Entries)),
				slog.Int("failed", report.Failed()),
				slog.Int("files", report.Files()),
			)

			if report.Failed() > 0 {
				return fmt.Sprintf("File synchronization complete: %d of %d downloads failed.", report.Failed(), len(report.Entries)), nil
			}

			return "File synchronization complete.", nil
		})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (o *Orchestrator) populateOne(ctx context.Context, inv *invocation, job populateJob) ([]spclient.Transferred, error) {
	if !job.file {
		return o.downloadPattern(ctx, inv, job.siteURL, job.pattern)
	}

	localPath, err := sppath.LocalPath(sppath.WebPath(job.siteURL)+job.pattern, inv.site)
	if err != nil {
		return nil, err
	}

	req, err := pull.Single(filepath.Clean(localPath), inv.site.SourceRoot, inv.site)
	if err != nil {
		return nil, err
	}

	return o.download(ctx, inv, req)
}

// populateJobs lists the downloads of a workspace population in order: the
// top-level site's folders, then each sub-site's folders.
func populateJobs(site *config.Site) ([]populateJob, error) {
	if len(site.RemoteFolders) == 0 {
		return nil, ErrNoRemoteFolders
	}

	top := site.URL()
	jobs := make([]populateJob, 0, len(site.RemoteFolders))

	for _, p := range site.RemoteFolders {
		p = decodePattern(p)
		jobs = append(jobs, populateJob{siteURL: top, pattern: p, file: sppath.IsFilePath(p)})
	}

	for _, sub := range site.SubSites {
		u, err := url.Parse(sub.SiteURL)
		if err != nil {
			return nil, fmt.Errorf("siteops: parsing sub-site URL %s: %w", sub.SiteURL, err)
		}

		for _, p := range sub.RemoteFolders {
			jobs = append(jobs, populateJob{siteURL: u, pattern: decodePattern(p)})
		}
	}

	return jobs, nil
}

// decodePattern undoes percent-encoding in a configured remote folder.
// Patterns that are not valid encodings are used as written.
func decodePattern(p string) string {
	if d, err := url.PathUnescape(p); err == nil {
		return sppath.NormalizeSlashes(d)
	}

	return sppath.NormalizeSlashes(p)
}
