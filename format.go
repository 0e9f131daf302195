package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tonimelisma/spsync/internal/siteops"
	"github.com/tonimelisma/spsync/internal/spclient"
)

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// fileInfoJSON is the --json form of a file's server metadata.
type fileInfoJSON struct {
	Name             string `json:"name"`
	ServerRelative   string `json:"server_relative_url"`
	CheckOutType     string `json:"check_out_type"`
	CheckedOut       bool   `json:"checked_out"`
	CheckedOutBy     string `json:"checked_out_by,omitempty"`
	Version          string `json:"version,omitempty"`
	TimeLastModified string `json:"time_last_modified,omitempty"`
}

func newFileInfoJSON(info *spclient.FileInfo) fileInfoJSON {
	out := fileInfoJSON{
		Name:           info.Name,
		ServerRelative: info.ServerRelativeURL,
		CheckOutType:   info.CheckOutType.String(),
		CheckedOut:     info.CheckOutType.IsCheckedOut(),
		CheckedOutBy:   info.CheckedOutBy,
		Version:        info.UIVersionLabel,
	}

	if !info.TimeLastModified.IsZero() {
		out.TimeLastModified = info.TimeLastModified.UTC().Format(time.RFC3339)
	}

	return out
}

func printFileInfo(w io.Writer, info *spclient.FileInfo) {
	checkedOutBy := info.CheckedOutBy
	if checkedOutBy == "" {
		checkedOutBy = "-"
	}

	version := info.UIVersionLabel
	if version == "" {
		version = "-"
	}

	rows := [][]string{
		{"Name", info.Name},
		{"URL", info.ServerRelativeURL},
		{"Version", version},
		{"Modified", formatTime(info.TimeLastModified, time.Now())},
		{"Check-out", info.CheckOutType.String()},
		{"Checked out by", checkedOutBy},
	}

	printTable(w, []string{"FIELD", "VALUE"}, rows)
}

// printTransfers lists transferred files with --json; otherwise the
// notifier's status line already summarized them.
func printTransfers(cc *CLIContext, got []spclient.Transferred) error {
	if !flagJSON {
		return nil
	}

	if got == nil {
		got = []spclient.Transferred{}
	}

	return printJSON(cc.Stdout, got)
}

// populateEntryJSON is the --json form of one populate download.
type populateEntryJSON struct {
	SiteURL string `json:"site_url"`
	Pattern string `json:"pattern"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
	Error   string `json:"error,omitempty"`
}

func populateRows(report *siteops.PopulateReport) []populateEntryJSON {
	out := make([]populateEntryJSON, 0, len(report.Entries))

	for i := range report.Entries {
		e := &report.Entries[i]
		row := populateEntryJSON{SiteURL: e.SiteURL, Pattern: e.Pattern, Files: len(e.Transferred)}

		for _, t := range e.Transferred {
			row.Bytes += t.Bytes
		}

		if e.Err != nil {
			row.Error = e.Err.Error()
		}

		out = append(out, row)
	}

	return out
}

func printPopulateReport(w io.Writer, report *siteops.PopulateReport) {
	rows := make([][]string, 0, len(report.Entries))

	for _, r := range populateRows(report) {
		result := fmt.Sprintf("%d files, %s", r.Files, formatSize(r.Bytes))
		if r.Error != "" {
			result = "failed: " + r.Error
		}

		rows = append(rows, []string{r.SiteURL, r.Pattern, result})
	}

	printTable(w, []string{"SITE", "PATTERN", "RESULT"}, rows)
}
