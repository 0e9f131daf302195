package spclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/afero"
)

// Gateway performs file operations against SharePoint sites. Every method
// takes the URL of the site (or sub-site) that owns the target, and every
// mutating call fetches a fresh request digest for that site first.
type Gateway struct {
	client *Client
	fs     afero.Fs
	logger *slog.Logger
}

// NewGateway creates a Gateway. fs is the local filesystem downloads write
// to and uploads read from.
func NewGateway(client *Client, fs afero.Fs, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{client: client, fs: fs, logger: logger}
}

// odataString quotes s for use inside an OData string literal in a URL
// path: every path segment is escaped and single quotes are doubled. The
// quotes stay literal, like the ones delimiting the literal.
func odataString(s string) string {
	segs := strings.Split(s, "/")
	for i, seg := range segs {
		segs[i] = strings.ReplaceAll(url.PathEscape(seg), "%27", "''")
	}

	return strings.Join(segs, "/")
}

func apiURL(siteURL, path string) string {
	return strings.TrimRight(siteURL, "/") + "/_api/" + path
}

func fileURL(siteURL, serverRelative, suffix string) string {
	return apiURL(siteURL, "web/GetFileByServerRelativeUrl('"+odataString(serverRelative)+"')"+suffix)
}

func folderURL(siteURL, serverRelative, suffix string) string {
	return apiURL(siteURL, "web/GetFolderByServerRelativeUrl('"+odataString(serverRelative)+"')"+suffix)
}

// RequestDigest obtains a fresh form digest for siteURL.
func (c *Client) RequestDigest(ctx context.Context, siteURL string) (string, error) {
	var info contextInfo
	if err := c.doJSON(ctx, http.MethodPost, apiURL(siteURL, "contextinfo"), nil, nil, &info); err != nil {
		return "", fmt.Errorf("spclient: requesting digest for %s: %w", siteURL, err)
	}

	if info.FormDigestValue == "" {
		return "", fmt.Errorf("spclient: empty request digest from %s", siteURL)
	}

	return info.FormDigestValue, nil
}

// post issues a mutating POST protected by a freshly obtained digest.
func (g *Gateway) post(ctx context.Context, siteURL, rawURL string, extra http.Header, body []byte, out any) error {
	digest, err := g.client.RequestDigest(ctx, siteURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	for k, vs := range extra {
		header[k] = vs
	}

	header.Set(headerRequestDigest, digest)

	return g.client.doJSON(ctx, http.MethodPost, rawURL, header, body, out)
}

// CheckOut places an exclusive check-out lock on a file.
func (g *Gateway) CheckOut(ctx context.Context, siteURL, serverRelative string) error {
	g.logger.Info("checking out file", slog.String("url", serverRelative))

	if err := g.post(ctx, siteURL, fileURL(siteURL, serverRelative, "/CheckOut()"), nil, nil, nil); err != nil {
		return fmt.Errorf("spclient: checking out %s: %w", serverRelative, err)
	}

	return nil
}

// UndoCheckOut releases a check-out lock and discards pending changes.
func (g *Gateway) UndoCheckOut(ctx context.Context, siteURL, serverRelative string) error {
	g.logger.Info("discarding check out", slog.String("url", serverRelative))

	if err := g.post(ctx, siteURL, fileURL(siteURL, serverRelative, "/UndoCheckOut()"), nil, nil, nil); err != nil {
		return fmt.Errorf("spclient: discarding check out of %s: %w", serverRelative, err)
	}

	return nil
}

// CheckIn checks a file in with a comment at the given version level.
func (g *Gateway) CheckIn(ctx context.Context, siteURL, serverRelative, comment string, kind CheckInType) error {
	suffix := fmt.Sprintf("/CheckIn(comment='%s',checkintype=%d)", odataString(comment), int(kind))

	if err := g.post(ctx, siteURL, fileURL(siteURL, serverRelative, suffix), nil, nil, nil); err != nil {
		return fmt.Errorf("spclient: checking in %s: %w", serverRelative, err)
	}

	return nil
}

// Delete removes a file from the server.
func (g *Gateway) Delete(ctx context.Context, siteURL, serverRelative string) error {
	g.logger.Info("deleting remote file", slog.String("url", serverRelative))

	header := http.Header{}
	header.Set(headerHTTPMethod, "DELETE")
	header.Set("If-Match", "*")

	if err := g.post(ctx, siteURL, fileURL(siteURL, serverRelative, ""), header, nil, nil); err != nil {
		return fmt.Errorf("spclient: deleting %s: %w", serverRelative, err)
	}

	return nil
}

// FileInfo reads a file's metadata.
func (g *Gateway) FileInfo(ctx context.Context, siteURL, serverRelative string) (*FileInfo, error) {
	var info FileInfo

	u := fileURL(siteURL, serverRelative, "?$select=Name,ServerRelativeUrl,CheckOutType,TimeLastModified,UIVersionLabel")
	if err := g.client.doJSON(ctx, http.MethodGet, u, nil, nil, &info); err != nil {
		return nil, fmt.Errorf("spclient: reading metadata of %s: %w", serverRelative, err)
	}

	return &info, nil
}

// CheckedOutBy returns the display name of the user holding the file's
// check-out lock.
func (g *Gateway) CheckedOutBy(ctx context.Context, siteURL, serverRelative string) (string, error) {
	var user userInfo

	u := fileURL(siteURL, serverRelative, "/CheckedOutByUser?$select=Title,Email")
	if err := g.client.doJSON(ctx, http.MethodGet, u, nil, nil, &user); err != nil {
		return "", fmt.Errorf("spclient: reading check-out owner of %s: %w", serverRelative, err)
	}

	return user.Title, nil
}
