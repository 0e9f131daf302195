// Package spclient talks to the SharePoint REST API: request digests, file
// locks, metadata queries and the bulk download and upload walks used by the
// synchronization orchestrator. Authentication is applied by the
// *http.Client the caller supplies, see NewHTTPClient.
package spclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// acceptJSON asks SharePoint for plain JSON without OData metadata.
const acceptJSON = "application/json;odata=nometadata"

// Header names used on every request.
const (
	headerClientRequestID = "client-request-id"
	headerCorrelation     = "SPRequestGuid"
	headerRequestDigest   = "X-RequestDigest"
	headerHTTPMethod      = "X-HTTP-Method"
)

// Client is an HTTP client for the SharePoint REST API. It handles request
// construction, retry of throttled requests with exponential backoff, and
// error classification.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a REST client. httpClient carries authentication.
func NewClient(httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes a request against an absolute URL. body may be nil. Throttled
// responses are retried, honoring Retry-After; network errors are retried
// for GET only because a mutating call may already have been applied. The
// caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*http.Response, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, rawURL, header, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("spclient: request canceled: %w", ctx.Err())
			}

			if method == http.MethodGet && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", rawURL),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("spclient: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("spclient: %s %s: %w", method, rawURL, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", rawURL),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", rawURL),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("spclient: request canceled: %w", err)
			}

			attempt++

			continue
		}

		remoteErr := &RemoteError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(headerCorrelation),
			Message:    errorMessage(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempts", attempt+1),
		)

		return nil, remoteErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", acceptJSON)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(headerClientRequestID, uuid.NewString())

	return c.httpClient.Do(req)
}

// doJSON executes a request and decodes the JSON response into out, which
// may be nil to discard the body.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, header http.Header, body []byte, out any) error {
	resp, err := c.Do(ctx, method, rawURL, header, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)

		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spclient: decoding response from %s: %w", rawURL, err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response,
// preferring the server's Retry-After.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
