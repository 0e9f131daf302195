package spclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, spclient.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("spclient: bad request")
	ErrUnauthorized = errors.New("spclient: unauthorized")
	ErrForbidden    = errors.New("spclient: forbidden")
	ErrNotFound     = errors.New("spclient: not found")
	ErrConflict     = errors.New("spclient: conflict")
	ErrLocked       = errors.New("spclient: resource locked")
	ErrThrottled    = errors.New("spclient: throttled")
	ErrServerError  = errors.New("spclient: server error")
)

// RemoteError wraps a sentinel error with the HTTP status code, the
// SharePoint correlation id and the server's error message.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("spclient: HTTP %d (correlation %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("spclient: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// statusBandwidthExceeded is SharePoint's 509 throttling response.
const statusBandwidthExceeded = 509

// isRetryable reports whether a response status indicates throttling or a
// transient outage.
func isRetryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, statusBandwidthExceeded:
		return true
	default:
		return false
	}
}

// odataError is the error envelope SharePoint returns for REST failures, in
// both the nometadata and verbose shapes.
type odataError struct {
	NoMetadata *odataErrorBody `json:"odata.error"`
	Verbose    *odataErrorBody `json:"error"`
}

type odataErrorBody struct {
	Code    string `json:"code"`
	Message struct {
		Value string `json:"value"`
	} `json:"message"`
}

// errorMessage extracts a readable message from an error response body.
func errorMessage(body []byte) string {
	var env odataError
	if err := json.Unmarshal(body, &env); err == nil {
		for _, b := range []*odataErrorBody{env.NoMetadata, env.Verbose} {
			if b != nil && b.Message.Value != "" {
				return b.Message.Value
			}
		}
	}

	if len(body) == 0 {
		return "(empty response body)"
	}

	return string(body)
}
