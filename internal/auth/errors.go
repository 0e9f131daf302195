package auth

import (
	"errors"
	"fmt"
)

// ErrNoCredentials is returned by Resume when the record was reset between
// acquisition and use.
var ErrNoCredentials = errors.New("auth: no credentials available")

// CredentialsMissingError reports that a required field was left empty and
// acquisition was aborted.
type CredentialsMissingError struct {
	Field Field
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("auth: no %s provided", e.Field)
}

// AuthenticationFailedError reports that the server rejected the collected
// credentials during validation.
type AuthenticationFailedError struct {
	SiteURL string
	Err     error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("auth: authentication failed for %s: %v", e.SiteURL, e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error {
	return e.Err
}
