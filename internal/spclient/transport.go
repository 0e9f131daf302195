package spclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/Azure/go-ntlmssp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/config"
)

// DefaultACSBaseURL is the Azure Access Control Service endpoint that issues
// app-only tokens for SharePoint add-ins.
const DefaultACSBaseURL = "https://accounts.accesscontrol.windows.net"

// sharePointPrincipal is the well-known application principal of SharePoint
// Online, used to build the token resource.
const sharePointPrincipal = "00000003-0000-0ff1-ce00-000000000000"

// ErrRealmNotFound is returned when the realm of an add-in site cannot be
// discovered from the server's authentication challenge.
var ErrRealmNotFound = errors.New("spclient: realm not found in authentication challenge")

// TransportOptions tunes the HTTP clients built by NewHTTPClient.
type TransportOptions struct {
	// Base is the underlying round tripper. Nil means a clone of
	// http.DefaultTransport.
	Base http.RoundTripper
	// Timeout bounds every request. Zero means no timeout.
	Timeout time.Duration
	// ACSBaseURL overrides DefaultACSBaseURL.
	ACSBaseURL string
}

func (o TransportOptions) base() http.RoundTripper {
	if o.Base != nil {
		return o.Base
	}

	return http.DefaultTransport.(*http.Transport).Clone()
}

// NewHTTPClient returns an *http.Client that authenticates every request to
// siteURL with rec. Digest records negotiate NTLM and fall back to basic
// authentication; AddIn records use client-credential tokens from ACS,
// discovering the realm from the site when the record has none.
func NewHTTPClient(ctx context.Context, rec auth.Record, siteURL string, opts TransportOptions) (*http.Client, error) {
	base := opts.base()

	switch rec.Scheme {
	case config.AuthDigest:
		return &http.Client{
			Timeout: opts.Timeout,
			Transport: &basicAuthTransport{
				username: rec.Username,
				password: rec.Password,
				next:     ntlmssp.Negotiator{RoundTripper: base},
			},
		}, nil

	case config.AuthAddIn:
		plain := &http.Client{Timeout: opts.Timeout, Transport: base}

		realm := rec.Realm
		if realm == "" {
			discovered, err := DiscoverRealm(ctx, plain, siteURL)
			if err != nil {
				return nil, err
			}

			realm = discovered
		}

		cfg, err := addInConfig(rec, realm, siteURL, opts.ACSBaseURL)
		if err != nil {
			return nil, err
		}

		// The token endpoint is called with the plain client; the context
		// only carries it, it does not bound later refreshes.
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, plain)

		return &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource(tokenCtx)),
				Base:   base,
			},
		}, nil

	default:
		return nil, fmt.Errorf("spclient: unsupported authentication type %q", rec.Scheme)
	}
}

// addInConfig builds the ACS client-credentials configuration.
func addInConfig(rec auth.Record, realm, siteURL, acsBase string) (*clientcredentials.Config, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("spclient: parsing site URL %s: %w", siteURL, err)
	}

	if acsBase == "" {
		acsBase = DefaultACSBaseURL
	}

	return &clientcredentials.Config{
		ClientID:     rec.ClientID + "@" + realm,
		ClientSecret: rec.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/tokens/OAuth/2", acsBase, url.PathEscape(realm)),
		EndpointParams: url.Values{
			"resource": {fmt.Sprintf("%s/%s@%s", sharePointPrincipal, u.Host, realm)},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}, nil
}

var realmPattern = regexp.MustCompile(`realm="([^"]+)"`)

// DiscoverRealm asks the site for a bearer challenge and returns the realm
// it names.
func DiscoverRealm(ctx context.Context, httpClient *http.Client, siteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL+"/_vti_bin/client.svc", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("spclient: creating realm request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer ")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("spclient: discovering realm for %s: %w", siteURL, err)
	}
	resp.Body.Close()

	for _, challenge := range resp.Header.Values("WWW-Authenticate") {
		if m := realmPattern.FindStringSubmatch(challenge); m != nil {
			return m[1], nil
		}
	}

	return "", fmt.Errorf("%w: %s answered HTTP %d", ErrRealmNotFound, siteURL, resp.StatusCode)
}

// basicAuthTransport attaches username and password to each request. The
// NTLM negotiator below it turns them into an NTLM handshake when the server
// asks for one.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)

	return t.next.RoundTrip(clone)
}
