package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a workspace configuration and returns every problem found,
// joined, so a user can fix the file in one pass.
func Validate(site *Site) error {
	var errs []error

	parent, err := validateSiteURL("site_url", site.SiteURL)
	if err != nil {
		errs = append(errs, err)
	}

	switch site.AuthType {
	case AuthDigest, AuthAddIn:
	case "":
		errs = append(errs, errors.New("authentication_type: must be set to \"Digest\" or \"AddIn\""))
	default:
		errs = append(errs, fmt.Errorf("authentication_type: unsupported value %q (want \"Digest\" or \"AddIn\")",
			site.AuthType))
	}

	errs = append(errs, validateFolders("remote_folders", site.RemoteFolders)...)
	errs = append(errs, validateSubSites(site.SubSites, parent)...)
	errs = append(errs, validatePublish(site.Publish)...)

	return errors.Join(errs...)
}

func validateSiteURL(field, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s: must not be empty", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%s: must be an http or https URL, got %q", field, raw)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%s: missing host in %q", field, raw)
	}

	return u, nil
}

func validateFolders(field string, folders []string) []error {
	var errs []error

	for i, f := range folders {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("%s[%d]: must not be empty", field, i))
		}
	}

	return errs
}

// validateSubSites requires every sub-site to live on the parent's host
// below the parent's path.
func validateSubSites(subs []SubSite, parent *url.URL) []error {
	var errs []error

	for i := range subs {
		field := fmt.Sprintf("sub_sites[%d].site_url", i)

		u, err := validateSiteURL(field, subs[i].SiteURL)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if parent != nil && !isBelow(u, parent) {
			errs = append(errs, fmt.Errorf("%s: %q is not below site_url %q", field, subs[i].SiteURL, parent.String()))
		}

		errs = append(errs, validateFolders(fmt.Sprintf("sub_sites[%d].remote_folders", i), subs[i].RemoteFolders)...)
	}

	return errs
}

func isBelow(child, parent *url.URL) bool {
	if !strings.EqualFold(child.Host, parent.Host) {
		return false
	}

	parentPath := strings.ToLower(strings.TrimRight(parent.Path, "/")) + "/"
	childPath := strings.ToLower(strings.TrimRight(child.Path, "/")) + "/"

	return strings.HasPrefix(childPath, parentPath) && childPath != parentPath
}

func validatePublish(p *PublishOptions) []error {
	if p == nil {
		return nil
	}

	var errs []error

	if len(p.GlobPatterns) == 0 {
		errs = append(errs, errors.New("publish.glob_patterns: must list at least one pattern"))
	}

	errs = append(errs, validateFolders("publish.glob_patterns", p.GlobPatterns)...)

	if !strings.HasPrefix(p.DestinationFolder, "/") {
		errs = append(errs, fmt.Errorf("publish.destination_folder: %q must start with /", p.DestinationFolder))
	}

	return errs
}
