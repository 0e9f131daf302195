package spclient

import (
	"strings"
	"time"
)

// CheckOutType is SharePoint's SP.CheckOutType. Values come from the server
// and are passed through unchanged.
type CheckOutType int

// Known check-out types.
const (
	CheckOutOnline  CheckOutType = 0
	CheckOutOffline CheckOutType = 1
	CheckOutNone    CheckOutType = 2
)

// IsCheckedOut reports whether the file is checked out online or offline.
func (t CheckOutType) IsCheckedOut() bool {
	return t == CheckOutOnline || t == CheckOutOffline
}

func (t CheckOutType) String() string {
	switch t {
	case CheckOutOnline:
		return "CheckedOutOnline"
	case CheckOutOffline:
		return "CheckedOutOffline"
	case CheckOutNone:
		return "NotCheckedOut"
	default:
		return "Unknown"
	}
}

// CheckInType selects the version level created by a check-in.
type CheckInType int

// Check-in types understood by SP.File.CheckIn.
const (
	CheckInMinor     CheckInType = 0
	CheckInMajor     CheckInType = 1
	CheckInOverwrite CheckInType = 2
)

// FileInfo is a snapshot of one remote file's metadata. CheckedOutBy is set
// only when the file is checked out.
type FileInfo struct {
	Name              string       `json:"Name"`
	ServerRelativeURL string       `json:"ServerRelativeUrl"`
	CheckOutType      CheckOutType `json:"CheckOutType"`
	TimeLastModified  time.Time    `json:"TimeLastModified"`
	UIVersionLabel    string       `json:"UIVersionLabel,omitempty"`
	CheckedOutBy      string       `json:"CheckedOutBy,omitempty"`
}

// Transferred describes one file moved by a download or upload.
type Transferred struct {
	ServerRelativeURL string `json:"server_relative_url"`
	LocalPath         string `json:"local_path"`
	Bytes             int64  `json:"bytes"`
}

// fileVersion is one entry of SP.File.Versions.
type fileVersion struct {
	ID           int    `json:"ID"`
	VersionLabel string `json:"VersionLabel"`
}

// isMajor reports whether a version label such as "3.0" is a published
// version.
func isMajor(label string) bool {
	return strings.HasSuffix(label, ".0")
}

type versionsResponse struct {
	Value []fileVersion `json:"value"`
}

// folderListing is the response of GetFolderByServerRelativeUrl with Files
// and Folders expanded.
type folderListing struct {
	Name              string       `json:"Name"`
	ServerRelativeURL string       `json:"ServerRelativeUrl"`
	Exists            bool         `json:"Exists"`
	Files             []FileInfo   `json:"Files"`
	Folders           []folderItem `json:"Folders"`
}

type folderItem struct {
	Name              string `json:"Name"`
	ServerRelativeURL string `json:"ServerRelativeUrl"`
}

type contextInfo struct {
	FormDigestValue       string `json:"FormDigestValue"`
	FormDigestTimeoutSecs int    `json:"FormDigestTimeoutSeconds"`
	WebFullURL            string `json:"WebFullUrl"`
}

type userInfo struct {
	Title string `json:"Title"`
	Email string `json:"Email"`
}
