package auth

import (
	"github.com/tonimelisma/spsync/internal/config"
)

// Field names one credential value collected from the user.
type Field string

// Credential fields in prompt order.
const (
	FieldUsername     Field = "username"
	FieldPassword     Field = "password"
	FieldClientID     Field = "clientId"
	FieldClientSecret Field = "clientSecret"
	FieldRealm        Field = "realm"
)

// FieldSpec describes one prompt. Default carries the value entered earlier
// for the same site, if any.
type FieldSpec struct {
	Field       Field
	Prompt      string
	Placeholder string
	Default     string
	Secret      bool
	Optional    bool
}

var fieldSpecs = map[config.AuthType][]FieldSpec{
	config.AuthDigest: {
		{
			Field:       FieldUsername,
			Prompt:      "Please enter your SharePoint username",
			Placeholder: `user@domain.com [or domain\user]`,
		},
		{
			Field:       FieldPassword,
			Prompt:      "Please enter your SharePoint password",
			Placeholder: "password",
			Secret:      true,
		},
	},
	config.AuthAddIn: {
		{
			Field:       FieldClientID,
			Prompt:      "Please enter the add-in client id",
			Placeholder: "<client id>",
		},
		{
			Field:       FieldClientSecret,
			Prompt:      "Please enter the add-in client secret",
			Placeholder: "<client secret>",
			Secret:      true,
		},
		{
			Field:       FieldRealm,
			Prompt:      "(Optional) Please enter the realm",
			Placeholder: "<realm>",
			Optional:    true,
		},
	},
}

// Fields returns the prompts for an authentication type in collection
// order. Unknown types fall back to Digest.
func Fields(scheme config.AuthType) []FieldSpec {
	specs, ok := fieldSpecs[scheme]
	if !ok {
		specs = fieldSpecs[config.AuthDigest]
	}

	out := make([]FieldSpec, len(specs))
	copy(out, specs)

	return out
}

// Record holds one set of credentials. Digest records use Username and
// Password; AddIn records use ClientID, ClientSecret and optionally Realm.
type Record struct {
	Scheme       config.AuthType `json:"scheme"`
	Username     string          `json:"username,omitempty"`
	Password     string          `json:"password,omitempty"`
	ClientID     string          `json:"client_id,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Realm        string          `json:"realm,omitempty"`
}

// IsEmpty reports whether no credential value is set.
func (r Record) IsEmpty() bool {
	return r.Username == "" && r.Password == "" &&
		r.ClientID == "" && r.ClientSecret == "" && r.Realm == ""
}

// Complete reports whether every required field of the record's scheme is
// set.
func (r Record) Complete() bool {
	if r.Scheme == "" {
		return false
	}

	for _, spec := range Fields(r.Scheme) {
		if !spec.Optional && r.Value(spec.Field) == "" {
			return false
		}
	}

	return true
}

// Value returns the value of one field.
func (r Record) Value(f Field) string {
	switch f {
	case FieldUsername:
		return r.Username
	case FieldPassword:
		return r.Password
	case FieldClientID:
		return r.ClientID
	case FieldClientSecret:
		return r.ClientSecret
	case FieldRealm:
		return r.Realm
	default:
		return ""
	}
}

func (r *Record) set(f Field, v string) {
	switch f {
	case FieldUsername:
		r.Username = v
	case FieldPassword:
		r.Password = v
	case FieldClientID:
		r.ClientID = v
	case FieldClientSecret:
		r.ClientSecret = v
	case FieldRealm:
		r.Realm = v
	}
}

// String never includes secrets.
func (r Record) String() string {
	switch r.Scheme {
	case config.AuthAddIn:
		return "AddIn(" + r.ClientID + ")"
	case config.AuthDigest:
		return "Digest(" + r.Username + ")"
	default:
		return "empty"
	}
}
