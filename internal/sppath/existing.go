package sppath

import (
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

var osFs afero.Fs = afero.NewOsFs()

// ExistingForm returns p with every name replaced by the spelling of an
// entry already present in fsys when the two differ only in Unicode
// normalization. Server names are NFC, while a local file may have been
// created in NFD; mapping back to the existing spelling keeps downloads from
// writing a second, differently encoded copy. Names without such an entry
// are kept as given.
func ExistingForm(fsys afero.Fs, p string) string {
	p = filepath.Clean(p)

	if !hasNormalizationForms(p) {
		return p
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p
	}

	parent = ExistingForm(fsys, parent)

	return filepath.Join(parent, existingName(fsys, parent, filepath.Base(p)))
}

func existingName(fsys afero.Fs, dir, name string) string {
	if !hasNormalizationForms(name) {
		return name
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return name
	}

	want := norm.NFC.String(name)
	found := name

	// The directory is read rather than stat'ed: normalization-insensitive
	// filesystems find the file under either spelling.
	for _, e := range entries {
		switch {
		case e.Name() == name:
			return name
		case norm.NFC.String(e.Name()) == want:
			found = e.Name()
		}
	}

	return found
}

// hasNormalizationForms reports whether s could be spelled differently in
// another normalization form.
func hasNormalizationForms(s string) bool {
	return !norm.NFC.IsNormalString(s) || !norm.NFD.IsNormalString(s)
}
