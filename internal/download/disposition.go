package download

import (
	"net/http"
	"strings"

	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

const filenameToken = "filename="

// filenameFromHeaders extracts the output filename from a response's
// Content-Disposition header. There is no fallback to the URL path.
func filenameFromHeaders(h http.Header) (string, error) {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return "", towerr.New(towerr.HeaderMissing, "no Content-Disposition header")
	}

	name, err := ParseContentDisposition(cd)
	if err != nil {
		return "", err
	}
	if err := validateFilename(name); err != nil {
		return "", err
	}
	return name, nil
}

// ParseContentDisposition returns the value of the first filename= directive
// in a Content-Disposition header.
//
// The value runs up to the next ';'. A matched pair of surrounding double
// quotes is removed; a lone quote is kept. Extended filename*= values are
// not decoded, and because filename= is searched first, a plain value wins
// when both are present.
func ParseContentDisposition(header string) (string, error) {
	_, rest, found := strings.Cut(header, filenameToken)
	if !found {
		return "", towerr.New(towerr.FilenameUnparsable, "cannot get filename from '"+header+"'")
	}

	value, _, _ := strings.Cut(rest, ";")
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}
	return value, nil
}

// validateFilename rejects names that would not create a file directly
// inside the destination directory.
func validateFilename(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return towerr.New(towerr.FilenameUnparsable, "empty filename")
	case name == "." || name == "..":
		return towerr.New(towerr.FilenameUnparsable, "invalid filename '"+name+"'")
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return towerr.New(towerr.FilenameUnparsable, "filename contains a path separator: '"+name+"'")
	}
	return nil
}
