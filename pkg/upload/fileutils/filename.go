package fileutils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	// maxFilenameLen is the usual NAME_MAX of local filesystems, in bytes.
	maxFilenameLen = 255

	generatedNamePrefix = "upload-"
)

var (
	unsafeFilenameRunes = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	dotRuns             = regexp.MustCompile(`\.{2,}`)

	windowsDeviceNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// SecureFilename returns a version of name that is safe to store directly
// under the upload directory.
//
// Only the last path segment survives, '/' and '\' both count as separators.
// The name is NFKD-normalized and reduced to ASCII, whitespace runs become a
// single '_', and every rune outside [A-Za-z0-9_.-] is dropped. Dot runs
// collapse to one dot and leading or trailing dots and underscores are
// trimmed, so "." and ".." cannot survive. Names are cut to 254 bytes,
// keeping a short extension. Windows device names get a '_' prefix.
//
// The result may be empty. SecureFilename(SecureFilename(s)) == SecureFilename(s).
func SecureFilename(name string) string {
	segments := strings.FieldsFunc(name, isPathSeparator)
	if len(segments) == 0 {
		return ""
	}
	name = segments[len(segments)-1]

	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)

	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameRunes.ReplaceAllString(name, "")
	name = trimDots(name)
	if len(name) > maxFilenameLen-1 {
		// one byte is left for the device name prefix
		name = trimDots(truncateFilename(name, maxFilenameLen-1))
	}

	if name != "" {
		stem := strings.SplitN(name, ".", 2)[0]
		if windowsDeviceNames[strings.ToUpper(stem)] {
			name = "_" + name
		}
	}

	return name
}

// StoredFilename is the name a submitted file ends up with on disk:
// SecureFilename(name), or a generated name when nothing is left of it.
func StoredFilename(name string) string {
	if s := SecureFilename(name); s != "" {
		return s
	}
	return generatedNamePrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidateFilename accepts only names already in sanitized form, which are the
// only names this package ever writes.
func ValidateFilename(name string) error {
	if name == "" || SecureFilename(name) != name {
		return ErrInvalidFilename
	}
	return nil
}

// ValidateLookupName checks a name asked for by a client. Names that try to
// leave the upload directory fail with ErrInvalidFilename. Any other name not
// in sanitized form cannot have been stored and fails with ErrNotFound.
func ValidateLookupName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\\x00") || filepath.VolumeName(name) != "" {
		return ErrInvalidFilename
	}
	if SecureFilename(name) != name {
		return ErrNotFound
	}
	return nil
}

func trimDots(name string) string {
	return strings.Trim(dotRuns.ReplaceAllString(name, "."), "._")
}

func isPathSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// truncateFilename keeps the extension if it is reasonably short.
// The input is ASCII at this point, so byte offsets are rune offsets.
func truncateFilename(name string, max int) string {
	if len(name) <= max {
		return name
	}

	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i <= 16 {
		ext = name[i:]
	}
	return name[:max-len(ext)] + ext
}
