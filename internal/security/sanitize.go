package security

import (
	"path"
	"strings"

	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// sensitivePrefixes are absolute locations assets must never point into.
// Checked against the separator-normalized input before any stripping so
// "/etc/passwd" is caught as written.
var sensitivePrefixes = []string{
	"/etc/",
	"/proc/",
	"/sys/",
	"/dev/",
	"/var/log/",
	"/root/",
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func sensitivePath(p string) bool {
	for _, pfx := range sensitivePrefixes {
		if strings.HasPrefix(p, pfx) {
			return true
		}
	}
	// hidden files under /home/<user>/
	if rest, ok := strings.CutPrefix(p, "/home/"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 && strings.HasPrefix(rest[i+1:], ".") {
			return true
		}
	}
	return false
}

// SanitizePath normalizes separators and leading ./ and / segments.
//
// Strict mode returns an error for traversal (".."), a leading "~",
// embedded NUL bytes, and sensitive system locations. Lenient mode strips
// the dangerous segments instead and always succeeds.
func SanitizePath(p string, strict bool) (string, error) {
	norm := normalizeSeparators(p)

	if strict {
		if strings.IndexByte(norm, 0) >= 0 {
			return "", xerrors.New("path contains null byte")
		}
		if strings.HasPrefix(norm, "~") {
			return "", xerrors.Newf("path references home directory: %s", norm)
		}
		for _, seg := range strings.Split(norm, "/") {
			if seg == ".." {
				return "", xerrors.Newf("path traversal detected: %s", norm)
			}
		}
		if sensitivePath(norm) {
			return "", xerrors.Newf("path references sensitive location: %s", norm)
		}
		cleaned := path.Clean(norm)
		cleaned = strings.TrimPrefix(cleaned, "/")
		if cleaned == "." {
			cleaned = ""
		}
		return cleaned, nil
	}

	// lenient: drop NULs and dangerous segments, keep the rest
	norm = strings.ReplaceAll(norm, "\x00", "")
	segs := strings.Split(norm, "/")
	kept := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch {
		case seg == "" || seg == "." || seg == "..":
			continue
		case strings.HasPrefix(seg, "~"):
			continue
		default:
			kept = append(kept, seg)
		}
	}
	return strings.Join(kept, "/"), nil
}
