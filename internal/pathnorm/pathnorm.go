// Package pathnorm implements the path normalizer (C1): a pure, textual,
// platform-aware canonicalization used everywhere the core compares two
// paths for "same location" without touching the filesystem.
package pathnorm

import (
	"errors"
	"runtime"
	"strings"

	"github.com/ralph-run/ralph/internal/models"
)

// ErrEmpty and ErrNull are the two normalization failures this package
// reports.
var (
	ErrEmpty = errors.New("empty")
	ErrNull  = errors.New("null")
)

// Normalize canonicalizes path for the current platform, choosing the
// Windows rules when GOOS is "windows"; NormalizeFor lets the platform be
// chosen explicitly.
func Normalize(path string) (models.NormalizedPath, error) {
	return normalize(path, runtime.GOOS == "windows")
}

// NormalizeFor is the GOOS-overridable variant, so that both rule sets
// can be exercised on any host; this module calls it only from tests.
func NormalizeFor(path string, windows bool) (models.NormalizedPath, error) {
	return normalize(path, windows)
}

func normalize(path string, windows bool) (models.NormalizedPath, error) {
	if path == "" {
		return models.NormalizedPath{}, ErrEmpty
	}
	if strings.ContainsRune(path, 0) {
		return models.NormalizedPath{}, ErrNull
	}

	if windows {
		return normalizeWindows(path)
	}
	return normalizePOSIX(path)
}

func normalizePOSIX(path string) (models.NormalizedPath, error) {
	isAbs := strings.HasPrefix(path, "/")
	collapsed := collapseSlashes(path)
	if len(collapsed) > 1 && strings.HasSuffix(collapsed, "/") {
		collapsed = strings.TrimRight(collapsed, "/")
		if collapsed == "" {
			collapsed = "/"
		}
	}
	return models.NormalizedPath{
		Normalized: collapsed,
		Basename:   basenameOf(collapsed),
		IsAbsolute: isAbs,
	}, nil
}

func normalizeWindows(path string) (models.NormalizedPath, error) {
	p := strings.ReplaceAll(path, `\`, "/")
	isUNC := strings.HasPrefix(p, "//")
	p = collapseSlashes(p)
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	lower := strings.ToLower(p)

	isAbs := false
	switch {
	case len(lower) >= 2 && lower[1] == ':':
		// C:/... -> /c/...
		drive := lower[0]
		rest := lower[2:]
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			lower = "/" + string(drive)
		} else {
			lower = "/" + string(drive) + "/" + rest
		}
		isAbs = true
	case isUNC:
		// //server/share/... -> /unc/server/share/...
		rest := strings.TrimPrefix(lower, "/")
		lower = "/unc/" + rest
		isAbs = true
	case strings.HasPrefix(lower, "/"):
		isAbs = true
	}

	return models.NormalizedPath{
		Normalized: lower,
		Basename:   basenameOf(lower),
		IsAbsolute: isAbs,
	}, nil
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func basenameOf(normalized string) string {
	idx := strings.LastIndex(normalized, "/")
	if idx == -1 {
		return normalized
	}
	return normalized[idx+1:]
}

// BasenameCmp compares two basenames under the platform's case rule:
// case-insensitive on Windows, sensitive on POSIX.
func BasenameCmp(a, b string, windows bool) bool {
	if windows {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// BasenameHasPrefix applies the same case rule as BasenameCmp to a
// prefix check.
func BasenameHasPrefix(basename, prefix string, windows bool) bool {
	if windows {
		return strings.HasPrefix(strings.ToLower(basename), strings.ToLower(prefix))
	}
	return strings.HasPrefix(basename, prefix)
}
