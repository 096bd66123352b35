package sandbox

import (
	"path"
	"strings"
)

// SafeRelPath normalizes a requested file path and rejects anything that
// could escape the sandbox work root: absolute paths, Windows-style drive or
// backslash paths, paths beginning with "..", and any ".." segment surviving
// normalization. It performs no I/O.
func SafeRelPath(requested string) (string, error) {
	if requested == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsRune(requested, '\\') || strings.ContainsRune(requested, 0) {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(requested, "/") {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(requested, "..") {
		return "", ErrInvalidPath
	}
	// "C:/..." style
	if len(requested) > 1 && requested[1] == ':' {
		return "", ErrInvalidPath
	}

	cleaned := path.Clean(requested)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return cleaned, nil
}
