// Package archive stores finished meeting artifacts (the mixed recording and
// the transcript) outside the process.
//
// Keys are forward-slash separated and relative to the store root, e.g.
// "2026/10/17/<meeting-id>/recording.ogg".
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// ErrNotExist is returned (wrapped) when a key has no object. It wraps
// [os.ErrNotExist].
var ErrNotExist = fmt.Errorf("archive: %w", os.ErrNotExist)

// Store is the archival collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores everything read from r under key, replacing any existing
	// object, and returns the location of the stored object.
	Put(ctx context.Context, key string, r io.Reader) (string, error)

	// Get opens the object stored under key. The caller closes the reader.
	// A missing key yields an error wrapping [ErrNotExist].
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// cleanKey validates key and returns it in canonical form. Keys must be
// relative and must not escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return clean, nil
}
