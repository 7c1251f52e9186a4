// Package identity derives the content identity the catalog deduplicates on.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/corona10/goimagehash"

	"ftrack/internal/ft"
)

// chunkSize is the read size for streaming hashes.
const chunkSize = 4096

// Identifier computes content identities through a FilesystemManager.
type Identifier struct {
	fsmgr ft.FilesystemManager
}

// NewIdentifier creates an Identifier.
func NewIdentifier(fsmgr ft.FilesystemManager) *Identifier {
	return &Identifier{fsmgr: fsmgr}
}

// Identify returns the content identity of path.
//
// Images get a perceptual hash formatted "p:<16 hex digits>" so re-encoded
// copies of a picture collapse to one record. Images that fail to decode and
// every other file get the SHA-256 of their bytes as 64 lowercase hex digits.
// Any I/O failure wraps ft.ErrUnreadable.
func (id *Identifier) Identify(path *ft.Path) (string, error) {
	if ft.IsImage(path.String()) {
		if h, ok := id.perceptual(path); ok {
			return h, nil
		}
	}
	return id.sha256(path)
}

func (id *Identifier) perceptual(path *ft.Path) (string, bool) {
	rc, err := id.fsmgr.Open(path)
	if err != nil {
		return "", false
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return "", false
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", false
	}
	return hash.ToString(), true
}

func (id *Identifier) sha256(path *ft.Path) (string, error) {
	rc, err := id.fsmgr.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ft.ErrUnreadable, path, err)
	}
	defer rc.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(onlyWriter{h}, onlyReader{rc}, buf); err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ft.ErrUnreadable, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// onlyReader and onlyWriter hide ReadFrom/WriteTo so io.CopyBuffer honours
// the fixed chunk size.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }
