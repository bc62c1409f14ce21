// Package assets enumerates the pre-rendered captcha art on storage:
// numbered background photos and the small set of puzzle-shape cutouts.
// Nothing here generates imagery; the catalog only reports which of the
// known files actually exist and serves their bytes.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	// backgroundCount is the size of the numbered background set
	// (image/01.png through image/36.png).
	backgroundCount = 36

	// puzzleShapeCount is the size of the puzzle cutout set
	// (puzzle/1.png through puzzle/4.png).
	puzzleShapeCount = 4
)

var (
	// ErrNoAssets is returned when challenge generation cannot proceed
	// because at least one of the asset sets is empty. This is a
	// deployment problem, not a user error.
	ErrNoAssets = errors.New("assets: no usable assets on storage")

	// ErrBadRef is returned for asset references outside the catalog's
	// known namespaces.
	ErrBadRef = errors.New("assets: reference outside catalog")
)

// Catalog reports and serves the captcha art found in a filesystem. The
// filesystem is probed on every listing call so assets can be added or
// removed without a restart.
type Catalog struct {
	fsys fs.FS
}

// New builds a catalog over any fs.FS, letting tests supply a
// testing/fstest.MapFS.
func New(fsys fs.FS) *Catalog {
	return &Catalog{fsys: fsys}
}

// NewDir builds a catalog over a directory on disk.
func NewDir(dir string) *Catalog {
	return New(os.DirFS(dir))
}

// Backgrounds lists the background references that exist on storage. The
// result may be empty; it is never an error.
func (c *Catalog) Backgrounds() []string {
	var result []string
	for i := 1; i <= backgroundCount; i++ {
		ref := fmt.Sprintf("image/%02d.png", i)
		if _, err := fs.Stat(c.fsys, ref); err == nil {
			result = append(result, ref)
		}
	}
	return result
}

// PuzzleShapes lists the puzzle cutout references that exist on storage.
func (c *Catalog) PuzzleShapes() []string {
	var result []string
	for i := 1; i <= puzzleShapeCount; i++ {
		ref := fmt.Sprintf("puzzle/%d.png", i)
		if _, err := fs.Stat(c.fsys, ref); err == nil {
			result = append(result, ref)
		}
	}
	return result
}

// Read returns the raw bytes of a previously listed reference. References
// outside the image/ and puzzle/ namespaces are refused so a corrupted
// session record can never turn into a directory traversal.
func (c *Catalog) Read(ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "image/") && !strings.HasPrefix(ref, "puzzle/") {
		return nil, fmt.Errorf("%w: %q", ErrBadRef, ref)
	}

	if !fs.ValidPath(ref) || strings.Contains(ref, "..") {
		return nil, fmt.Errorf("%w: %q", ErrBadRef, ref)
	}

	data, err := fs.ReadFile(c.fsys, ref)
	if err != nil {
		return nil, fmt.Errorf("assets: can't read %q: %w", ref, err)
	}

	return data, nil
}
