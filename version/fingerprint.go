package version

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

// DefaultMarker is the file name of a component version marker.
const DefaultMarker = "version.txt"

// ErrNoMarkers is returned by Fingerprint when the source root is missing
// or holds no version marker.
var ErrNoMarkers = errors.New("no version markers")

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Fingerprinter hashes every version marker found below a source root.
// Any change to a marker's content, or a marker appearing or disappearing,
// changes the fingerprint.
type Fingerprinter struct {
	fs     afero.Fs
	root   string
	marker string
}

// NewFingerprinter creates a fingerprinter for the codebase at root. An
// empty marker selects DefaultMarker.
func NewFingerprinter(fs afero.Fs, root, marker string) *Fingerprinter {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Fingerprinter{fs: fs, root: root, marker: marker}
}

// Markers returns the slash-separated paths of all markers relative to the
// root, sorted.
func (f *Fingerprinter) Markers() ([]string, error) {
	var markers []string
	if ok, err := afero.DirExists(f.fs, f.root); err != nil || !ok {
		return nil, err
	}
	err := afero.Walk(f.fs, f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != f.root && skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() != f.marker {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		markers = append(markers, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan version markers: %w", err)
	}
	sort.Strings(markers)
	return markers, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest over every marker path
// and its content.
func (f *Fingerprinter) Fingerprint() (string, error) {
	markers, err := f.Markers()
	if err != nil {
		return "", err
	}
	if len(markers) == 0 {
		return "", fmt.Errorf("%w: no %s under %s", ErrNoMarkers, f.marker, f.root)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, m := range markers {
		content, err := afero.ReadFile(f.fs, filepath.Join(f.root, filepath.FromSlash(m)))
		if err != nil {
			return "", fmt.Errorf("read version marker %s: %w", m, err)
		}
		h.Write([]byte(m))
		h.Write([]byte{0})
		h.Write(bytes.TrimSpace(content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Release reads the first line of the root version marker, the release
// string of the codebase under test. A missing marker reports "".
func Release(fs afero.Fs, root, marker string) (string, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	file, err := fs.Open(filepath.Join(root, marker))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}
