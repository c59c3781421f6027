package version

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const hashLen = 40

// GitHead returns the commit hash checked out in the repository at root.
// HEAD may hold the hash itself or a "ref: " pointer to a ref file. Any
// missing or malformed piece reports ok=false.
func GitHead(fs afero.Fs, root string) (hash string, ok bool) {
	gitDir := filepath.Join(root, ".git")

	head, err := afero.ReadFile(fs, filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(head))

	if len(content) == hashLen {
		return content, true
	}
	ref, found := strings.CutPrefix(content, "ref: ")
	if !found {
		return "", false
	}

	refContent, err := afero.ReadFile(fs, filepath.Join(gitDir, filepath.FromSlash(ref)))
	if err != nil {
		return "", false
	}
	hash = strings.TrimSpace(string(refContent))
	if len(hash) != hashLen {
		return "", false
	}
	return hash, true
}
