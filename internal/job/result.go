package job

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
)

// RefreshResult compares the tracked file before and after the refresh script
type RefreshResult struct {
	// Path is relative to the checkout root
	Path string

	// Before is the committed content at HEAD, empty if the file was absent
	Before []byte

	// After is the content on disk once the script finished
	After []byte

	Changed bool
}

// NewRefreshResult compares before and after byte for byte
func NewRefreshResult(path string, before, after []byte) *RefreshResult {
	return &RefreshResult{
		Path:    path,
		Before:  before,
		After:   after,
		Changed: !bytes.Equal(before, after),
	}
}

// Diff renders a unified diff of the tracked file. Empty when unchanged.
func (r *RefreshResult) Diff() (string, error) {
	if !r.Changed {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(r.Before)),
		B:        difflib.SplitLines(string(r.After)),
		FromFile: "a/" + r.Path,
		ToFile:   "b/" + r.Path,
		Context:  3,
	})
}
