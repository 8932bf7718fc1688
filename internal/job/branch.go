package job

import (
	"fmt"
	"sync"
	"time"
)

// BranchNamer derives proposal branch names from a fixed base and a
// Unix-seconds suffix. Suffixes never repeat within one namer.
type BranchNamer struct {
	mu   sync.Mutex
	base string
	last int64
	now  func() time.Time
}

// NewBranchNamer creates a namer for base
func NewBranchNamer(base string) *BranchNamer {
	return &BranchNamer{base: base, now: time.Now}
}

// Next returns a branch name whose suffix is greater than every previous one
func (n *BranchNamer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	suffix := n.now().Unix()
	if suffix <= n.last {
		suffix = n.last + 1
	}
	n.last = suffix

	return fmt.Sprintf("%s-%d", n.base, suffix)
}

// Prefix is the part shared by every generated name
func (n *BranchNamer) Prefix() string {
	return n.base + "-"
}
