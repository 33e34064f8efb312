package pipeline

import (
	"sort"
	"sync"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// noteList collects annotations from concurrent enrichment steps.
type noteList struct {
	mu    sync.Mutex
	notes []string
}

func (n *noteList) add(s string) {
	n.mu.Lock()
	n.notes = append(n.notes, s)
	n.mu.Unlock()
}

func (n *noteList) dependency(name string, err error) {
	n.add((&contracts.DependencyError{Dependency: name, Err: err}).Error())
}

// sorted returns the notes in a stable order, or nil.
func (n *noteList) sorted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notes) == 0 {
		return nil
	}
	out := append([]string(nil), n.notes...)
	sort.Strings(out)
	return out
}
