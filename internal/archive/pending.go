package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// PendingSet is the ordered list of downloaded files awaiting archival. It is
// owned by the controller; the transfer worker only appends and the batcher
// only drains, so no locking is needed under the single-worker model.
type PendingSet struct {
	paths []string
}

func NewPendingSet() *PendingSet {
	return &PendingSet{}
}

func (p *PendingSet) Append(path string) {
	p.paths = append(p.paths, path)
}

func (p *PendingSet) Len() int {
	return len(p.paths)
}

// Paths returns a copy of the pending paths in insertion order.
func (p *PendingSet) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Drop removes the given paths from the set, keeping relative order of the
// remainder. Called by the batcher after a batch is durably sealed.
func (p *PendingSet) Drop(sealed []string) {
	if len(sealed) == 0 {
		return
	}
	dropped := make(map[string]struct{}, len(sealed))
	for _, s := range sealed {
		dropped[s] = struct{}{}
	}
	kept := p.paths[:0]
	for _, path := range p.paths {
		if _, ok := dropped[path]; !ok {
			kept = append(kept, path)
		}
	}
	p.paths = kept
}

// RebuildPending reconstructs the pending set after an interrupted run by
// scanning the download directory for files whose leading bytes match the
// expected magic. Anything already rolled into an archive was deleted from
// this directory, so whatever remains is by definition unarchived.
func RebuildPending(dir string, magic []byte) (*PendingSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPendingSet(), nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	set := NewPendingSet()
	for _, name := range names {
		path := filepath.Join(dir, name)
		ok, err := hasMagic(path, magic)
		if err != nil || !ok {
			continue
		}
		set.Append(path)
	}
	return set, nil
}

func hasMagic(path string, magic []byte) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false, err
	}
	return bytes.Equal(head, magic), nil
}
