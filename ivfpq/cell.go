package ivfpq

import "sync"

// cell is the posting list of one coarse cell. Entries are stored column-wise
// and only ever appended; compaction swaps in fresh slices so a snapshot taken
// under the read lock stays valid after it is released.
type cell struct {
	mu    sync.RWMutex
	ids   []string
	seqs  []uint64
	codes []byte // len(ids) * codeSize
}

type cellSnapshot struct {
	ids   []string
	seqs  []uint64
	codes []byte
}

func (c *cell) snapshot() cellSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cellSnapshot{ids: c.ids, seqs: c.seqs, codes: c.codes}
}

// appendLocked adds one entry. The caller holds c.mu.
func (c *cell) appendLocked(id string, seq uint64, code []byte) {
	c.ids = append(c.ids, id)
	c.seqs = append(c.seqs, seq)
	c.codes = append(c.codes, code...)
}

func (c *cell) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// compact drops every entry for which drop returns true and returns how many
// were removed.
func (c *cell) compact(codeSize int, drop func(seq uint64) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, seq := range c.seqs {
		if drop(seq) {
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	keep := len(c.ids) - removed
	ids := make([]string, 0, keep)
	seqs := make([]uint64, 0, keep)
	codes := make([]byte, 0, keep*codeSize)
	for i, seq := range c.seqs {
		if drop(seq) {
			continue
		}
		ids = append(ids, c.ids[i])
		seqs = append(seqs, seq)
		codes = append(codes, c.codes[i*codeSize:(i+1)*codeSize]...)
	}
	c.ids, c.seqs, c.codes = ids, seqs, codes
	return removed
}
