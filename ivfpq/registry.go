package ivfpq

import "sync"

const registryShards = 64

type idState uint8

const (
	// reserved ids are being inserted and not yet visible.
	reserved idState = iota
	live
	// deleted ids wait in the purge set and cannot be re-inserted.
	deleted
)

type idEntry struct {
	cell  uint32
	seq   uint64
	state idState
}

type registryShard struct {
	mu  sync.Mutex
	ids map[string]idEntry
}

// registry maps external ids to their posting. It is sharded so inserts of
// different ids rarely contend.
type registry struct {
	shards [registryShards]registryShard
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i].ids = make(map[string]idEntry)
	}
	return r
}

func (r *registry) shard(id string) *registryShard {
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return &r.shards[h%registryShards]
}

// reserve claims id for insertion. It fails if id is known in any state.
func (r *registry) reserve(id string) bool {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = idEntry{state: reserved}
	return true
}

// publish makes a reserved id live at its posting.
func (r *registry) publish(id string, cell uint32, seq uint64) {
	s := r.shard(id)
	s.mu.Lock()
	s.ids[id] = idEntry{cell: cell, seq: seq, state: live}
	s.mu.Unlock()
}

// release forgets id.
func (r *registry) release(id string) {
	s := r.shard(id)
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

// markDeleted moves a live id to the deleted state and returns its seq.
// Reserved ids are not live yet and are left alone.
func (r *registry) markDeleted(id string) (uint64, bool) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ids[id]
	if !ok || e.state != live {
		return 0, false
	}
	e.state = deleted
	s.ids[id] = e
	return e.seq, true
}

func (r *registry) lookup(id string) (idEntry, bool) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ids[id]
	return e, ok
}

// releaseDeleted forgets id if it is still deleted at seq.
func (r *registry) releaseDeleted(id string, seq uint64) {
	s := r.shard(id)
	s.mu.Lock()
	if e, ok := s.ids[id]; ok && e.state == deleted && e.seq == seq {
		delete(s.ids, id)
	}
	s.mu.Unlock()
}

func (r *registry) reset() {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		clear(s.ids)
		s.mu.Unlock()
	}
}
