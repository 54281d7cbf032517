package relay

import (
	"encoding/json"
	"sync"
)

// Addr is a word address in the shared memory
type Addr uint32

// Value is a 32-bit memory word
type Value uint32

// Store defines the backing store owned by one bank authority.
// The authority is the only writer; reads may additionally come from
// the admin API, hence implementations must be safe for concurrent
// readers.
type Store interface {
	Read(Addr) Value
	Write(Addr, Value)
	Version() uint64
}

// store implements an in-memory word-addressed Store
type store struct {
	sync.RWMutex
	data    map[Addr]Value
	version uint64
}

// NewStore returns an empty in-memory Store; absent words read as zero
func NewStore() Store {
	return &store{
		data: make(map[Addr]Value, config.BufferSize),
	}
}

// Read returns the word currently stored at addr, zero if never written
func (s *store) Read(addr Addr) Value {
	s.RLock()
	defer s.RUnlock()
	return s.data[addr]
}

// Write stores a word at addr
func (s *store) Write(addr Addr, v Value) {
	s.Lock()
	defer s.Unlock()
	s.data[addr] = v
	s.version++
}

// Version returns the total number of committed writes
func (s *store) Version() uint64 {
	s.RLock()
	defer s.RUnlock()
	return s.version
}

func (s *store) String() string {
	s.RLock()
	defer s.RUnlock()
	b, _ := json.Marshal(s.data)
	return string(b)
}
