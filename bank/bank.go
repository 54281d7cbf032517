// Package bank implements the bank authority: the per-partition owner
// of the canonical reservation queues, the single-ported backing store
// and the atomic unit. One authority processes one request at a time,
// so no two operations on the same address ever interleave.
package bank

import (
	"go.uber.org/atomic"

	"github.com/memrelay/relay"
	"github.com/memrelay/relay/log"
)

// Sender emits replies and successor-updates into the routing fabric.
// relay.Socket satisfies it.
type Sender interface {
	Send(to relay.ID, m interface{})
}

// reservation holds the head and tail pointers of one address's queue.
// The links between queued participants live distributed across their
// relay nodes, so this record stays O(1) no matter how long the queue
// grows.
type reservation struct {
	head      relay.ID
	headValid bool // head may commit one matching store-conditional
	tail      relay.ID
	tailValid bool // at least one participant is associated with the address
}

// drained reports that no participant is associated with the record
// anymore; drained records are reusable and evictable.
func (r *reservation) drained() bool {
	return !r.tailValid
}

// Stats counts protocol events of one authority. Counters are atomic
// because the admin API reads them while the engine runs.
type Stats struct {
	Tracked       atomic.Int32  // reservation records currently in the table
	DegradedLoads atomic.Uint64 // LRs answered as plain loads because the table was full
	HandOffs      atomic.Uint64 // head transfers granted
	CommittedSC   atomic.Uint64
	FailedSC      atomic.Uint64
	Invalidations atomic.Uint64 // live heads killed by writes or atomics
}

// Authority is the reservation/queue engine of one memory partition.
// All methods must be called from a single goroutine; the Server wraps
// it with a mailbox loop.
type Authority struct {
	id       relay.ID
	store    relay.Store
	sender   Sender
	capacity int
	enabled  bool // false runs the unordered LR/SC baseline
	table    map[relay.Addr]*reservation

	stats Stats
}

// NewAuthority creates the engine for one partition, taking the table
// capacity and protocol mode from the global configuration.
func NewAuthority(id relay.ID, store relay.Store, sender Sender) *Authority {
	return &Authority{
		id:       id,
		store:    store,
		sender:   sender,
		capacity: relay.GetConfig().ReservationTableSize,
		enabled:  relay.GetConfig().RelayEnabled,
		table:    make(map[relay.Addr]*reservation),
	}
}

// Store exposes the backing store for read-only inspection
func (a *Authority) Store() relay.Store {
	return a.store
}

// Stats exposes the event counters
func (a *Authority) Stats() *Stats {
	return &a.stats
}

// HandleRequest processes one fabric request to completion: it mutates
// the table and the store, and emits at most one reply plus at most one
// successor-update.
func (a *Authority) HandleRequest(m relay.MemRequest) {
	log.Debugf("bank %s handling %v", a.id, m)
	switch m.Op {
	case relay.OpRead:
		a.reply(m.From, relay.MemReply{Op: relay.OpRead, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.From})

	case relay.OpWrite:
		a.invalidate(m.Addr)
		a.store.Write(m.Addr, m.Value)
		a.reply(m.From, relay.MemReply{Op: relay.OpWrite, Addr: m.Addr, Value: m.Value, OK: true, To: m.From})

	case relay.OpAmo:
		a.amo(m)

	case relay.OpLoadReserved:
		a.loadReserved(m)

	case relay.OpStoreConditional:
		a.storeConditional(m)

	case relay.OpHandOff:
		a.handOff(m)

	default:
		log.Errorf("bank %s received unknown request op %v", a.id, m.Op)
	}
}

// amo runs the atomic unit on the stored word. Like a plain write it
// invalidates the current head.
func (a *Authority) amo(m relay.MemRequest) {
	old := a.store.Read(m.Addr)
	newVal, ret, err := relay.ApplyAmo(m.Amo, old, m.Value)
	if err != nil {
		log.Errorf("bank %s: %v from %s", a.id, err, m.From)
		a.reply(m.From, relay.MemReply{Op: relay.OpAmo, Addr: m.Addr, OK: false, To: m.From})
		return
	}
	a.invalidate(m.Addr)
	a.store.Write(m.Addr, newVal)
	a.reply(m.From, relay.MemReply{Op: relay.OpAmo, Addr: m.Addr, Value: ret, OK: true, To: m.From})
}

// loadReserved reads the stored word and establishes or extends the
// address's reservation queue. The requester gets an immediate reply
// when it becomes head right away; when it is enqueued instead, the
// reply is deferred until a hand-off targets it, and only the previous
// tail is notified.
func (a *Authority) loadReserved(m relay.MemRequest) {
	if !a.enabled {
		a.loadReservedUnordered(m)
		return
	}

	r, exists := a.table[m.Addr]
	if !exists {
		r = a.insert(m.Addr)
		if r == nil {
			// table saturated: degrade to a plain unordered load
			a.stats.DegradedLoads.Inc()
			a.reply(m.From, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.From})
			return
		}
		r.head, r.headValid = m.From, true
		r.tail, r.tailValid = m.From, true
		a.reply(m.From, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.From})
		return
	}

	if r.tailValid {
		// enqueue path: tell the previous tail who is now behind it,
		// defer the reply until the hand-off reaches the requester
		prev := r.tail
		r.tail = m.From
		a.sender.Send(prev, relay.SuccessorUpdate{Addr: m.Addr, Next: m.From})
		return
	}

	// record was vacated by invalidation and fully drained: reuse it
	r.head, r.headValid = m.From, true
	r.tail, r.tailValid = m.From, true
	a.reply(m.From, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.From})
}

// loadReservedUnordered is the baseline mode: the newest reservation
// simply replaces the previous one and retries race freely.
func (a *Authority) loadReservedUnordered(m relay.MemRequest) {
	r, exists := a.table[m.Addr]
	if !exists {
		r = a.insert(m.Addr)
	}
	if r != nil {
		r.head, r.headValid = m.From, true
		r.tail, r.tailValid = m.From, true
	} else {
		a.stats.DegradedLoads.Inc()
	}
	a.reply(m.From, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.From})
}

// storeConditional commits iff the requester is the valid head of the
// address's queue. Success or failure, the requester's one allowed
// attempt is consumed; its relay node hands the reservation off to any
// recorded successor once it sees this ack.
func (a *Authority) storeConditional(m relay.MemRequest) {
	r, exists := a.table[m.Addr]
	ok := exists && r.headValid && r.head == m.From

	if ok {
		a.store.Write(m.Addr, m.Value)
		r.headValid = false
		if r.head == r.tail {
			// sole occupant: the record is fully retired
			r.tailValid = false
		}
		a.stats.CommittedSC.Inc()
	} else {
		a.stats.FailedSC.Inc()
	}

	a.reply(m.From, relay.MemReply{Op: relay.OpStoreConditional, Addr: m.Addr, Value: m.Value, OK: ok, To: m.From})
}

// handOff transfers head status from a retiring participant directly to
// its recorded successor: a load-reserved performed on behalf of the
// successor, skipping the enqueue path since the successor is already
// somewhere in the queue.
func (a *Authority) handOff(m relay.MemRequest) {
	r, exists := a.table[m.Addr]
	if !exists || r.drained() {
		// a hand-off must always target a queued participant; reaching
		// here means a successor was lost, which a correct run cannot
		// produce. Keep the successor from stalling regardless.
		log.Errorf("bank %s: hand-off for addr %d from %s targets no queued reservation", a.id, m.Addr, m.From)
		if !exists {
			r = a.insert(m.Addr)
		}
		if r == nil {
			a.stats.DegradedLoads.Inc()
			a.reply(m.Next, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.Next})
			return
		}
		r.tail, r.tailValid = m.Next, true
	} else if r.headValid {
		log.Errorf("bank %s: hand-off for addr %d from %s while head %s is still valid", a.id, m.Addr, m.From, r.head)
	}

	r.head, r.headValid = m.Next, true
	a.stats.HandOffs.Inc()
	a.reply(m.Next, relay.MemReply{Op: relay.OpLoadReserved, Addr: m.Addr, Value: a.store.Read(m.Addr), OK: true, To: m.Next})
}

// Poke writes a word administratively. It invalidates like any plain
// write but produces no fabric reply. Must run inside the engine loop.
func (a *Authority) Poke(addr relay.Addr, v relay.Value) {
	a.invalidate(addr)
	a.store.Write(addr, v)
}

// invalidate kills the current head's reservation after an interleaving
// write or atomic. Queued successors behind the head are unaffected.
func (a *Authority) invalidate(addr relay.Addr) {
	r, exists := a.table[addr]
	if !exists || r.drained() {
		return
	}
	if r.head == r.tail {
		// no successor: fully drop the record
		if r.headValid {
			a.stats.Invalidations.Inc()
		}
		r.headValid = false
		r.tailValid = false
		return
	}
	if r.headValid {
		r.headValid = false
		a.stats.Invalidations.Inc()
	}
}

// insert claims a table slot for addr, evicting a drained record when
// the table is full. Returns nil when every slot holds a live queue;
// callers then bypass reservation bookkeeping entirely.
func (a *Authority) insert(addr relay.Addr) *reservation {
	if len(a.table) >= a.capacity {
		evicted := false
		for old, r := range a.table {
			if r.drained() {
				delete(a.table, old)
				evicted = true
				break
			}
		}
		if !evicted {
			return nil
		}
	}
	r := &reservation{}
	a.table[addr] = r
	a.stats.Tracked.Store(int32(len(a.table)))
	return r
}

// reply routes one response back through the fabric
func (a *Authority) reply(to relay.ID, m relay.MemReply) {
	a.sender.Send(to, m)
}
