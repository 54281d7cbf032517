package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/memrelay/relay/log"
)

// Protocol violations detected locally by the relay node. They are
// caller errors and never silently ignored, since acting on them would
// corrupt queue order at the bank.
var (
	// ErrNestedReservation flags a load-reserved issued while an
	// earlier reservation of this participant is still outstanding.
	ErrNestedReservation = errors.New("relay: nested load-reserved")

	// ErrNoReservation flags a store-conditional not immediately
	// preceded by a load-reserved to the same address.
	ErrNoReservation = errors.New("relay: store-conditional without matching load-reserved")
)

// phase of the relay node's reservation state machine
type phase int

const (
	// phaseIdle: no active reservation
	phaseIdle phase = iota
	// phaseWaiting: load-reserved issued; blocked until the bank
	// answers immediately or a hand-off eventually targets this node
	phaseWaiting
	// phaseHolding: this participant is the queue head and may attempt
	// exactly one store-conditional
	phaseHolding
	// phaseRetiring: store-conditional in flight, commit ack pending.
	// With a successor already recorded this is the queued state: the
	// hand-off fires the moment the ack lands.
	phaseRetiring
)

var phaseNames = []string{"idle", "waiting", "holding", "retiring"}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// RelayNode sits between one participant and the routing fabric. Plain
// reads, writes and atomics pass through transparently. For reservations
// it runs the relay half of the protocol: it privately remembers the
// successor the bank announces behind it and autonomously hands the
// reservation off once its own reservation retires.
//
// A RelayNode serves a single participant goroutine; at most one
// blocking operation is ever outstanding.
type RelayNode struct {
	id ID
	Socket

	lock         sync.Mutex
	phase        phase
	addr         Addr // reserved address, meaningful outside phaseIdle
	successor    ID
	hasSuccessor bool

	grant chan MemReply // deferred or immediate load-reserved responses
	ack   chan MemReply // store-conditional commit acks
	reply chan MemReply // plain read/write/atomic responses
}

// NewRelayNode attaches a new relay node for one participant to the
// fabric and starts its receive loop.
func NewRelayNode(id ID) *RelayNode {
	r := &RelayNode{
		id:     id,
		Socket: NewSocket(id, config.Addrs),
		grant:  make(chan MemReply, 1),
		ack:    make(chan MemReply, 1),
		reply:  make(chan MemReply, 1),
	}
	go r.run()
	return r
}

// ID returns the participant identity this relay node serves
func (r *RelayNode) ID() ID {
	return r.id
}

// run dispatches fabric messages. Replies and successor-updates for one
// node are handled strictly one at a time, which resolves the
// successor-update/commit-ack race by arrival order.
func (r *RelayNode) run() {
	for {
		switch m := r.Recv().(type) {
		case MemReply:
			r.handleReply(m)
		case SuccessorUpdate:
			r.handleSuccessorUpdate(m)
		default:
			log.Errorf("relay %s received unexpected message %v", r.id, m)
		}
	}
}

func (r *RelayNode) handleReply(m MemReply) {
	switch m.Op {
	case OpLoadReserved:
		r.grant <- m
	case OpStoreConditional:
		r.retire()
		r.ack <- m
	default:
		r.reply <- m
	}
}

// retire consumes the commit ack for this node's one store-conditional
// attempt. If a successor is already recorded the hand-off fires here;
// otherwise the node simply returns to idle and a late successor-update
// fires the hand-off on arrival.
func (r *RelayNode) retire() {
	r.lock.Lock()
	addr := r.addr
	fire := r.hasSuccessor
	next := r.successor
	r.hasSuccessor = false
	r.phase = phaseIdle
	r.lock.Unlock()

	if fire {
		r.handOff(addr, next)
	}
}

// handleSuccessorUpdate records the identity of the participant now
// queued behind this node. When the update races past the commit ack
// and arrives after this node already retired the address, the hand-off
// is issued immediately instead; either ordering delivers it exactly
// once.
func (r *RelayNode) handleSuccessorUpdate(m SuccessorUpdate) {
	r.lock.Lock()
	if r.phase != phaseIdle && r.addr == m.Addr {
		if r.hasSuccessor {
			log.Errorf("relay %s received second successor %s for addr %d", r.id, m.Next, m.Addr)
		}
		r.successor = m.Next
		r.hasSuccessor = true
		r.lock.Unlock()
		return
	}
	r.lock.Unlock()

	r.handOff(m.Addr, m.Next)
}

// handOff wakes the successor up through the bank
func (r *RelayNode) handOff(addr Addr, next ID) {
	log.Debugf("relay %s handing addr %d off to %s", r.id, addr, next)
	r.Send(r.BankFor(addr), MemRequest{Op: OpHandOff, Addr: addr, From: r.id, Next: next})
}

// LoadReserved reads the word at addr and establishes a reservation on
// it. The call blocks while earlier holders are ahead in the queue and
// returns once this participant becomes head. Issuing a second
// load-reserved while one reservation is outstanding is a protocol
// violation.
func (r *RelayNode) LoadReserved(addr Addr) (Value, error) {
	r.lock.Lock()
	if r.phase != phaseIdle {
		r.lock.Unlock()
		log.Errorf("relay %s: load-reserved for addr %d while %s on addr %d", r.id, addr, r.phase, r.addr)
		return 0, ErrNestedReservation
	}
	r.phase = phaseWaiting
	r.addr = addr
	r.lock.Unlock()

	r.Send(r.BankFor(addr), MemRequest{Op: OpLoadReserved, Addr: addr, From: r.id})

	m := <-r.grant

	r.lock.Lock()
	r.phase = phaseHolding
	r.lock.Unlock()
	return m.Value, nil
}

// StoreConditional writes v to addr iff this participant's reservation
// is still intact. The false return is the expected contention outcome,
// not an error; callers retry from LoadReserved. Success or failure,
// the reservation is consumed.
func (r *RelayNode) StoreConditional(addr Addr, v Value) (bool, error) {
	r.lock.Lock()
	if r.phase != phaseHolding || r.addr != addr {
		r.lock.Unlock()
		log.Errorf("relay %s: store-conditional for addr %d in phase %s", r.id, addr, r.phase)
		return false, ErrNoReservation
	}
	r.phase = phaseRetiring
	r.lock.Unlock()

	r.Send(r.BankFor(addr), MemRequest{Op: OpStoreConditional, Addr: addr, Value: v, From: r.id})

	m := <-r.ack
	return m.OK, nil
}

// Read performs a plain load, bypassing reservation tracking
func (r *RelayNode) Read(addr Addr) Value {
	r.Send(r.BankFor(addr), MemRequest{Op: OpRead, Addr: addr, From: r.id})
	m := <-r.reply
	return m.Value
}

// Write performs a plain store. It invalidates any live reservation on
// addr at the bank.
func (r *RelayNode) Write(addr Addr, v Value) {
	r.Send(r.BankFor(addr), MemRequest{Op: OpWrite, Addr: addr, Value: v, From: r.id})
	<-r.reply
}

// AtomicOp performs a read-modify-write at the bank's atomic unit and
// returns the operation's result value. Like a plain write it
// invalidates any live reservation on addr.
func (r *RelayNode) AtomicOp(op AmoOp, addr Addr, operand Value) (Value, error) {
	r.Send(r.BankFor(addr), MemRequest{Op: OpAmo, Amo: op, Addr: addr, Value: operand, From: r.id})
	m := <-r.reply
	if !m.OK {
		return 0, fmt.Errorf("unsupported atomic operation %s", op)
	}
	return m.Value, nil
}
