package relay

import (
	"sync"
	"time"

	"github.com/memrelay/relay/log"
)

// Socket is the routing fabric interface of one node. It delivers each
// request to the bank authority owning the request's address and each
// response back to the relay node named in it, and it never loses a
// message it accepted. Fault injection exists for testing only.
type Socket interface {

	// Send puts message to the outbound queue for node id
	Send(to ID, m interface{})

	// Broadcast sends the message to all other nodes
	Broadcast(m interface{})

	// Recv receives the next inbound message
	Recv() interface{}

	// BankFor returns the bank authority owning addr
	BankFor(addr Addr) ID

	Close()

	// Fault injection
	Drop(id ID, t int)        // drops every message send to ID for t seconds
	Slow(id ID, d int, t int) // delays every message send to ID by d ms for t seconds
	Crash(t int)              // node crashes for t seconds
}

type socket struct {
	id        ID
	addresses map[ID]string
	banks     []ID
	stride    uint32
	nodes     map[ID]Transport

	crash bool
	drop  map[ID]bool
	slow  map[ID]uint64

	lock sync.RWMutex // locking map nodes
}

// NewSocket returns a Socket instance given self ID and the fabric
// address of every node
func NewSocket(id ID, addrs map[ID]string) Socket {
	s := &socket{
		id:        id,
		addresses: addrs,
		banks:     GetConfig().Banks,
		stride:    uint32(GetConfig().InterleaveStride),
		nodes:     make(map[ID]Transport),
		drop:      make(map[ID]bool),
		slow:      make(map[ID]uint64),
	}

	s.nodes[id] = NewTransport(addrs[id])
	s.nodes[id].Listen()

	return s
}

// BankFor stripes word addresses across the configured bank partitions
func (s *socket) BankFor(addr Addr) ID {
	i := (uint32(addr) / s.stride) % uint32(len(s.banks))
	return s.banks[i]
}

func (s *socket) Send(to ID, m interface{}) {
	log.Debugf("node %s send message %+v to %v", s.id, m, to)

	if s.crash || s.drop[to] {
		return
	}

	s.lock.RLock()
	t, exists := s.nodes[to]
	s.lock.RUnlock()
	if !exists {
		s.lock.RLock()
		address, ok := s.addresses[to]
		s.lock.RUnlock()
		if !ok {
			log.Errorf("socket does not have address of node %s", to)
			return
		}
		t = NewTransport(address)
		err := Retry(t.Dial, 100, time.Duration(50)*time.Millisecond)
		if err != nil {
			log.Errorf("failed to make connection to %s: %v", to, err)
			return
		}
		s.lock.Lock()
		s.nodes[to] = t
		s.lock.Unlock()
	}

	if delay, ok := s.slow[to]; ok && delay > 0 {
		timer := time.NewTimer(time.Duration(delay))
		go func() {
			<-timer.C
			t.Send(m)
		}()
		return
	}

	t.Send(m)
}

func (s *socket) Recv() interface{} {
	s.lock.RLock()
	t := s.nodes[s.id]
	s.lock.RUnlock()
	for {
		m := t.Recv()
		if !s.crash {
			return m
		}
	}
}

func (s *socket) Broadcast(m interface{}) {
	log.Debugf("node %s broadcasting message %+v", s.id, m)
	for id := range s.addresses {
		if id == s.id {
			continue
		}
		s.Send(id, m)
	}
}

func (s *socket) Close() {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, t := range s.nodes {
		t.Close()
	}
}

func (s *socket) Drop(id ID, t int) {
	s.drop[id] = true
	timer := time.NewTimer(time.Duration(t) * time.Second)
	go func() {
		<-timer.C
		s.drop[id] = false
	}()
}

// Slow assigns a delay in ms to every message towards id
func (s *socket) Slow(id ID, delay int, t int) {
	s.slow[id] = uint64(delay * 1_000_000) // convert ms to ns
	timer := time.NewTimer(time.Duration(t) * time.Second)
	go func() {
		<-timer.C
		s.slow[id] = 0
	}()
}

func (s *socket) Crash(t int) {
	s.crash = true
	if t > 0 {
		timer := time.NewTimer(time.Duration(t) * time.Second)
		go func() {
			<-timer.C
			s.crash = false
		}()
	}
}
