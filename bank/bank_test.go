package bank

import (
	"testing"

	"github.com/memrelay/relay"
)

type sent struct {
	to relay.ID
	m  interface{}
}

// capture records every message the engine emits into the fabric
type capture struct {
	sent []sent
}

func (c *capture) Send(to relay.ID, m interface{}) {
	c.sent = append(c.sent, sent{to, m})
}

func (c *capture) take() []sent {
	s := c.sent
	c.sent = nil
	return s
}

// reply returns the single reply the engine emitted since the last take
func (c *capture) reply(t *testing.T) relay.MemReply {
	t.Helper()
	msgs := c.take()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 outbound message, got %d: %v", len(msgs), msgs)
	}
	r, ok := msgs[0].m.(relay.MemReply)
	if !ok {
		t.Fatalf("expected MemReply, got %T", msgs[0].m)
	}
	return r
}

func newAuthority(t *testing.T, tableSize int, enabled bool) (*Authority, *capture) {
	t.Helper()
	cfg := relay.GetConfig()
	prevSize, prevEnabled := cfg.ReservationTableSize, cfg.RelayEnabled
	cfg.ReservationTableSize = tableSize
	cfg.RelayEnabled = enabled
	t.Cleanup(func() {
		cfg.ReservationTableSize = prevSize
		cfg.RelayEnabled = prevEnabled
	})

	c := &capture{}
	return NewAuthority("1.1", relay.NewStore(), c), c
}

func lr(from relay.ID, addr relay.Addr) relay.MemRequest {
	return relay.MemRequest{Op: relay.OpLoadReserved, Addr: addr, From: from}
}

func sc(from relay.ID, addr relay.Addr, v relay.Value) relay.MemRequest {
	return relay.MemRequest{Op: relay.OpStoreConditional, Addr: addr, Value: v, From: from}
}

func write(from relay.ID, addr relay.Addr, v relay.Value) relay.MemRequest {
	return relay.MemRequest{Op: relay.OpWrite, Addr: addr, Value: v, From: from}
}

func handoff(from, next relay.ID, addr relay.Addr) relay.MemRequest {
	return relay.MemRequest{Op: relay.OpHandOff, Addr: addr, From: from, Next: next}
}

func TestFirstOccupantGetsImmediateValue(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	a.Store().Write(7, 42)

	a.HandleRequest(lr("2.1", 7))

	r := c.reply(t)
	if r.Op != relay.OpLoadReserved || !r.OK || r.To != "2.1" || r.Value != 42 {
		t.Fatalf("unexpected reply %v", r)
	}
	rec := a.table[7]
	if rec == nil || !rec.headValid || rec.head != "2.1" || !rec.tailValid || rec.tail != "2.1" {
		t.Fatalf("unexpected reservation record %+v", rec)
	}
}

func TestEnqueueNotifiesPreviousTailOnly(t *testing.T) {
	a, c := newAuthority(t, 8, true)

	a.HandleRequest(lr("2.1", 3))
	c.take()

	a.HandleRequest(lr("2.2", 3))
	msgs := c.take()
	if len(msgs) != 1 {
		t.Fatalf("enqueue must emit exactly one message, got %v", msgs)
	}
	u, ok := msgs[0].m.(relay.SuccessorUpdate)
	if !ok || msgs[0].to != "2.1" || u.Next != "2.2" || u.Addr != 3 {
		t.Fatalf("expected successor-update for 2.1 announcing 2.2, got %v to %s", msgs[0].m, msgs[0].to)
	}

	rec := a.table[3]
	if rec.head != "2.1" || rec.tail != "2.2" || !rec.headValid || !rec.tailValid {
		t.Fatalf("unexpected record after enqueue %+v", rec)
	}
}

// the three-participant relay chain: A, B, C arrive in order; each
// commit hands the reservation directly to the next in line.
func TestFIFOHandOffChain(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	const x = relay.Addr(11)

	a.HandleRequest(lr("2.1", x))
	if v := c.reply(t); v.Value != 0 {
		t.Fatalf("A expected initial value 0, got %d", v.Value)
	}
	a.HandleRequest(lr("2.2", x)) // successor-update to A
	c.take()
	a.HandleRequest(lr("2.3", x)) // successor-update to B
	c.take()

	// A commits 1 and retires
	a.HandleRequest(sc("2.1", x, 1))
	if r := c.reply(t); !r.OK {
		t.Fatal("A's store-conditional must succeed")
	}
	if rec := a.table[x]; rec.headValid {
		t.Fatal("no head may be valid between retire and hand-off")
	}

	// A's relay hands off to B, who sees A's commit
	a.HandleRequest(handoff("2.1", "2.2", x))
	r := c.reply(t)
	if r.Op != relay.OpLoadReserved || r.To != "2.2" || r.Value != 1 {
		t.Fatalf("B expected deferred load of 1, got %v", r)
	}

	a.HandleRequest(sc("2.2", x, 2))
	if r := c.reply(t); !r.OK {
		t.Fatal("B's store-conditional must succeed")
	}
	a.HandleRequest(handoff("2.2", "2.3", x))
	r = c.reply(t)
	if r.To != "2.3" || r.Value != 2 {
		t.Fatalf("C expected deferred load of 2, got %v", r)
	}

	a.HandleRequest(sc("2.3", x, 3))
	if r := c.reply(t); !r.OK {
		t.Fatal("C's store-conditional must succeed")
	}

	if v := a.Store().Read(x); v != 3 {
		t.Fatalf("expected x == 3, got %d", v)
	}
	if rec := a.table[x]; !rec.drained() || rec.headValid {
		t.Fatalf("record must be fully retired, got %+v", rec)
	}
	if got := a.Stats().HandOffs.Load(); got != 2 {
		t.Fatalf("expected 2 hand-offs, got %d", got)
	}
}

func TestStoreConditionalWithoutReservationFails(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	a.Store().Write(5, 10)

	a.HandleRequest(sc("2.1", 5, 99))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional without reservation must fail")
	}
	if v := a.Store().Read(5); v != 10 {
		t.Fatalf("failed store-conditional must not mutate the store, got %d", v)
	}
}

func TestStoreConditionalFromNonHeadFails(t *testing.T) {
	a, c := newAuthority(t, 8, true)

	a.HandleRequest(lr("2.1", 5))
	c.take()
	a.HandleRequest(lr("2.2", 5))
	c.take()

	// B is queued, not head
	a.HandleRequest(sc("2.2", 5, 7))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional from a queued non-head must fail")
	}
}

func TestWriteInvalidatesSoleOccupant(t *testing.T) {
	a, c := newAuthority(t, 8, true)

	a.HandleRequest(lr("2.1", 9))
	c.take()
	a.HandleRequest(write("2.4", 9, 100))
	c.take()

	rec := a.table[9]
	if !rec.drained() {
		t.Fatalf("sole-occupant record must be fully dropped on invalidation, got %+v", rec)
	}

	a.HandleRequest(sc("2.1", 9, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional after invalidation must fail")
	}
	if v := a.Store().Read(9); v != 100 {
		t.Fatalf("expected interleaved write to stick, got %d", v)
	}

	// drained record is reused by the next load-reserved
	a.HandleRequest(lr("2.2", 9))
	if r := c.reply(t); !r.OK || r.Value != 100 {
		t.Fatalf("reuse-after-drain must answer immediately, got %v", r)
	}
}

// invalidation only ever affects the current head, never the queue
// behind it: B still receives its hand-off after A's failed attempt.
func TestInvalidationLeavesQueuedSuccessorIntact(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	const x = relay.Addr(21)

	a.HandleRequest(lr("2.1", x))
	c.take()
	a.HandleRequest(lr("2.2", x))
	c.take()

	a.HandleRequest(write("2.4", x, 50))
	c.take()

	rec := a.table[x]
	if rec.headValid {
		t.Fatal("head must be invalidated by the interleaved write")
	}
	if !rec.tailValid || rec.tail != "2.2" {
		t.Fatalf("queued successor must be unaffected, got %+v", rec)
	}

	// A's one attempt fails, consuming its reservation; its relay node
	// then hands off to B as usual
	a.HandleRequest(sc("2.1", x, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("invalidated head's store-conditional must fail")
	}
	a.HandleRequest(handoff("2.1", "2.2", x))
	r := c.reply(t)
	if r.To != "2.2" || r.Value != 50 {
		t.Fatalf("B expected hand-off with value 50, got %v", r)
	}

	a.HandleRequest(sc("2.2", x, 51))
	if r := c.reply(t); !r.OK {
		t.Fatal("B's store-conditional must succeed after hand-off")
	}
}

func TestTableSaturationDegradesToPlainLoad(t *testing.T) {
	a, c := newAuthority(t, 1, true)
	a.Store().Write(2, 22)

	a.HandleRequest(lr("2.1", 1))
	c.take()

	// table is full with a live queue on addr 1: addr 2 degrades
	a.HandleRequest(lr("2.2", 2))
	r := c.reply(t)
	if !r.OK || r.Value != 22 {
		t.Fatalf("degraded load must still answer with the value, got %v", r)
	}
	if _, tracked := a.table[2]; tracked {
		t.Fatal("degraded address must not be tracked")
	}
	if got := a.Stats().DegradedLoads.Load(); got != 1 {
		t.Fatalf("expected 1 degraded load, got %d", got)
	}

	// degraded store-conditional fails but never blocks
	a.HandleRequest(sc("2.2", 2, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional on an untracked address must fail")
	}

	// draining addr 1 frees its slot for eviction
	a.HandleRequest(sc("2.1", 1, 5))
	c.take()
	a.HandleRequest(lr("2.2", 2))
	if r := c.reply(t); !r.OK {
		t.Fatalf("expected tracked load-reserved after drain, got %v", r)
	}
	if _, tracked := a.table[2]; !tracked {
		t.Fatal("address 2 must be tracked after evicting the drained record")
	}
}

func TestRoundTripIdempotence(t *testing.T) {
	a, c := newAuthority(t, 8, true)

	for i := 0; i < 3; i++ {
		a.HandleRequest(lr("2.1", 4))
		v := c.reply(t).Value
		a.HandleRequest(sc("2.1", 4, v+10))
		if r := c.reply(t); !r.OK {
			t.Fatalf("uncontended LR/SC pair %d must succeed", i)
		}
	}
	if v := a.Store().Read(4); v != 30 {
		t.Fatalf("expected 30 after three increments of 10, got %d", v)
	}
}

func TestAmoInvalidatesAndReturnsResult(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	a.Store().Write(6, 5)

	a.HandleRequest(lr("2.1", 6))
	c.take()

	a.HandleRequest(relay.MemRequest{Op: relay.OpAmo, Amo: relay.AmoAdd, Addr: 6, Value: 3, From: "2.2"})
	r := c.reply(t)
	if !r.OK || r.Value != 8 {
		t.Fatalf("amoadd expected result 8, got %v", r)
	}
	if v := a.Store().Read(6); v != 8 {
		t.Fatalf("expected stored 8, got %d", v)
	}

	a.HandleRequest(sc("2.1", 6, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional must fail after an interleaved atomic")
	}
}

func TestAmoSwapReturnsPriorValue(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	a.Store().Write(6, 5)

	a.HandleRequest(relay.MemRequest{Op: relay.OpAmo, Amo: relay.AmoSwap, Addr: 6, Value: 9, From: "2.1"})
	r := c.reply(t)
	if !r.OK || r.Value != 5 {
		t.Fatalf("amoswap expected prior value 5, got %v", r)
	}
	if v := a.Store().Read(6); v != 9 {
		t.Fatalf("expected stored 9, got %d", v)
	}
}

func TestUnsupportedAmoIsCallerError(t *testing.T) {
	a, c := newAuthority(t, 8, true)
	a.Store().Write(6, 5)

	a.HandleRequest(relay.MemRequest{Op: relay.OpAmo, Amo: relay.AmoOp(200), Addr: 6, Value: 9, From: "2.1"})
	if r := c.reply(t); r.OK {
		t.Fatal("unsupported atomic op must be refused")
	}
	if v := a.Store().Read(6); v != 5 {
		t.Fatalf("refused atomic must not mutate the store, got %d", v)
	}
}

func TestUnorderedBaseline(t *testing.T) {
	a, c := newAuthority(t, 8, false)

	a.HandleRequest(lr("2.1", 3))
	if r := c.reply(t); !r.OK {
		t.Fatal("baseline load-reserved must answer immediately")
	}
	// B's newer reservation displaces A's
	a.HandleRequest(lr("2.2", 3))
	if r := c.reply(t); !r.OK {
		t.Fatal("baseline load-reserved must answer immediately")
	}

	a.HandleRequest(sc("2.1", 3, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("displaced reservation must fail its store-conditional")
	}
	a.HandleRequest(sc("2.2", 3, 2))
	if r := c.reply(t); !r.OK {
		t.Fatal("newest reservation must commit")
	}
	if v := a.Store().Read(3); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestPokeInvalidatesLikeAWrite(t *testing.T) {
	a, c := newAuthority(t, 8, true)

	a.HandleRequest(lr("2.1", 8))
	c.take()

	a.Poke(8, 77)
	if len(c.take()) != 0 {
		t.Fatal("admin poke must not emit fabric messages")
	}

	a.HandleRequest(sc("2.1", 8, 1))
	if r := c.reply(t); r.OK {
		t.Fatal("store-conditional must fail after an admin poke")
	}
	if v := a.Store().Read(8); v != 77 {
		t.Fatalf("expected poked value 77, got %d", v)
	}
}
