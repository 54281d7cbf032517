package relay

import (
	"fmt"

	"github.com/memrelay/relay/encoder"
)

func init() {
	encoder.Register(MemRequest{})
	encoder.Register(MemReply{})
	encoder.Register(SuccessorUpdate{})
}

// MemOp identifies the kind of memory request
type MemOp uint8

const (
	OpRead MemOp = iota
	OpWrite
	OpLoadReserved
	OpStoreConditional
	OpHandOff
	OpAmo
)

var opNames = []string{
	OpRead:             "read",
	OpWrite:            "write",
	OpLoadReserved:     "lr",
	OpStoreConditional: "sc",
	OpHandOff:          "handoff",
	OpAmo:              "amo",
}

func (op MemOp) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// MemRequest is a request delivered by the fabric to the bank authority
// owning Addr. Value carries the store value for writes and
// store-conditionals and the operand for atomics. Next is only set for
// hand-off requests and names the successor that becomes the new head.
type MemRequest struct {
	Op    MemOp `msgpack:"o"`
	Amo   AmoOp `msgpack:"a"`
	Addr  Addr  `msgpack:"d"`
	Value Value `msgpack:"v"`
	From  ID    `msgpack:"f"`
	Next  ID    `msgpack:"n,omitempty"`
}

func (m MemRequest) String() string {
	if m.Op == OpHandOff {
		return fmt.Sprintf("MemRequest {handoff addr=%d from=%s next=%s}", m.Addr, m.From, m.Next)
	}
	if m.Op == OpAmo {
		return fmt.Sprintf("MemRequest {%s addr=%d operand=%d from=%s}", m.Amo, m.Addr, m.Value, m.From)
	}
	return fmt.Sprintf("MemRequest {%s addr=%d v=%d from=%s}", m.Op, m.Addr, m.Value, m.From)
}

// MemReply is routed back by the fabric to the relay node named in To.
// The authority matches replies to the request's carried identity, not
// program order: the reply for a hand-off goes to the successor, never
// to the retiring node that issued it.
type MemReply struct {
	Op    MemOp `msgpack:"o"`
	Addr  Addr  `msgpack:"d"`
	Value Value `msgpack:"v"`
	OK    bool  `msgpack:"k"`
	To    ID    `msgpack:"t"`
}

func (m MemReply) String() string {
	return fmt.Sprintf("MemReply {%s addr=%d v=%d ok=%t to=%s}", m.Op, m.Addr, m.Value, m.OK, m.To)
}

// SuccessorUpdate tells the previous tail of an address's reservation
// queue the identity of the participant now queued behind it. The
// receiving relay node stores Next privately and hands the reservation
// off to it once its own reservation retires.
type SuccessorUpdate struct {
	Addr Addr `msgpack:"d"`
	Next ID   `msgpack:"n"`
}

func (m SuccessorUpdate) String() string {
	return fmt.Sprintf("SuccessorUpdate {addr=%d next=%s}", m.Addr, m.Next)
}
