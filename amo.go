package relay

import "fmt"

// AmoOp identifies a read-modify-write operation of the atomic unit
type AmoOp uint8

const (
	AmoSwap AmoOp = iota
	AmoAdd
	AmoAnd
	AmoOr
	AmoXor
	AmoMin
	AmoMax
	AmoMinU
	AmoMaxU
)

var amoNames = map[AmoOp]string{
	AmoSwap: "amoswap",
	AmoAdd:  "amoadd",
	AmoAnd:  "amoand",
	AmoOr:   "amoor",
	AmoXor:  "amoxor",
	AmoMin:  "amomin",
	AmoMax:  "amomax",
	AmoMinU: "amominu",
	AmoMaxU: "amomaxu",
}

func (op AmoOp) String() string {
	if s, ok := amoNames[op]; ok {
		return s
	}
	return fmt.Sprintf("amo(%d)", uint8(op))
}

// ApplyAmo runs the stateless atomic unit: it consumes the previously
// stored word and the operand, and produces the word to store plus the
// value returned to the requester. Swap returns the prior word, every
// other operation returns the computed result. An unknown op is a
// caller error.
func ApplyAmo(op AmoOp, old, operand Value) (Value, Value, error) {
	switch op {
	case AmoSwap:
		return operand, old, nil
	case AmoAdd:
		n := old + operand
		return n, n, nil
	case AmoAnd:
		n := old & operand
		return n, n, nil
	case AmoOr:
		n := old | operand
		return n, n, nil
	case AmoXor:
		n := old ^ operand
		return n, n, nil
	case AmoMin:
		n := old
		if int32(operand) < int32(old) {
			n = operand
		}
		return n, n, nil
	case AmoMax:
		n := old
		if int32(operand) > int32(old) {
			n = operand
		}
		return n, n, nil
	case AmoMinU:
		n := old
		if operand < old {
			n = operand
		}
		return n, n, nil
	case AmoMaxU:
		n := old
		if operand > old {
			n = operand
		}
		return n, n, nil
	}
	return old, 0, fmt.Errorf("unsupported atomic operation %d", uint8(op))
}
