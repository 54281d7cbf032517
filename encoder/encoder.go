// Package encoder frames protocol messages on the fabric wire. Each
// message is a registered-type byte, a big-endian uint32 body length,
// and a msgpack body. Register every message type during init, before
// any transport starts; registration is not safe for concurrent use.
package encoder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

var types []reflect.Type
var codes map[reflect.Type]byte

func init() {
	codes = make(map[reflect.Type]byte)
}

// Register assigns the next type code to the concrete type of v.
// Both ends of a connection must register the same types in the same
// order.
func Register(v interface{}) {
	if len(types) > math.MaxUint8 {
		panic("encoder: too many registered types")
	}
	t := reflect.TypeOf(v)
	if _, dup := codes[t]; dup {
		panic(fmt.Sprintf("encoder: type %v registered twice", t))
	}
	codes[t] = byte(len(types))
	types = append(types, t)
}

// Encode writes one framed message to w and flushes it
func Encode(w *bufio.Writer, v interface{}) error {
	code, ok := codes[reflect.TypeOf(v)]
	if !ok {
		return fmt.Errorf("encoder: can not encode unregistered type %v", reflect.TypeOf(v))
	}

	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > math.MaxUint32 {
		return fmt.Errorf("encoder: message of %d bytes is too long", len(body))
	}

	var header [5]byte
	header[0] = code
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err = w.Write(header[:]); err != nil {
		return err
	}
	if _, err = w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

// Decode reads one framed message from r and returns it as a value of
// the registered type.
func Decode(r *bufio.Reader) (interface{}, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	code := header[0]
	if int(code) >= len(types) {
		return nil, fmt.Errorf("encoder: unregistered type code %d", code)
	}
	length := binary.BigEndian.Uint32(header[1:])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	v := reflect.New(types[code]).Interface()
	if err := msgpack.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return reflect.ValueOf(v).Elem().Interface(), nil
}
