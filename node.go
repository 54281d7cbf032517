package relay

import (
	"reflect"

	"github.com/memrelay/relay/log"
)

// Node is the harness shared by fabric-attached servers: it couples a
// socket with a message-handler registry and a mailbox loop. Handlers
// for one node run strictly one at a time, which is what gives a bank
// authority its single-threaded-per-partition execution model.
type Node interface {
	Socket
	ID() ID
	Run()
	Register(m interface{}, f interface{})
}

// node implements Node interface
type node struct {
	id ID

	Socket
	MessageChan chan interface{}
	handles     map[string]reflect.Value
}

// NewNode creates a new Node object from configuration
func NewNode(id ID) Node {
	return &node{
		id:          id,
		Socket:      NewSocket(id, config.Addrs),
		MessageChan: make(chan interface{}, config.ChanBufferSize),
		handles:     make(map[string]reflect.Value),
	}
}

func (n *node) ID() ID {
	return n.id
}

// Register a handle function for each message type
func (n *node) Register(m interface{}, f interface{}) {
	t := reflect.TypeOf(m)
	fn := reflect.ValueOf(f)
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 1 || (fn.Type().In(0).Kind() != reflect.Interface && fn.Type().In(0) != t) {
		panic("register handle function error")
	}
	n.handles[t.String()] = fn
}

// Run starts the socket receiver and the handler loop
func (n *node) Run() {
	log.Infof("node %v start running", n.id)
	go n.recv()
	n.handle()
}

// recv receives messages from socket and passes them to the mailbox
func (n *node) recv() {
	for {
		m := n.Recv()
		if len(n.MessageChan) == cap(n.MessageChan) {
			log.Warningf("node %v mailbox is full (len=%d)", n.id, len(n.MessageChan))
		}
		n.MessageChan <- m
	}
}

// handle runs the mailbox loop, one message to completion at a time
func (n *node) handle() {
	for {
		msg := <-n.MessageChan
		v := reflect.ValueOf(msg)
		name := v.Type().String()
		f, exists := n.handles[name]
		if !exists {
			log.Errorf("no registered handle function for message type %v", name)
			continue
		}
		f.Call([]reflect.Value{v})
	}
}
