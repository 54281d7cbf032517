package relay

import (
	"bufio"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/memrelay/relay/encoder"
	"github.com/memrelay/relay/log"
)

// Transport = transport layer under the routing fabric
type Transport interface {
	// Scheme returns transport scheme
	Scheme() string

	// Send sends message into the transport
	Send(interface{})

	// Recv waits for the next incoming message
	Recv() interface{}

	// Dial connects to the destination address
	Dial() error

	// Listen waits for incoming connections
	Listen()

	// Close closes the underlying connections
	Close()
}

// NewTransport creates a new transport instance given an address in
// scheme://host:port format. Supported schemes are tcp and chan; chan
// delivers messages through in-process channels and backs simulation
// mode.
func NewTransport(addr string) Transport {
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}
	uri, err := url.Parse(addr)
	if err != nil {
		log.Fatalf("error parsing address %s: %s", addr, err)
	}

	if GetConfig().sim {
		return &simulated{addr: uri.Host + uri.Path}
	}

	transport := &transport{
		uri:   uri,
		send:  make(chan interface{}, config.ChanBufferSize),
		recv:  make(chan interface{}, config.ChanBufferSize),
		close: make(chan struct{}),
	}

	switch uri.Scheme {
	case "chan":
		return &simulated{addr: uri.Host + uri.Path}
	case "tcp":
		return &tcp{transport}
	default:
		log.Fatalf("unknown transport scheme %s", uri.Scheme)
	}
	return nil
}

type transport struct {
	uri   *url.URL
	send  chan interface{}
	recv  chan interface{}
	close chan struct{}
}

func (t *transport) Scheme() string {
	return t.uri.Scheme
}

func (t *transport) Send(m interface{}) {
	t.send <- m
}

func (t *transport) Recv() interface{} {
	return <-t.recv
}

func (t *transport) Close() {
	close(t.close)
}

/******************************
/*     TCP communication      *
/******************************/

type tcp struct {
	*transport
}

func (t *tcp) Dial() error {
	conn, err := net.Dial("tcp", t.uri.Host)
	if err != nil {
		return err
	}

	go func(conn net.Conn) {
		defer conn.Close()
		w := bufio.NewWriter(conn)
		for {
			select {
			case <-t.close:
				return
			case m := <-t.send:
				if err := encoder.Encode(w, m); err != nil {
					log.Errorf("failed to send message %v: %s", m, err)
					return
				}
			}
		}
	}(conn)

	return nil
}

func (t *tcp) Listen() {
	log.Debugf("start listening on port %s", t.uri.Port())
	listener, err := net.Listen("tcp", ":"+t.uri.Port())
	if err != nil {
		log.Fatalf("tcp listener error: %s", err)
	}

	go func(listener net.Listener) {
		defer listener.Close()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.close:
					return
				default:
					log.Errorf("tcp accept error: %s", err)
					continue
				}
			}

			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					m, err := encoder.Decode(r)
					if err != nil {
						log.Debugf("connection from %s closed: %s", conn.RemoteAddr(), err)
						return
					}
					t.recv <- m
				}
			}(conn)
		}
	}(listener)
}

/*******************************
/* Simulated communication     *
/*******************************/

var simInboxes = make(map[string]chan interface{})
var simLock sync.RWMutex

// simulated transport delivers messages through process-local channels
type simulated struct {
	addr string
	peer chan interface{}
}

func (s *simulated) Scheme() string {
	return "chan"
}

func (s *simulated) Send(m interface{}) {
	s.peer <- m
}

func (s *simulated) Recv() interface{} {
	simLock.RLock()
	inbox := simInboxes[s.addr]
	simLock.RUnlock()
	return <-inbox
}

func (s *simulated) Dial() error {
	simLock.RLock()
	defer simLock.RUnlock()
	inbox, exists := simInboxes[s.addr]
	if !exists {
		return ErrNotListening
	}
	s.peer = inbox
	return nil
}

func (s *simulated) Listen() {
	simLock.Lock()
	defer simLock.Unlock()
	if _, exists := simInboxes[s.addr]; !exists {
		simInboxes[s.addr] = make(chan interface{}, config.ChanBufferSize)
	}
}

func (s *simulated) Close() {}
