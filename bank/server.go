package bank

import (
	"github.com/memrelay/relay"
)

// Server runs one bank authority on the routing fabric: it feeds fabric
// requests through a single mailbox into the engine and serves the
// admin HTTP API.
type Server struct {
	relay.Node
	*Authority

	requests chan relay.MemRequest
	admin    chan func()
}

// NewServer creates the server for the partition with the given id
func NewServer(id relay.ID) *Server {
	s := &Server{
		requests: make(chan relay.MemRequest, relay.GetConfig().ChanBufferSize),
		admin:    make(chan func()),
	}
	s.Node = relay.NewNode(id)
	s.Authority = NewAuthority(id, relay.NewStore(), s.Node)

	s.Register(relay.MemRequest{}, s.enqueueRequest)

	return s
}

func (s *Server) enqueueRequest(m relay.MemRequest) {
	s.requests <- m
}

// run is the engine loop. Admin operations are funneled through the
// same loop so they serialize with fabric requests.
func (s *Server) run() {
	for {
		select {
		case m := <-s.requests:
			s.HandleRequest(m)
		case f := <-s.admin:
			f()
		}
	}
}

// Run starts the engine loop, the admin API and the fabric receiver
func (s *Server) Run() {
	go s.run()
	go s.serveHTTP()
	s.Node.Run()
}
