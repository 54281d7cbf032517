package bank

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/memrelay/relay"
	"github.com/memrelay/relay/log"
)

// statsSnapshot is the JSON shape of the /stats endpoint
type statsSnapshot struct {
	Bank          relay.ID `json:"bank"`
	Tracked       int32    `json:"tracked"`
	DegradedLoads uint64   `json:"degraded_loads"`
	HandOffs      uint64   `json:"handoffs"`
	CommittedSC   uint64   `json:"committed_sc"`
	FailedSC      uint64   `json:"failed_sc"`
	Invalidations uint64   `json:"invalidations"`
	StoreVersion  uint64   `json:"store_version"`
}

// serveHTTP runs the fasthttp admin API of this bank, if the config
// assigns it an address. Peeks read the store directly; pokes go
// through the engine loop so invalidation fires like any other write.
func (s *Server) serveHTTP() {
	address, ok := relay.GetConfig().HTTPAddrs[s.ID()]
	if !ok || address == "" {
		return
	}
	httpURL, err := url.Parse(address)
	if err != nil {
		log.Fatal("http url parse error: ", err)
	}
	port := ":" + httpURL.Port()

	log.Infof("bank %s admin api starting on %s", s.ID(), port)
	log.Fatal(fasthttp.ListenAndServe(port, s.handleHTTP))
}

func (s *Server) handleHTTP(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/":
		s.handleWord(ctx)
	case "/stats":
		s.handleStats(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleWord(ctx *fasthttp.RequestCtx) {
	addrArg, err := strconv.ParseUint(string(ctx.QueryArgs().Peek("addr")), 10, 32)
	if err != nil {
		ctx.Error("missing or malformed addr argument", fasthttp.StatusBadRequest)
		return
	}
	addr := relay.Addr(addrArg)

	if ctx.IsGet() {
		v := s.Store().Read(addr)
		ctx.SetBodyString(strconv.FormatUint(uint64(v), 10))
		return
	}

	valueArg, err := strconv.ParseUint(string(ctx.QueryArgs().Peek("value")), 10, 32)
	if err != nil {
		ctx.Error("missing or malformed value argument", fasthttp.StatusBadRequest)
		return
	}

	done := make(chan struct{})
	s.admin <- func() {
		s.Poke(addr, relay.Value(valueArg))
		close(done)
	}
	<-done
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	st := s.Stats()
	snapshot := statsSnapshot{
		Bank:          s.ID(),
		Tracked:       st.Tracked.Load(),
		DegradedLoads: st.DegradedLoads.Load(),
		HandOffs:      st.HandOffs.Load(),
		CommittedSC:   st.CommittedSC.Load(),
		FailedSC:      st.FailedSC.Load(),
		Invalidations: st.Invalidations.Load(),
		StoreVersion:  s.Store().Version(),
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}
