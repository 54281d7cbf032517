package main

import (
	"flag"
	"sync"

	"github.com/memrelay/relay"
	"github.com/memrelay/relay/bank"
	"github.com/memrelay/relay/log"
)

var id = flag.String("id", "", "bank authority ID in format of Zone.Node")
var simulation = flag.Bool("sim", false, "run every configured bank authority in one process over simulated transports")

func run(id relay.ID) {
	log.Infof("bank authority %v starting...", id)
	bank.NewServer(id).Run()
}

func main() {
	relay.Init()

	if *simulation {
		relay.Simulation()
		var wg sync.WaitGroup
		wg.Add(1)
		for _, b := range relay.GetConfig().Banks {
			go run(b)
		}
		wg.Wait()
	} else {
		run(relay.ID(*id))
	}
}
