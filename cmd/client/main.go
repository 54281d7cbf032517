package main

import (
	"flag"

	"github.com/memrelay/relay"
)

var workload = flag.String("bench", "", "override the configured benchmark workload: lrsc, histogram, or rw")

func main() {
	relay.Init()

	bench := relay.NewBenchmark()
	if *workload != "" {
		bench.Workload = *workload
	}
	bench.Run()
}
