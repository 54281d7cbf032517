package relay

import (
	"flag"

	"github.com/memrelay/relay/log"
)

// Init sets up the relay package: it parses the command line flags,
// configures logging and loads the deployment configuration.
func Init() {
	flag.Parse()
	log.Setup()
	config.Load()
}
