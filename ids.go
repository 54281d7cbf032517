package relay

import (
	"strconv"
	"strings"

	"github.com/memrelay/relay/log"
)

// ID represents a node identity in format of "Zone.Node".
// Bank authorities and relay nodes share one identity space; the zone
// conventionally separates the two roles in deployment configs, but
// nothing in the protocol depends on it.
type ID string

// NewID returns a new ID type given two integers
func NewID(zone, node int) ID {
	if zone < 0 {
		zone = -zone
	}
	if node < 0 {
		node = -node
	}
	return ID(strconv.Itoa(zone) + "." + strconv.Itoa(node))
}

// Zone returns the zone ID component
func (i ID) Zone() int {
	if !strings.Contains(string(i), ".") {
		log.Warningf("id %s does not contain \".\"", i)
		return 0
	}
	s := strings.Split(string(i), ".")[0]
	zone, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Errorf("failed to convert Zone %s to int", s)
		return 0
	}
	return int(zone)
}

// Node returns the node ID component
func (i ID) Node() int {
	var s string
	if !strings.Contains(string(i), ".") {
		log.Warningf("id %s does not contain \".\"", i)
		s = string(i)
	} else {
		s = strings.Split(string(i), ".")[1]
	}
	node, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Errorf("failed to convert Node %s to int", s)
		return 0
	}
	return int(node)
}
