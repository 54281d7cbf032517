package relay

import (
	"encoding/json"
	"flag"
	"os"
	"sort"

	"github.com/memrelay/relay/log"
)

var configFile = flag.String("config", "config.json", "Configuration file for memrelay deployment. Defaults to config.json.")

// Config holds the deployment configuration: the fabric addresses of
// every bank authority and relay node, the partitioning of the address
// space across banks, and the reservation-protocol knobs.
type Config struct {
	Addrs     map[ID]string `json:"address"`      // fabric address of every node, banks and participants alike
	HTTPAddrs map[ID]string `json:"http_address"` // admin API address per bank authority

	Banks []ID `json:"banks"` // bank authority IDs, one per memory partition

	ReservationTableSize int  `json:"reservation_table_size"` // max addresses tracked per bank; 0 means DefaultReservationTableSize
	RelayEnabled         bool `json:"relay_enabled"`          // false falls back to unordered LR/SC (baseline mode)
	InterleaveStride     int  `json:"interleave_stride"`      // consecutive words per bank stripe; 0 means 1

	ChanBufferSize int `json:"chan_buffer_size"` // buffer size for channels
	BufferSize     int `json:"buffer_size"`      // buffer size for maps

	Benchmark BenchmarkConfig `json:"benchmark"` // benchmark configuration

	// simulation mode runs every node in one process over chan transports
	n   int
	sim bool
}

// DefaultReservationTableSize bounds the per-bank reservation table
// when the config leaves it unset.
const DefaultReservationTableSize = 64

// config is the global configuration shared by the whole process
var config = MakeDefaultConfig()

// GetConfig returns the global configuration
func GetConfig() *Config {
	return &config
}

// Simulation switches every transport to the chan scheme so that all
// nodes run in one process
func Simulation() {
	config.sim = true
}

// MakeDefaultConfig returns a single-bank, two-participant local config
func MakeDefaultConfig() Config {
	return Config{
		Addrs: map[ID]string{
			"1.1": "tcp://127.0.0.1:1735",
			"2.1": "tcp://127.0.0.1:2735",
			"2.2": "tcp://127.0.0.1:2736",
		},
		HTTPAddrs:            map[ID]string{"1.1": "http://127.0.0.1:8080"},
		Banks:                []ID{"1.1"},
		ReservationTableSize: DefaultReservationTableSize,
		RelayEnabled:         true,
		InterleaveStride:     1,
		ChanBufferSize:       1024,
		BufferSize:           1024,
		Benchmark:            DefaultBConfig(),
		n:                    3,
	}
}

// IsBank reports whether id is one of the configured bank authorities
func (c Config) IsBank(id ID) bool {
	for _, b := range c.Banks {
		if b == id {
			return true
		}
	}
	return false
}

// Participants returns the IDs of all non-bank nodes in a stable order
func (c Config) Participants() []ID {
	ids := make([]ID, 0, len(c.Addrs))
	for id := range c.Addrs {
		if !c.IsBank(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Zone() != ids[j].Zone() {
			return ids[i].Zone() < ids[j].Zone()
		}
		return ids[i].Node() < ids[j].Node()
	})
	return ids
}

// N returns the total number of nodes on the fabric
func (c Config) N() int {
	return c.n
}

// Load loads the configuration from the file in the config flag
func (c *Config) Load() {
	file, err := os.Open(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	if err = decoder.Decode(c); err != nil {
		log.Fatal(err)
	}
	if c.ReservationTableSize <= 0 {
		c.ReservationTableSize = DefaultReservationTableSize
	}
	if c.InterleaveStride <= 0 {
		c.InterleaveStride = 1
	}
	if len(c.Banks) == 0 {
		log.Fatal("config contains no bank authority")
	}
	c.n = len(c.Addrs)
}

// Save saves the configuration to the file in the config flag
func (c Config) Save() error {
	file, err := os.Create(*configFile)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	return encoder.Encode(c)
}

func (c Config) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		log.Error(err)
		return ""
	}
	return string(b)
}
