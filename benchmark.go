package relay

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/memrelay/relay/log"
)

// Benchmark drives contended memory workloads against the deployment.
// Every worker owns one relay node, so concurrency equals the number of
// participating relay nodes.
type Benchmark struct {
	BenchmarkConfig

	ops     atomic.Uint64 // completed operations
	retries atomic.Uint64 // failed store-conditionals retried by the lrsc workload

	latency []time.Duration
	lock    sync.Mutex // guarding latency
	wait    sync.WaitGroup
}

// NewBenchmark returns a benchmark driver over the configured workload
func NewBenchmark() *Benchmark {
	return &Benchmark{
		BenchmarkConfig: config.Benchmark,
	}
}

// Run starts the benchmark and blocks until it finishes, then logs the
// latency summary and dumps the raw samples to the latency file.
func (b *Benchmark) Run() {
	participants := config.Participants()
	if b.Concurrency > len(participants) {
		log.Fatalf("benchmark concurrency %d exceeds the %d configured participants", b.Concurrency, len(participants))
	}

	b.latency = make([]time.Duration, 0, 100000)
	var deadline time.Time
	if b.N == 0 {
		deadline = time.Now().Add(time.Duration(b.T) * time.Second)
	}

	log.Infof("benchmark starting: workload=%s concurrency=%d keys=%d", b.Workload, b.Concurrency, b.K)
	start := time.Now()

	for i := 0; i < b.Concurrency; i++ {
		b.wait.Add(1)
		go b.worker(i, NewRelayNode(participants[i]), deadline)
	}
	b.wait.Wait()

	elapsed := time.Since(start)
	ops := b.ops.Load()
	stat := Statistic(b.latency)
	log.Infof("benchmark finished: %d ops in %v (%f ops/s), %d sc retries",
		ops, elapsed, float64(ops)/elapsed.Seconds(), b.retries.Load())
	log.Info(stat)

	if err := stat.WriteFile("latency"); err != nil {
		log.Errorf("failed to write latency file: %v", err)
	}
}

func (b *Benchmark) worker(i int, node *RelayNode, deadline time.Time) {
	defer b.wait.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
	var interval time.Duration
	if b.Throttle > 0 {
		interval = time.Second / time.Duration(b.Throttle)
	}

	for n := 0; b.N == 0 || n < b.N; n++ {
		if b.N == 0 && time.Now().After(deadline) {
			return
		}

		addr := b.pick(i, rng)
		s := time.Now()
		b.do(node, addr, rng)
		d := time.Since(s)

		b.ops.Inc()
		b.lock.Lock()
		b.latency = append(b.latency, d)
		b.lock.Unlock()

		if interval > 0 && d < interval {
			time.Sleep(interval - d)
		}
	}
}

// pick draws the next address. The conflict distribution aims
// Conflicts% of operations at the shared range and the rest at a range
// private to this worker.
func (b *Benchmark) pick(i int, rng *rand.Rand) Addr {
	switch b.Distribution {
	case "conflict":
		if rng.Intn(100) < b.Conflicts {
			return Addr(b.Min + rng.Intn(b.K))
		}
		return Addr(b.Min + b.K + i*b.K + rng.Intn(b.K))
	default: // uniform
		return Addr(b.Min + rng.Intn(b.K))
	}
}

func (b *Benchmark) do(node *RelayNode, addr Addr, rng *rand.Rand) {
	switch b.Workload {
	case "histogram":
		// atomic histogram bin increment
		if _, err := node.AtomicOp(AmoAdd, addr, 1); err != nil {
			log.Error(err)
		}

	case "rw":
		if rng.Float64() < b.W {
			node.Write(addr, Value(rng.Uint32()))
		} else {
			node.Read(addr)
		}

	default: // lrsc: fetch-and-increment through LR/SC
		for {
			v, err := node.LoadReserved(addr)
			if err != nil {
				log.Fatalf("benchmark worker %s: %v", node.ID(), err)
			}
			ok, err := node.StoreConditional(addr, v+1)
			if err != nil {
				log.Fatalf("benchmark worker %s: %v", node.ID(), err)
			}
			if ok {
				return
			}
			b.retries.Inc()
		}
	}
}
