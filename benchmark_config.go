package relay

// BenchmarkConfig holds the workload-driver configuration
type BenchmarkConfig struct {
	Workload     string  // lrsc, histogram, or rw
	T            int     // total running time in seconds, using N if 0
	N            int     // total number of operations per participant
	K            int     // accessed address space [Min, Min+K)
	Min          int     // lowest address
	W            float64 // write ratio for the rw workload
	Concurrency  int     // number of participants issuing operations
	Distribution string  // address distribution: uniform or conflict
	Conflicts    int     // percentage of operations aimed at the shared range [1,100]
	Throttle     int     // operations per second per participant, unused if 0
}

// DefaultBConfig returns a default benchmark config
func DefaultBConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Workload:     "lrsc",
		T:            10,
		N:            0,
		K:            16,
		Min:          0,
		W:            0.5,
		Concurrency:  2,
		Distribution: "uniform",
		Conflicts:    100,
		Throttle:     0,
	}
}
