package relay

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/memrelay/relay/log"
)

// Stat summarizes per-operation latencies of one benchmark run
type Stat struct {
	Data   []float64 // latency samples in ms
	Size   int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
	P95    float64
	P99    float64
}

// WriteFile dumps the raw samples to a new file in path
func (s Stat) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range s.Data {
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func (s Stat) String() string {
	return fmt.Sprintf("size = %d\nmean = %f\nstddev = %f\nmin = %f\nmax = %f\nmedian = %f\np95 = %f\np99 = %f\n",
		s.Size, s.Mean, s.StdDev, s.Min, s.Max, s.Median, s.P95, s.P99)
}

// Statistic creates a Stat object from raw latency data
func Statistic(latency []time.Duration) Stat {
	if len(latency) == 0 {
		return Stat{Data: []float64{}}
	}

	ms := make([]float64, len(latency))
	for i, l := range latency {
		ms[i] = float64(l.Nanoseconds()) / 1000000.0
	}

	stat := Stat{
		Data: ms,
		Size: len(ms),
	}

	var err error
	if stat.Mean, err = stats.Mean(ms); err != nil {
		log.Error(err)
	}
	if stat.StdDev, err = stats.StandardDeviation(ms); err != nil {
		log.Error(err)
	}
	if stat.Min, err = stats.Min(ms); err != nil {
		log.Error(err)
	}
	if stat.Max, err = stats.Max(ms); err != nil {
		log.Error(err)
	}
	if stat.Median, err = stats.Median(ms); err != nil {
		log.Error(err)
	}
	if stat.P95, err = stats.Percentile(ms, 95); err != nil {
		log.Error(err)
	}
	if stat.P99, err = stats.Percentile(ms, 99); err != nil {
		log.Error(err)
	}
	return stat
}
