// Package monte estimates the uncertainty of cross-validated scores by Monte
// Carlo resampling of the per-fold values.
package monte

import (
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Interval is a percentile bootstrap confidence interval for a mean.
type Interval struct {
	Mean      float64 `json:"mean"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Level     float64 `json:"level"`
	Resamples int     `json:"resamples"`

	// Used is the number of finite values the interval was computed from.
	Used int `json:"used"`
}

// Monte draws bootstrap resamples of a score vector. Resamples run on a worker
// pool; each draws from its own generator seeded up front, so results do not
// depend on scheduling.
type Monte struct {
	Resamples int

	// Level is the two-sided confidence level, e.g. 0.95.
	Level float64

	// Workers bounds the pool. Zero means runtime.NumCPU().
	Workers int

	rng *rand.Rand
}

// NewMonte creates a bootstrap estimator with a 95% level.
// resamples must be >= 1.
func NewMonte(resamples int, seed int64) (*Monte, error) {
	if resamples < 1 {
		return nil, errors.Errorf("resamples must be >= 1, got %d", resamples)
	}
	return &Monte{
		Resamples: resamples,
		Level:     0.95,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// SetLevel sets the confidence level; it must lie in (0, 1).
func (m *Monte) SetLevel(level float64) error {
	if level <= 0 || level >= 1 {
		return errors.Errorf("level must be in (0, 1), got %v", level)
	}
	m.Level = level
	return nil
}

// Resample returns the means of Resamples bootstrap draws of values. NaN
// entries (folds without test data) are dropped first.
func (m *Monte) Resample(values []float64) ([]float64, error) {
	if m == nil {
		return nil, errors.New("Monte object is nil")
	}
	data := finite(values)
	if len(data) == 0 {
		return nil, errors.New("no finite values to resample")
	}

	seeds := make([]int64, m.Resamples)
	for i := range seeds {
		seeds[i] = m.rng.Int63()
	}

	workers := m.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > m.Resamples {
		workers = m.Resamples
	}

	means := make([]float64, m.Resamples)
	jobs := make(chan int, m.Resamples)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for r := range jobs {
				rng := rand.New(rand.NewSource(seeds[r]))
				var sum float64
				for range data {
					sum += data[rng.Intn(len(data))]
				}
				means[r] = sum / float64(len(data))
			}
		}()
	}
	for r := 0; r < m.Resamples; r++ {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	return means, nil
}

// MeanCI returns the sample mean of values with a percentile bootstrap
// interval around it.
func (m *Monte) MeanCI(values []float64) (Interval, error) {
	means, err := m.Resample(values)
	if err != nil {
		return Interval{}, err
	}
	data := finite(values)
	mean, err := stats.Mean(data)
	if err != nil {
		return Interval{}, errors.Wrap(err, "mean")
	}

	tail := (1 - m.Level) / 2 * 100
	low, err := stats.PercentileNearestRank(means, tail)
	if err != nil {
		return Interval{}, errors.Wrap(err, "lower percentile")
	}
	high, err := stats.PercentileNearestRank(means, 100-tail)
	if err != nil {
		return Interval{}, errors.Wrap(err, "upper percentile")
	}
	return Interval{
		Mean:      mean,
		Low:       low,
		High:      high,
		Level:     m.Level,
		Resamples: m.Resamples,
		Used:      len(data),
	}, nil
}

func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
