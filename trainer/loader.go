package trainer

import (
	"math/rand"

	"github.com/Noofbiz/hazumi/datasets"
)

// BatchSource yields the batches of one epoch.
type BatchSource interface {
	Batches() ([]*datasets.Batch, error)
}

// Loader groups a dataset's sessions into padded batches. With shuffle set,
// each call to Batches draws a fresh permutation from a seeded generator
// (a random sampler); otherwise sessions are taken in dataset order.
type Loader struct {
	dataset   datasets.Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader returns a loader over every session of ds.
func NewLoader(ds datasets.Dataset, batchSize int, shuffle bool, seed int64) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.dataset.Len()
	return (n + l.batchSize - 1) / l.batchSize
}

// Batches collates one epoch. An empty dataset yields no batches.
func (l *Loader) Batches() ([]*datasets.Batch, error) {
	n := l.dataset.Len()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	batches := make([]*datasets.Batch, 0, l.Len())
	for start := 0; start < n; start += l.batchSize {
		end := start + l.batchSize
		if end > n {
			end = n
		}
		b, err := l.dataset.Batch(indices[start:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
