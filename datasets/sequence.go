package datasets

import (
	"math/rand"
	"sort"
)

// SequenceDataset is an indexable collection where sample i is the whole
// utterance sequence of the i-th session. The order is fixed at construction;
// samplers permute indices, never the dataset.
type SequenceDataset struct {
	sessions []*Session
}

// NewSequenceDataset wraps sessions in their given order.
func NewSequenceDataset(sessions []*Session) *SequenceDataset {
	return &SequenceDataset{sessions: append([]*Session(nil), sessions...)}
}

// Len returns the number of sessions.
func (d *SequenceDataset) Len() int { return len(d.sessions) }

// Sample returns the i-th session.
func (d *SequenceDataset) Sample(i int) *Session { return d.sessions[i] }

// Sessions returns the sessions in dataset order.
func (d *SequenceDataset) Sessions() []*Session { return d.sessions }

// IDs returns the session ids in dataset order.
func (d *SequenceDataset) IDs() []string {
	ids := make([]string, len(d.sessions))
	for i, s := range d.sessions {
		ids[i] = s.ID
	}
	return ids
}

// Width returns the concatenated feature width, or 0 if it cannot be told
// because no session has an utterance.
func (d *SequenceDataset) Width() int {
	for _, s := range d.sessions {
		if s.Len() > 0 {
			return len(s.Text[0]) + len(s.Audio[0]) + len(s.Visual[0])
		}
	}
	return 0
}

// Rows flattens every utterance of every session into concatenated rows.
func (d *SequenceDataset) Rows() [][]float32 {
	var rows [][]float32
	for _, s := range d.sessions {
		rows = append(rows, s.Rows()...)
	}
	return rows
}

// Batch collates the sessions at indices into one padded batch.
func (d *SequenceDataset) Batch(indices []int) (*Batch, error) {
	samples := make([]*Session, len(indices))
	for i, idx := range indices {
		samples[i] = d.sessions[idx]
	}
	return Collate(samples)
}

// Split returns the validation sessions (the first int(valid*Len()) sessions)
// and the remaining training sessions.
func (d *SequenceDataset) Split(valid float64) (train, validation *SequenceDataset) {
	split := int(valid * float64(len(d.sessions)))
	if split < 0 {
		split = 0
	}
	if split > len(d.sessions) {
		split = len(d.sessions)
	}
	return NewSequenceDataset(d.sessions[split:]), NewSequenceDataset(d.sessions[:split])
}

// Subsample keeps int(rate*Len()) sessions chosen with seed, preserving their
// relative order. A rate of 1 or more returns d unchanged; at least one session
// is kept from a non-empty dataset.
func (d *SequenceDataset) Subsample(rate float64, seed int64) *SequenceDataset {
	n := len(d.sessions)
	if rate >= 1 || n == 0 {
		return d
	}
	keep := int(rate * float64(n))
	if keep < 1 {
		keep = 1
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)[:keep]
	sort.Ints(perm)
	out := make([]*Session, keep)
	for i, idx := range perm {
		out[i] = d.sessions[idx]
	}
	return &SequenceDataset{sessions: out}
}

// Map returns a dataset whose sessions have fn applied to their concatenated
// rows. The receiver is left untouched.
func (d *SequenceDataset) Map(fn func(rows [][]float32) ([][]float32, error)) (*SequenceDataset, error) {
	out := make([]*Session, len(d.sessions))
	for i, s := range d.sessions {
		rows, err := fn(s.Rows())
		if err != nil {
			return nil, err
		}
		if out[i], err = s.WithRows(rows); err != nil {
			return nil, err
		}
	}
	return &SequenceDataset{sessions: out}, nil
}
