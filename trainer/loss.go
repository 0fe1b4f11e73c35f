package trainer

import (
	"github.com/pkg/errors"
)

// LossFunc computes a scalar batch loss and its gradient w.r.t. the
// log-probabilities.
type LossFunc interface {
	Compute(logProbs [][][]float64, labels [][]int, mask [][]float32) (loss float64, grad [][][]float64, err error)
}

// MaskedNLL is the negative log-likelihood over real timesteps only:
//
//	loss = sum_{i,t} w[y] * mask * -logp[y] / sum_{i,t} w[y] * mask
//
// with w = Weights when set (class-imbalance weighting) and 1 otherwise.
// Padded timesteps contribute nothing to either sum.
type MaskedNLL struct {
	Weights []float64
}

// Compute implements LossFunc. A batch without any real timestep yields loss 0
// and a zero gradient.
func (l MaskedNLL) Compute(logProbs [][][]float64, labels [][]int, mask [][]float32) (float64, [][][]float64, error) {
	if len(logProbs) != len(labels) || len(logProbs) != len(mask) {
		return 0, nil, errors.Errorf("batch sizes differ: logProbs=%d labels=%d mask=%d", len(logProbs), len(labels), len(mask))
	}
	grad := make([][][]float64, len(logProbs))
	var num, den float64
	for i := range logProbs {
		if len(logProbs[i]) != len(labels[i]) || len(logProbs[i]) != len(mask[i]) {
			return 0, nil, errors.Errorf("session %d: time lengths differ: logProbs=%d labels=%d mask=%d",
				i, len(logProbs[i]), len(labels[i]), len(mask[i]))
		}
		grad[i] = make([][]float64, len(logProbs[i]))
		for t, lp := range logProbs[i] {
			grad[i][t] = make([]float64, len(lp))
			m := float64(mask[i][t])
			if m == 0 {
				continue
			}
			y := labels[i][t]
			if y < 0 || y >= len(lp) {
				return 0, nil, errors.Errorf("session %d step %d: label %d outside %d classes", i, t, y, len(lp))
			}
			w := m * l.weight(y)
			num -= w * lp[y]
			den += w
		}
	}
	if den == 0 {
		return 0, grad, nil
	}
	for i := range logProbs {
		for t := range logProbs[i] {
			m := float64(mask[i][t])
			if m == 0 {
				continue
			}
			y := labels[i][t]
			grad[i][t][y] = -m * l.weight(y) / den
		}
	}
	return num / den, grad, nil
}

func (l MaskedNLL) weight(class int) float64 {
	if l.Weights == nil || class >= len(l.Weights) {
		return 1
	}
	return l.Weights[class]
}
