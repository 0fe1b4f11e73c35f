package trainer

import (
	"math"

	"github.com/pkg/errors"
)

// EpochResult summarizes one pass over a loader.
//
// Loss is the mask-weighted average of the batch losses (each batch counts in
// proportion to its real utterances), rounded to 4 decimals. Accuracy and
// FScore are mask-weighted percentages rounded to 2 decimals. Labels, Preds
// and Mask are flattened over every (session, timestep) position of every
// batch, padding included; Mask marks which positions are real.
type EpochResult struct {
	Loss     float64
	Accuracy float64
	FScore   float64

	Labels []int
	Preds  []int
	Mask   []float64

	// Evaluation only: per-session attention weights (when the classifier
	// produces them) and the session ids in loader order.
	Attention [][][]float64
	IDs       []string
}

// Empty reports whether the epoch saw no data.
func (r *EpochResult) Empty() bool { return len(r.Preds) == 0 }

func noData() *EpochResult {
	return &EpochResult{
		Loss:     math.NaN(),
		Accuracy: math.NaN(),
		FScore:   math.NaN(),
		Labels:   []int{},
		Preds:    []int{},
		Mask:     []float64{},
	}
}

// TrainOrEval runs one epoch of model over loader. In training mode every
// batch is followed by backpropagation and an optimizer step; in evaluation
// mode attention weights and session ids are collected instead. A loader that
// yields no batches returns NaN metrics and empty sequences.
func TrainOrEval(model Model, loss LossFunc, loader BatchSource, classes int, train bool) (*EpochResult, error) {
	model.Train(train)
	batches, err := loader.Batches()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build batches")
	}

	res := &EpochResult{}
	var lossSum, maskSum float64
	for n, b := range batches {
		if train {
			model.ZeroGrad()
		}

		logProbs, attention, err := model.Forward(b.Features(), b.Mask)
		if err != nil {
			return nil, errors.Wrapf(err, "forward batch %d", n)
		}
		batchLoss, grad, err := loss.Compute(logProbs, b.Labels, b.Mask)
		if err != nil {
			return nil, errors.Wrapf(err, "loss batch %d", n)
		}

		var batchMask float64
		for i := range logProbs {
			for t, lp := range logProbs[i] {
				m := float64(b.Mask[i][t])
				res.Preds = append(res.Preds, argmax(lp))
				res.Labels = append(res.Labels, b.Labels[i][t])
				res.Mask = append(res.Mask, m)
				batchMask += m
			}
		}
		lossSum += batchLoss * batchMask
		maskSum += batchMask

		if train {
			if err := model.Backward(grad); err != nil {
				return nil, errors.Wrapf(err, "backward batch %d", n)
			}
			if err := model.Step(); err != nil {
				return nil, errors.Wrapf(err, "optimizer step batch %d", n)
			}
			continue
		}
		res.Attention = append(res.Attention, attention...)
		res.IDs = append(res.IDs, b.IDs...)
	}

	if len(res.Preds) == 0 {
		return noData(), nil
	}

	res.Loss = round(lossSum/maskSum, 4)
	res.Accuracy = round(Accuracy(res.Labels, res.Preds, res.Mask)*100, 2)
	res.FScore = round(WeightedF1(res.Labels, res.Preds, res.Mask, classes)*100, 2)
	return res, nil
}
