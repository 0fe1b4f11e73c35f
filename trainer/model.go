// Package trainer drives the masked-loss training loop and the
// leave-one-session-out cross-validation over a Hazumi corpus.
package trainer

// Classifier maps a padded batch of concatenated features to per-timestep
// log-probabilities [batch][time][classes]. Attention weights are optional
// and only used for inspection.
type Classifier interface {
	Forward(features [][][]float32, mask [][]float32) (logProbs [][][]float64, attention [][][]float64, err error)
}

// Model is a Classifier that can be trained: it switches mode, accumulates
// gradients from dLoss/dlogProbs and applies its optimizer.
type Model interface {
	Classifier
	Train(on bool)
	ZeroGrad()
	Backward(dLogProbs [][][]float64) error
	Step() error
}

// ModelFactory builds a fresh model and optimizer for one fold. It is called
// exactly once per fold so no parameters leak across folds.
type ModelFactory func(inputDim, fold int) (Model, error)
