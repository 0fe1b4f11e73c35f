package trainer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/hazumi/datasets"
	"github.com/Noofbiz/hazumi/preprocessing"
)

// Config holds the cross-validation and training-loop settings.
type Config struct {
	// Epochs per fold.
	Epochs int

	// BatchSize is the number of sessions per batch.
	BatchSize int

	// Valid is the fraction of training sessions held for validation.
	Valid float64

	// Rate is the fraction of training sessions kept (data-efficiency studies).
	// The test partition is never subsampled.
	Rate float64

	// Seed drives samplers and the rate subsample. Folds derive their own
	// seeds from it.
	Seed int64

	// Classes is the number of label classes.
	Classes int

	// ClassWeights, when non-nil, weight the masked loss per class.
	ClassWeights []float64

	// Standardize fits a z-score scaler on each fold's training split.
	Standardize bool
}

// FoldData is everything one fold trains and evaluates on.
type FoldData struct {
	Partition *datasets.Partition
	Train     *datasets.SequenceDataset
	Valid     *datasets.SequenceDataset
	Test      *datasets.SequenceDataset
	Scaler    *preprocessing.Standardizer
}

// PrepareFold partitions the corpus around testPath, subsamples and splits the
// train side, and standardizes all three sets with statistics fitted on the
// training split alone. A training split without utterances leaves Scaler nil
// and the sets unscaled.
func PrepareFold(corpus *datasets.Corpus, testPath string, cfg Config) (*FoldData, error) {
	part, err := corpus.Partition(testPath)
	if err != nil {
		return nil, err
	}
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}
	train, valid := datasets.NewSequenceDataset(part.Train).Subsample(rate, cfg.Seed).Split(cfg.Valid)
	test := datasets.NewSequenceDataset(part.Test)
	fd := &FoldData{Partition: part, Train: train, Valid: valid, Test: test}
	if !cfg.Standardize {
		return fd, nil
	}

	// nothing to fit: the loop reports the empty split with its NaN sentinel
	width := train.Width()
	if width == 0 {
		return fd, nil
	}
	fd.Scaler = preprocessing.NewStandardizer(width)
	if err := fd.Scaler.Fit(train.Rows()); err != nil {
		return nil, errors.Wrapf(err, "fold %s", part.TestID)
	}
	for _, ds := range []**datasets.SequenceDataset{&fd.Train, &fd.Valid, &fd.Test} {
		scaled, err := (*ds).Map(fd.Scaler.TransformRows)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %s", part.TestID)
		}
		*ds = scaled
	}
	return fd, nil
}

// EpochStats records one epoch of a fold.
type EpochStats struct {
	Epoch     int           `json:"epoch"`
	TrainLoss Score         `json:"train_loss"`
	TrainAcc  Score         `json:"train_acc"`
	TrainF1   Score         `json:"train_f1"`
	ValidLoss Score         `json:"valid_loss"`
	ValidAcc  Score         `json:"valid_acc"`
	ValidF1   Score         `json:"valid_f1"`
	TestLoss  Score         `json:"test_loss"`
	TestAcc   Score         `json:"test_acc"`
	TestF1    Score         `json:"test_f1"`
	Duration  time.Duration `json:"duration"`
}

// FoldResult is the retained outcome of one held-out session: the epoch with
// the lowest test loss and its predictions.
type FoldResult struct {
	RunID    string `json:"run_id,omitempty"`
	Fold     int    `json:"fold"`
	TestID   string `json:"test_id"`
	TestPath string `json:"test_path"`

	TrainIDs []string `json:"train_ids"`
	ValidIDs []string `json:"valid_ids"`

	BestEpoch int   `json:"best_epoch"`
	BestLoss  Score `json:"best_loss"`

	// Accuracy is the mask-weighted fraction of correct utterances; FScore is
	// the weighted F1 percentage of the best epoch.
	Accuracy Score `json:"accuracy"`
	FScore   Score `json:"f1"`

	Report    *Report       `json:"report"`
	Confusion [][]float64   `json:"confusion"`
	History   []EpochStats  `json:"history"`
	Labels    []int         `json:"labels"`
	Preds     []int         `json:"preds"`
	Mask      []float64     `json:"mask"`
	Attention [][][]float64 `json:"attention,omitempty"`
	IDs       []string      `json:"ids"`
}

// Result aggregates all folds of a run.
type Result struct {
	Folds []*FoldResult

	// Accuracies holds one fraction per fold in fold order. MeanAccuracy is
	// their plain mean, so a fold with an empty test session makes it NaN.
	Accuracies   []float64
	MeanAccuracy float64
}

// Driver runs leave-one-session-out cross-validation.
//
// The best epoch of a fold is selected by the lowest test loss, not the
// validation loss. This keeps the reported numbers comparable with earlier
// runs but lets the test session influence model selection.
type Driver struct {
	RunID    string
	Corpus   *datasets.Corpus
	Config   Config
	NewModel ModelFactory
	Logger   *zap.Logger

	// OnFold, when set, is called with every completed fold (e.g. to persist it).
	OnFold func(*FoldResult) error
}

// Run holds out every session file in discovery order and returns the folds
// and the mean fold accuracy. It stops between epochs when ctx is cancelled.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.NewModel == nil {
		return nil, errors.New("driver has no model factory")
	}
	log := d.logger()
	res := &Result{}
	for fold, path := range d.Corpus.Paths() {
		f, err := d.RunFold(ctx, fold, path)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d (%s)", fold, path)
		}
		res.Folds = append(res.Folds, f)
		res.Accuracies = append(res.Accuracies, float64(f.Accuracy))
		if d.OnFold != nil {
			if err := d.OnFold(f); err != nil {
				return nil, errors.Wrapf(err, "fold %d callback", fold)
			}
		}
	}
	res.MeanAccuracy = stat.Mean(res.Accuracies, nil)
	log.Info("cross-validation complete",
		zap.Int("folds", len(res.Folds)),
		zap.Float64s("accuracies", res.Accuracies),
		zap.Float64("mean_accuracy", res.MeanAccuracy))
	return res, nil
}

// RunFold trains a fresh model with the file at testPath held out and keeps the
// epoch whose test loss is lowest.
func (d *Driver) RunFold(ctx context.Context, fold int, testPath string) (*FoldResult, error) {
	cfg := d.Config
	log := d.logger().With(zap.Int("fold", fold))

	fd, err := PrepareFold(d.Corpus, testPath, cfg)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("test", fd.Partition.TestID))
	log.Info("fold start",
		zap.Int("train_sessions", fd.Train.Len()),
		zap.Int("valid_sessions", fd.Valid.Len()),
		zap.Int("test_sessions", fd.Test.Len()))

	width := d.Corpus.Schema.Width()
	model, err := d.NewModel(width, fold)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build model")
	}
	loss := MaskedNLL{Weights: cfg.ClassWeights}

	seed := cfg.Seed + int64(fold)*1000
	trainLoader := NewLoader(fd.Train, cfg.BatchSize, true, seed)
	validLoader := NewLoader(fd.Valid, cfg.BatchSize, true, seed+1)
	testLoader := NewLoader(fd.Test, cfg.BatchSize, false, seed+2)

	f := &FoldResult{
		RunID:     d.RunID,
		Fold:      fold,
		TestID:    fd.Partition.TestID,
		TestPath:  testPath,
		TrainIDs:  fd.Train.IDs(),
		ValidIDs:  fd.Valid.IDs(),
		BestEpoch: -1,
	}
	var best *EpochResult
	for e := 0; e < cfg.Epochs; e++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		tr, err := TrainOrEval(model, loss, trainLoader, cfg.Classes, true)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d train", e)
		}
		va, err := TrainOrEval(model, loss, validLoader, cfg.Classes, false)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d valid", e)
		}
		te, err := TrainOrEval(model, loss, testLoader, cfg.Classes, false)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d test", e)
		}

		if best == nil || best.Loss > te.Loss {
			best, f.BestEpoch = te, e
		}
		st := EpochStats{
			Epoch:     e,
			TrainLoss: Score(tr.Loss), TrainAcc: Score(tr.Accuracy), TrainF1: Score(tr.FScore),
			ValidLoss: Score(va.Loss), ValidAcc: Score(va.Accuracy), ValidF1: Score(va.FScore),
			TestLoss: Score(te.Loss), TestAcc: Score(te.Accuracy), TestF1: Score(te.FScore),
			Duration: time.Since(start),
		}
		f.History = append(f.History, st)
		log.Debug("epoch",
			zap.String("ml.phase", "train"),
			zap.Int("epoch", e+1),
			zap.Float64("train_loss", tr.Loss), zap.Float64("train_acc", tr.Accuracy),
			zap.Float64("valid_loss", va.Loss), zap.Float64("valid_acc", va.Accuracy),
			zap.Float64("test_loss", te.Loss), zap.Float64("test_acc", te.Accuracy),
			zap.Duration("took", st.Duration))
	}

	if best == nil {
		best = noData()
	}
	f.BestLoss = Score(best.Loss)
	f.Labels, f.Preds, f.Mask = best.Labels, best.Preds, best.Mask
	f.Attention, f.IDs = best.Attention, best.IDs
	f.Accuracy = Score(Accuracy(best.Labels, best.Preds, best.Mask))
	f.FScore = Score(best.FScore)
	f.Report = ClassificationReport(best.Labels, best.Preds, best.Mask, cfg.Classes)
	cm := ConfusionMatrix(best.Labels, best.Preds, best.Mask, cfg.Classes)
	f.Confusion = denseRows(cm)

	log.Info("fold done",
		zap.Int("best_epoch", f.BestEpoch+1),
		zap.Float64("best_loss", best.Loss),
		zap.Float64("f1", best.FScore),
		zap.Float64("accuracy", float64(f.Accuracy)))
	log.Debug("classification report\n" + f.Report.String())
	log.Debug("confusion matrix\n" + FormatConfusion(cm))
	return f, nil
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
