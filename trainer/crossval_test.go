package trainer

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/hazumi/simple"
)

func TestDriverNeverTrainsOnHeldOutSession(t *testing.T) {
	lengths := []int{10, 7, 15}
	corpus := loadTestCorpus(t, lengths)

	spies := make(map[int]*spyModel)
	d := &Driver{
		Corpus: corpus,
		Config: Config{Epochs: 2, BatchSize: 2, Valid: 0.1, Rate: 1, Seed: 1, Classes: 2},
		NewModel: func(inputDim, fold int) (Model, error) {
			require.Equal(t, 6, inputDim)
			require.NotContains(t, spies, fold, "one model per fold")
			spies[fold] = newSpy(2)
			return spies[fold], nil
		},
	}
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Folds, 3)
	require.Len(t, spies, 3)

	for k, f := range res.Folds {
		held := float32(10 * (k + 1))
		spy := spies[k]
		assert.Equal(t, corpus.Paths()[k], f.TestPath)
		assert.Equal(t, corpus.Sessions()[k].ID, f.TestID)
		assert.NotContains(t, f.TrainIDs, f.TestID)
		assert.Zero(t, spy.trainSeen[held], "fold %d trained on its held-out session", k)
		assert.Equal(t, 2*lengths[k], spy.evalSeen[held])
		for j, n := range lengths {
			if j != k {
				assert.Equal(t, 2*n, spy.trainSeen[float32(10*(j+1))])
			}
		}

		assert.Len(t, f.History, 2)
		assert.Contains(t, []int{0, 1}, f.BestEpoch)
		assert.Len(t, f.Labels, lengths[k])
		assert.Equal(t, []string{f.TestID}, f.IDs)
		assert.True(t, math.IsNaN(float64(f.History[0].ValidLoss)), "two train sessions leave no validation split")
		assert.NotNil(t, f.Report)
		assert.Len(t, f.Confusion, 2)
	}

	// the spy always predicts class 1 and labels alternate starting with 1
	want := []float64{5.0 / 10, 4.0 / 7, 8.0 / 15}
	assert.InDeltaSlice(t, want, res.Accuracies, 1e-12)
	assert.InDelta(t, (want[0]+want[1]+want[2])/3, res.MeanAccuracy, 1e-12)
}

func TestPrepareFoldFitsScalerOnTrainSplit(t *testing.T) {
	corpus := loadTestCorpus(t, []int{2, 3, 4})
	fd, err := PrepareFold(corpus, corpus.Paths()[0], Config{Valid: 0.5, Rate: 1, Standardize: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"session01"}, fd.Valid.IDs())
	assert.Equal(t, []string{"session02"}, fd.Train.IDs())
	assert.Equal(t, []string{"session00"}, fd.Test.IDs())

	require.NotNil(t, fd.Scaler)
	assert.Equal(t, 30.0, fd.Scaler.Mean()[0])
	assert.Equal(t, 1.0, fd.Scaler.Std()[0], "constant column is scaled by 1")

	assert.Equal(t, float32(0), fd.Train.Sample(0).Text[0][0])
	assert.Equal(t, float32(-10), fd.Valid.Sample(0).Audio[1][0])
	assert.Equal(t, float32(-20), fd.Test.Sample(0).Visual[1][1])
	assert.Equal(t, float32(10), corpus.Sessions()[0].Text[0][0], "corpus is not modified")
}

func TestSingleSessionCorpusRecordsEmptyTraining(t *testing.T) {
	corpus := loadTestCorpus(t, []int{2})
	cfg := Config{Epochs: 2, BatchSize: 2, Valid: 0.1, Rate: 1, Seed: 1, Classes: 2, Standardize: true}

	fd, err := PrepareFold(corpus, corpus.Paths()[0], cfg)
	require.NoError(t, err)
	assert.Nil(t, fd.Scaler)
	assert.Zero(t, fd.Train.Len())
	assert.Equal(t, float32(10), fd.Test.Sample(0).Text[0][0])

	d := &Driver{
		Corpus:   corpus,
		Config:   cfg,
		NewModel: func(int, int) (Model, error) { return newSpy(2), nil },
	}
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Folds, 1)
	assert.Equal(t, []float64{0.5}, res.Accuracies)
	for _, e := range res.Folds[0].History {
		assert.True(t, math.IsNaN(float64(e.TrainLoss)))
		assert.False(t, math.IsNaN(float64(e.TestLoss)))
	}
}

func TestPrepareFoldUnknownSession(t *testing.T) {
	corpus := loadTestCorpus(t, []int{2, 3})
	_, err := PrepareFold(corpus, "/nowhere/session.csv", Config{})
	assert.Error(t, err)
}

func TestDriverStopsOnCancel(t *testing.T) {
	corpus := loadTestCorpus(t, []int{2, 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Driver{
		Corpus:   corpus,
		Config:   Config{Epochs: 3, BatchSize: 1, Classes: 2},
		NewModel: func(int, int) (Model, error) { return newSpy(2), nil },
	}
	_, err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDriverWithClassifierWritesReports(t *testing.T) {
	corpus := loadTestCorpus(t, []int{4, 3, 5})
	out := t.TempDir()
	w, err := NewWriter(out, true)
	require.NoError(t, err)

	d := &Driver{
		RunID:  "run-1",
		Corpus: corpus,
		Config: Config{
			Epochs:       3,
			BatchSize:    2,
			Valid:        0.1,
			Rate:         1,
			Seed:         4,
			Classes:      2,
			ClassWeights: []float64{1, 2},
			Standardize:  true,
		},
		NewModel: func(inputDim, fold int) (Model, error) {
			return simple.NewModel(simple.Config{
				Variant:   simple.VariantRNN,
				InputDim:  inputDim,
				EmbedDim:  8,
				HiddenDim: 8,
				Classes:   2,
				Attention: true,
				Dropout:   0.25,
				Seed:      int64(fold) + 1,
			})
		},
		OnFold: w.WriteFold,
	}
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Folds, 3)
	for _, f := range res.Folds {
		require.Len(t, f.Attention, 1)
		assert.Len(t, f.Attention[0], len(f.Labels))
	}

	summary, err := Summarize("run-1", res)
	require.NoError(t, err)
	require.NoError(t, w.WriteSummary(summary))

	for _, name := range []string{"fold_000_session00.json", "fold_000_session00_loss.png", "fold_002_session02.json", "summary.json"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(out, "fold_001_session01.json"))
	require.NoError(t, err)
	var fold FoldResult
	require.NoError(t, json.Unmarshal(raw, &fold))
	assert.Equal(t, "run-1", fold.RunID)
	assert.Equal(t, "session01", fold.TestID)
	assert.Len(t, fold.History, 3)
	assert.True(t, math.IsNaN(float64(fold.History[0].ValidLoss)))
	assert.InDelta(t, res.Accuracies[1], float64(fold.Accuracy), 1e-12)
}
