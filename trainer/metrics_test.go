package trainer

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracyWeighted(t *testing.T) {
	labels := []int{0, 0, 1, 1, 2}
	preds := []int{0, 1, 1, 1, 0}
	assert.InDelta(t, 0.75, Accuracy(labels, preds, []float64{1, 1, 1, 1, 0}), 1e-12)
	assert.InDelta(t, 0.6, Accuracy(labels, preds, nil), 1e-12)
	assert.True(t, math.IsNaN(Accuracy(labels, preds, make([]float64, 5))))
	assert.True(t, math.IsNaN(Accuracy(nil, nil, nil)))
}

func TestClassificationReport(t *testing.T) {
	labels := []int{0, 0, 1, 1, 2}
	preds := []int{0, 1, 1, 1, 0}
	weights := []float64{1, 1, 1, 1, 0}
	r := ClassificationReport(labels, preds, weights, 3)

	require.Len(t, r.Classes, 3)
	c0, c1, c2 := r.Classes[0], r.Classes[1], r.Classes[2]
	assert.InDelta(t, 1.0, c0.Precision, 1e-12)
	assert.InDelta(t, 0.5, c0.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, c0.F1, 1e-12)
	assert.Equal(t, 2.0, c0.Support)

	assert.InDelta(t, 2.0/3, c1.Precision, 1e-12)
	assert.InDelta(t, 1.0, c1.Recall, 1e-12)
	assert.InDelta(t, 0.8, c1.F1, 1e-12)

	assert.Equal(t, 0.0, c2.Support)
	assert.Equal(t, 0.0, c2.F1)

	assert.InDelta(t, (2.0/3*2+0.8*2)/4, r.WeightedAvg.F1, 1e-12)
	assert.InDelta(t, (2.0/3+0.8)/3, r.MacroAvg.F1, 1e-12)
	assert.Equal(t, 4.0, r.WeightedAvg.Support)
	assert.InDelta(t, 0.75, float64(r.Accuracy), 1e-12)
	assert.InDelta(t, r.WeightedAvg.F1, WeightedF1(labels, preds, weights, 3), 1e-12)

	table := r.String()
	assert.Contains(t, table, "precision")
	assert.Contains(t, table, "weighted avg")
}

func TestConfusionMatrix(t *testing.T) {
	cm := ConfusionMatrix([]int{0, 0, 1, 2, 2}, []int{0, 1, 1, 2, 0}, []float64{1, 1, 1, 1, 0.5}, 3)
	assert.Equal(t, [][]float64{
		{1, 1, 0},
		{0, 1, 0},
		{0.5, 0, 1},
	}, denseRows(cm))
	assert.True(t, strings.Contains(FormatConfusion(cm), "0.5"))
}

func TestScoreJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Score   `json:"a"`
		B Score   `json:"b"`
		C []Score `json:"c"`
	}{Score(math.NaN()), 0.25, []Score{Score(math.Inf(1)), 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":0.25,"c":[null,1]}`, string(b))

	var back struct {
		A Score `json:"a"`
		B Score `json:"b"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(float64(back.A)))
	assert.Equal(t, Score(0.25), back.B)
}

func TestSummarizeSkipsEmptyFolds(t *testing.T) {
	res := &Result{
		Folds:        make([]*FoldResult, 4),
		Accuracies:   []float64{0.5, math.NaN(), 0.7, 0.9},
		MeanAccuracy: math.NaN(),
	}
	s, err := Summarize("r", res)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Folds)
	assert.True(t, math.IsNaN(float64(s.MeanAccuracy)))
	assert.InDelta(t, 0.7, float64(s.Median), 1e-12)
	assert.InDelta(t, 0.5, float64(s.Min), 1e-12)
	assert.InDelta(t, 0.9, float64(s.Max), 1e-12)
	assert.InDelta(t, math.Sqrt(0.08/3), float64(s.StdDev), 1e-12)

	s, err = Summarize("r", &Result{Accuracies: []float64{math.NaN()}})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(s.Median)))
}
