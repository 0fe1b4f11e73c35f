package trainer

import (
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
)

// Accuracy is the weighted fraction of positions where pred == label.
// It is NaN when the total weight is zero.
func Accuracy(labels, preds []int, weights []float64) float64 {
	var hit, total float64
	for i := range labels {
		w := weightAt(weights, i)
		total += w
		if labels[i] == preds[i] {
			hit += w
		}
	}
	if total == 0 {
		return math.NaN()
	}
	return hit / total
}

// ClassMetrics are the per-class scores of a classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   float64 `json:"support"`
}

// Report is a weighted classification report.
type Report struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    Score          `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
}

// ClassificationReport computes precision, recall, F1 and support for classes
// 0..classes-1 with sample weights. Averages cover the classes that occur in
// labels or preds; undefined ratios count as 0.
func ClassificationReport(labels, preds []int, weights []float64, classes int) *Report {
	cm := ConfusionMatrix(labels, preds, weights, classes)
	r := &Report{Accuracy: Score(Accuracy(labels, preds, weights))}

	present := make([]bool, classes)
	for i := range labels {
		if labels[i] >= 0 && labels[i] < classes {
			present[labels[i]] = true
		}
		if preds[i] >= 0 && preds[i] < classes {
			present[preds[i]] = true
		}
	}

	var total, counted float64
	for k := 0; k < classes; k++ {
		tp := cm.At(k, k)
		support := mat.Sum(cm.RowView(k))
		predicted := mat.Sum(cm.ColView(k))
		c := ClassMetrics{Label: fmt.Sprint(k), Support: support}
		if predicted > 0 {
			c.Precision = tp / predicted
		}
		if support > 0 {
			c.Recall = tp / support
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		r.Classes = append(r.Classes, c)

		if !present[k] {
			continue
		}
		counted++
		total += support
		r.MacroAvg.Precision += c.Precision
		r.MacroAvg.Recall += c.Recall
		r.MacroAvg.F1 += c.F1
		r.WeightedAvg.Precision += c.Precision * support
		r.WeightedAvg.Recall += c.Recall * support
		r.WeightedAvg.F1 += c.F1 * support
	}
	r.MacroAvg.Label, r.WeightedAvg.Label = "macro avg", "weighted avg"
	r.MacroAvg.Support, r.WeightedAvg.Support = total, total
	if counted > 0 {
		r.MacroAvg.Precision /= counted
		r.MacroAvg.Recall /= counted
		r.MacroAvg.F1 /= counted
	}
	if total > 0 {
		r.WeightedAvg.Precision /= total
		r.WeightedAvg.Recall /= total
		r.WeightedAvg.F1 /= total
	}
	return r
}

// WeightedF1 is the support-weighted mean of the per-class F1 scores.
func WeightedF1(labels, preds []int, weights []float64, classes int) float64 {
	return ClassificationReport(labels, preds, weights, classes).WeightedAvg.F1
}

// ConfusionMatrix returns a classes x classes matrix whose entry (i, j) is the
// total weight of positions with label i predicted as j.
func ConfusionMatrix(labels, preds []int, weights []float64, classes int) *mat.Dense {
	cm := mat.NewDense(classes, classes, nil)
	for i := range labels {
		y, p := labels[i], preds[i]
		if y < 0 || y >= classes || p < 0 || p >= classes {
			continue
		}
		cm.Set(y, p, cm.At(y, p)+weightAt(weights, i))
	}
	return cm
}

// String renders the report as an aligned table.
func (r *Report) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\tprecision\trecall\tf1-score\tsupport\t")
	row := func(c ClassMetrics) {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.1f\t\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	fmt.Fprintf(w, "accuracy\t\t\t%.4f\t%.1f\t\n", r.Accuracy, r.WeightedAvg.Support)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	w.Flush()
	return b.String()
}

// FormatConfusion renders a confusion matrix for logs.
func FormatConfusion(cm *mat.Dense) string {
	return fmt.Sprintf("%v", mat.Formatted(cm, mat.Squeeze()))
}

// denseRows copies a matrix into nested slices for JSON output.
func denseRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

func round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}
