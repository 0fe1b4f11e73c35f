package trainer

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/hazumi/monte"
)

// Score is a metric that serializes NaN and infinities as JSON null.
type Score float64

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// UnmarshalJSON implements json.Unmarshaler; null decodes to NaN.
func (s *Score) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Score(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Wrapf(err, "invalid score %q", b)
	}
	*s = Score(f)
	return nil
}

// Summary is the run-level record written next to the per-fold files.
type Summary struct {
	RunID string `json:"run_id"`
	Folds int    `json:"folds"`

	Accuracies   []Score `json:"accuracies"`
	MeanAccuracy Score   `json:"mean_accuracy"`

	// Spread of the folds with test data.
	Median Score `json:"median"`
	StdDev Score `json:"std_dev"`
	Min    Score `json:"min"`
	Max    Score `json:"max"`

	CI *monte.Interval `json:"ci,omitempty"`
}

// Summarize builds the run summary. MeanAccuracy is carried over from res
// unchanged; the spread statistics skip NaN folds.
func Summarize(runID string, res *Result) (*Summary, error) {
	s := &Summary{
		RunID:        runID,
		Folds:        len(res.Folds),
		MeanAccuracy: Score(res.MeanAccuracy),
		Median:       Score(math.NaN()),
		StdDev:       Score(math.NaN()),
		Min:          Score(math.NaN()),
		Max:          Score(math.NaN()),
	}
	var data stats.Float64Data
	for _, a := range res.Accuracies {
		s.Accuracies = append(s.Accuracies, Score(a))
		if !math.IsNaN(a) {
			data = append(data, a)
		}
	}
	if len(data) == 0 {
		return s, nil
	}

	median, err := stats.Median(data)
	if err != nil {
		return nil, errors.Wrap(err, "median")
	}
	sd, err := stats.StandardDeviation(data)
	if err != nil {
		return nil, errors.Wrap(err, "standard deviation")
	}
	lo, err := stats.Min(data)
	if err != nil {
		return nil, errors.Wrap(err, "min")
	}
	hi, err := stats.Max(data)
	if err != nil {
		return nil, errors.Wrap(err, "max")
	}
	s.Median, s.StdDev, s.Min, s.Max = Score(median), Score(sd), Score(lo), Score(hi)
	return s, nil
}

// Writer persists fold records, loss curves and the run summary under Dir.
type Writer struct {
	Dir   string
	Plots bool
}

// NewWriter creates dir when needed.
func NewWriter(dir string, plots bool) (*Writer, error) {
	if err := ensureDir(dir); err != nil {
		return nil, errors.Wrapf(err, "failed to create output dir %s", dir)
	}
	return &Writer{Dir: dir, Plots: plots}, nil
}

// WriteFold writes fold_<n>_<session>.json and, with plots enabled, the
// matching loss-curve PNG.
func (w *Writer) WriteFold(f *FoldResult) error {
	base := fmt.Sprintf("fold_%03d_%s", f.Fold, f.TestID)
	if err := writeJSON(filepath.Join(w.Dir, base+".json"), f); err != nil {
		return err
	}
	if !w.Plots || len(f.History) == 0 {
		return nil
	}
	return PlotHistory(filepath.Join(w.Dir, base+"_loss.png"), f)
}

// WriteSummary writes summary.json.
func (w *Writer) WriteSummary(s *Summary) error {
	return writeJSON(filepath.Join(w.Dir, "summary.json"), s)
}

// PlotHistory draws the train, valid and test loss curves of one fold.
// Epochs with no data (NaN loss) are left out of their curve.
func PlotHistory(path string, f *FoldResult) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fold %d (%s): loss per epoch", f.Fold, f.TestID)
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	curves := []struct {
		name string
		col  color.Color
		get  func(EpochStats) Score
	}{
		{"train", color.RGBA{R: 20, G: 80, B: 200, A: 255}, func(e EpochStats) Score { return e.TrainLoss }},
		{"valid", color.RGBA{R: 40, G: 150, B: 40, A: 255}, func(e EpochStats) Score { return e.ValidLoss }},
		{"test", color.RGBA{R: 200, G: 30, B: 30, A: 255}, func(e EpochStats) Score { return e.TestLoss }},
	}
	for _, c := range curves {
		xys := make(plotter.XYs, 0, len(f.History))
		for _, e := range f.History {
			v := float64(c.get(e))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(e.Epoch + 1), Y: v})
		}
		if len(xys) == 0 {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "%s curve", c.name)
		}
		line.Color = c.col
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(c.name, line)
	}
	p.Legend.Top = true

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

// writeJSON encodes v into a temp file next to path and renames it into place.
func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", filepath.Base(path))
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close temp %s", filepath.Base(path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename %s", filepath.Base(path))
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
