package trainer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/hazumi/datasets"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(header+"\n"+strings.Join(rows, "\n")+"\n"), 0644))
}

const testHeader = "t1,t2,a1,a2,v1,v2,TS1,TS2,TS3,TS4,TS5"

func testSpec() datasets.SchemaSpec {
	return datasets.SchemaSpec{
		Text:    datasets.BlockSpec{Range: "t1:t2"},
		Audio:   datasets.BlockSpec{Range: "a1:a2"},
		Visual:  datasets.BlockSpec{Range: "v1:v2"},
		Exclude: datasets.DefaultExclude,
		Label: datasets.LabelSpec{
			Mode:      datasets.LabelBinary,
			Group:     datasets.DefaultBinaryGroup,
			Threshold: datasets.DefaultBinaryThreshold,
		},
	}
}

// writeCorpus writes one session file per length. Every feature of session k
// equals 10*(k+1) so a session can be recognized from any of its rows.
// Labels alternate between the two binary classes.
func writeCorpus(t *testing.T, lengths []int) string {
	t.Helper()
	dir := t.TempDir()
	for k, n := range lengths {
		v := 10 * (k + 1)
		rows := make([]string, n)
		for r := range rows {
			ts := 1
			if r%2 == 0 {
				ts = 5
			}
			rows[r] = fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d", v, v, v, v, v, v, ts, ts, ts, ts, ts)
		}
		writeCSV(t, filepath.Join(dir, fmt.Sprintf("session%02d.csv", k)), testHeader, rows)
	}
	return filepath.Join(dir, "*.csv")
}

// spyModel is a fixed classifier that records the first feature of every real
// utterance it sees, split by training and evaluation mode.
type spyModel struct {
	classes  int
	training bool

	trainSeen map[float32]int
	evalSeen  map[float32]int

	steps     int
	backwards int
}

func newSpy(classes int) *spyModel {
	return &spyModel{
		classes:   classes,
		trainSeen: make(map[float32]int),
		evalSeen:  make(map[float32]int),
	}
}

func (s *spyModel) Train(on bool) { s.training = on }
func (s *spyModel) ZeroGrad()     {}
func (s *spyModel) Step() error   { s.steps++; return nil }

func (s *spyModel) Backward(d [][][]float64) error {
	s.backwards++
	return nil
}

// Forward scores class k by the first feature times k, so predictions depend
// on the input and padded (all zero) rows come out uniform.
func (s *spyModel) Forward(features [][][]float32, mask [][]float32) ([][][]float64, [][][]float64, error) {
	out := make([][][]float64, len(features))
	for i, seq := range features {
		out[i] = make([][]float64, len(seq))
		for t, row := range seq {
			if mask[i][t] > 0 {
				if s.training {
					s.trainSeen[row[0]]++
				} else {
					s.evalSeen[row[0]]++
				}
			}
			logits := make([]float64, s.classes)
			for k := range logits {
				logits[k] = float64(row[0]) * float64(k) * 0.01
			}
			out[i][t] = logSoftmax(logits)
		}
	}
	return out, nil, nil
}

func logSoftmax(logits []float64) []float64 {
	maxv := math.Inf(-1)
	for _, v := range logits {
		maxv = math.Max(maxv, v)
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxv)
	}
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = v - maxv - math.Log(sum)
	}
	return out
}

// paddedSource appends extra all-padding timesteps to every batch of src.
type paddedSource struct {
	src   BatchSource
	extra int
}

func (p paddedSource) Batches() ([]*datasets.Batch, error) {
	bs, err := p.src.Batches()
	if err != nil {
		return nil, err
	}
	out := make([]*datasets.Batch, len(bs))
	for i, b := range bs {
		out[i] = b.Pad(p.extra)
	}
	return out, nil
}

type emptySource struct{}

func (emptySource) Batches() ([]*datasets.Batch, error) { return nil, nil }
