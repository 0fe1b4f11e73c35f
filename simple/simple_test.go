package simple

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomBatch returns a padded batch of sessions with the given lengths.
func randomBatch(rng *rand.Rand, lengths []int, width int) ([][][]float32, [][]float32) {
	maxLen := 0
	for _, n := range lengths {
		if n > maxLen {
			maxLen = n
		}
	}
	features := make([][][]float32, len(lengths))
	mask := make([][]float32, len(lengths))
	for i, n := range lengths {
		features[i] = make([][]float32, maxLen)
		mask[i] = make([]float32, maxLen)
		for t := range features[i] {
			features[i][t] = make([]float32, width)
			if t >= n {
				continue
			}
			mask[i][t] = 1
			for k := range features[i][t] {
				features[i][t][k] = float32(rng.NormFloat64())
			}
		}
	}
	return features, mask
}

// weightedSum is a test objective sum c*logp; its gradient w.r.t. logp is c.
func weightedSum(logProbs, coef [][][]float64, mask [][]float32) float64 {
	var s float64
	for i := range logProbs {
		for t := range logProbs[i] {
			if mask[i][t] == 0 {
				continue
			}
			for k := range logProbs[i][t] {
				s += coef[i][t][k] * logProbs[i][t][k]
			}
		}
	}
	return s
}

// nll is the masked negative log-likelihood and its gradient.
func nll(logProbs [][][]float64, labels [][]int, mask [][]float32) (float64, [][][]float64) {
	grad := make([][][]float64, len(logProbs))
	var num, den float64
	for i := range logProbs {
		grad[i] = make([][]float64, len(logProbs[i]))
		for t, lp := range logProbs[i] {
			grad[i][t] = make([]float64, len(lp))
			if mask[i][t] == 0 {
				continue
			}
			num -= lp[labels[i][t]]
			den++
		}
	}
	for i := range logProbs {
		for t := range logProbs[i] {
			if mask[i][t] > 0 {
				grad[i][t][labels[i][t]] = -1 / den
			}
		}
	}
	return num / den, grad
}

// checkGradients compares the analytic gradient of sum(coef*logp) with central
// differences at a few indices of every parameter.
func checkGradients(t *testing.T, m *Model, features [][][]float32, mask [][]float32, rng *rand.Rand) {
	t.Helper()
	classes := m.Config.Classes
	m.Train(false)

	coef := make([][][]float64, len(features))
	for i := range coef {
		coef[i] = make([][]float64, len(features[i]))
		for s := range coef[i] {
			coef[i][s] = make([]float64, classes)
			for k := range coef[i][s] {
				coef[i][s][k] = rng.NormFloat64()
			}
		}
	}

	m.ZeroGrad()
	_, _, err := m.Forward(features, mask)
	require.NoError(t, err)
	dlp := make([][][]float64, len(coef))
	for i := range coef {
		dlp[i] = make([][]float64, len(coef[i]))
		for s := range coef[i] {
			dlp[i][s] = make([]float64, classes)
			if mask[i][s] > 0 {
				copy(dlp[i][s], coef[i][s])
			}
		}
	}
	require.NoError(t, m.Backward(dlp))

	objective := func() float64 {
		out, _, err := m.Forward(features, mask)
		require.NoError(t, err)
		return weightedSum(out, coef, mask)
	}

	const eps = 1e-6
	for pi, p := range m.params() {
		for _, idx := range []int{0, len(p.w) / 2, len(p.w) - 1} {
			orig := p.w[idx]
			p.w[idx] = orig + eps
			up := objective()
			p.w[idx] = orig - eps
			down := objective()
			p.w[idx] = orig
			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, p.g[idx], 1e-5, "param %d index %d", pi, idx)
		}
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	cases := []struct {
		name      string
		variant   Variant
		attention bool
	}{
		{"fnn", VariantFNN, false},
		{"fnn-attention", VariantFNN, true},
		{"rnn", VariantRNN, false},
		{"rnn-attention", VariantRNN, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			m, err := NewModel(Config{
				Variant:   tc.variant,
				InputDim:  3,
				EmbedDim:  4,
				HiddenDim: 5,
				Classes:   3,
				Attention: tc.attention,
				Seed:      11,
			})
			require.NoError(t, err)

			features, mask := randomBatch(rng, []int{3, 2}, 3)
			checkGradients(t, m, features, mask, rng)
		})
	}
}

func TestGradientsWithSilentUtterance(t *testing.T) {
	// an all-zero utterance must not put any ReLU unit on its kink
	for _, v := range []Variant{VariantFNN, VariantRNN} {
		m, err := NewModel(Config{Variant: v, InputDim: 3, EmbedDim: 4, HiddenDim: 5, Classes: 3, Attention: true, Seed: 11})
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(8))
		features, mask := randomBatch(rng, []int{3}, 3)
		features[0][1] = make([]float32, 3)

		m.Train(false)
		_, _, err = m.Forward(features, mask)
		require.NoError(t, err)
		for _, st := range m.cache[0].steps {
			for _, p := range st.ePre {
				assert.NotZero(t, p)
			}
			for _, p := range st.hPre {
				assert.NotZero(t, p)
			}
		}
		checkGradients(t, m, features, mask, rng)
	}
}

func TestDenseBiasesStartPositive(t *testing.T) {
	d := newDense(3, 4, rand.New(rand.NewSource(1)))
	for _, y := range d.forward(make([]float64, 3)) {
		assert.Equal(t, biasInit, y)
	}
}

func TestPaddedPositionsAreUniformAndIgnored(t *testing.T) {
	for _, v := range []Variant{VariantFNN, VariantRNN} {
		m, err := NewModel(Config{Variant: v, InputDim: 4, EmbedDim: 6, HiddenDim: 5, Classes: 3, Attention: true, Seed: 5})
		require.NoError(t, err)
		m.Train(false)

		features, mask := randomBatch(rand.New(rand.NewSource(1)), []int{4, 2}, 4)
		lp, attention, err := m.Forward(features, mask)
		require.NoError(t, err)

		uniform := math.Log(1.0 / 3)
		for k := 0; k < 3; k++ {
			assert.InDelta(t, uniform, lp[1][2][k], 1e-12)
			assert.InDelta(t, uniform, lp[1][3][k], 1e-12)
		}
		require.Len(t, attention, 2)
		require.Len(t, attention[1], 4)
		assert.InDelta(t, 1.0, attention[1][0][0]+attention[1][0][1], 1e-9)
		assert.Equal(t, 0.0, attention[1][0][2])

		// extra padding must not change the real positions
		for i := range features {
			features[i] = append(features[i], make([]float32, 4), make([]float32, 4))
			mask[i] = append(mask[i], 0, 0)
		}
		lp2, _, err := m.Forward(features, mask)
		require.NoError(t, err)
		for i, n := range []int{4, 2} {
			for s := 0; s < n; s++ {
				assert.InDeltaSlice(t, lp[i][s], lp2[i][s], 1e-12)
			}
		}
	}
}

func TestModelTrainReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	features, mask := randomBatch(rng, []int{6, 4, 5, 3}, 4)
	labels := make([][]int, len(features))
	for i := range features {
		labels[i] = make([]int, len(features[i]))
		for s := range features[i] {
			if mask[i][s] == 0 {
				continue
			}
			// label is decided by the sign of the first feature
			if features[i][s][0] > 0 {
				labels[i][s] = 1
			}
		}
	}

	m, err := NewModel(Config{
		Variant:      VariantRNN,
		InputDim:     4,
		EmbedDim:     16,
		HiddenDim:    16,
		Classes:      2,
		Dropout:      0.1,
		LearningRate: 1e-2,
		WeightDecay:  1e-5,
		ClipNorm:     5,
		Seed:         7,
	})
	require.NoError(t, err)

	eval := func() float64 {
		m.Train(false)
		lp, _, err := m.Forward(features, mask)
		require.NoError(t, err)
		loss, _ := nll(lp, labels, mask)
		return loss
	}
	initial := eval()

	for step := 0; step < 300; step++ {
		m.Train(true)
		m.ZeroGrad()
		lp, _, err := m.Forward(features, mask)
		require.NoError(t, err)
		_, grad := nll(lp, labels, mask)
		require.NoError(t, m.Backward(grad))
		require.NoError(t, m.Step())
	}
	final := eval()
	assert.Less(t, final, initial*0.5, "initial %.4f final %.4f", initial, final)
}

func TestSameSeedSameModel(t *testing.T) {
	cfg := Config{Variant: VariantRNN, InputDim: 3, Classes: 3, Seed: 9}
	a, err := NewModel(cfg)
	require.NoError(t, err)
	b, err := NewModel(cfg)
	require.NoError(t, err)
	a.Train(false)
	b.Train(false)

	features, mask := randomBatch(rand.New(rand.NewSource(2)), []int{3}, 3)
	la, _, err := a.Forward(features, mask)
	require.NoError(t, err)
	lb, _, err := b.Forward(features, mask)
	require.NoError(t, err)
	assert.Equal(t, la, lb)
	assert.Equal(t, a.NumParams(), b.NumParams())
}

func TestModelErrors(t *testing.T) {
	_, err := NewModel(Config{})
	assert.Error(t, err)
	_, err = NewModel(Config{InputDim: 2, Dropout: 1})
	assert.Error(t, err)

	m, err := NewModel(Config{InputDim: 2, Seed: 1})
	require.NoError(t, err)
	assert.Error(t, m.Backward(nil), "backward before forward")

	_, _, err = m.Forward([][][]float32{{{1, 2, 3}}}, [][]float32{{1}})
	assert.Error(t, err, "wrong input width")
	_, _, err = m.Forward([][][]float32{{{1, 2}}}, nil)
	assert.Error(t, err, "mask batch mismatch")
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{"FNN": VariantFNN, "rnn": VariantRNN, "LSTM": VariantRNN, " lstm ": VariantRNN} {
		got, err := ParseVariant(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseVariant("transformer")
	assert.Error(t, err)
}
