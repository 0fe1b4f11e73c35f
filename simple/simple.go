// Package simple provides small, self-contained sequence classifiers trained in
// pure Go. They emit per-utterance log-probabilities for a padded batch of
// sessions and learn from the gradient of a masked loss.
package simple

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Variant selects the encoder that turns utterance embeddings into states.
type Variant string

const (
	// VariantFNN encodes each utterance independently with a hidden ReLU layer.
	VariantFNN Variant = "FNN"
	// VariantRNN runs an Elman recurrent layer over the session.
	VariantRNN Variant = "RNN"
)

// ParseVariant accepts the model selector names used on the command line.
// "LSTM" is accepted as the recurrent variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FNN":
		return VariantFNN, nil
	case "RNN", "LSTM":
		return VariantRNN, nil
	}
	return "", errors.Errorf("unknown model variant %q", s)
}

// Config holds configurable hyperparameters for the classifier and optimizer.
type Config struct {
	// Variant selects the encoder. Default: VariantRNN.
	Variant Variant

	// InputDim is the concatenated text+audio+visual width. Required.
	InputDim int

	// EmbedDim is the size of the per-utterance projection (default 100).
	EmbedDim int

	// HiddenDim is the encoder state size (default 100).
	HiddenDim int

	// Classes is the number of output classes (default 3).
	Classes int

	// Attention adds self-attention over the session's encoder states.
	Attention bool

	// Dropout rate applied before the output layer during training.
	Dropout float64

	// LearningRate and WeightDecay for Adam (defaults 1e-4 and 0).
	LearningRate float64
	WeightDecay  float64

	// Adam hyperparameters (defaults 0.9, 0.999, 1e-8 if zero).
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// ClipNorm is the global gradient norm threshold. Zero disables clipping.
	ClipNorm float64

	// Seed controls RNG for weight init and dropout. If zero, time-based seed is used.
	Seed int64
}

// Model is a per-utterance classifier over whole sessions:
//
//	x_t -> ReLU(embed) -> encoder (FNN or RNN) -> [attention] -> dropout -> log_softmax
//
// It owns its Adam state, so one Model is one fold's model and optimizer.
type Model struct {
	Config Config

	embed  *dense
	hidden *dense // FNN encoder
	inW    *dense // RNN input weights
	recW   *dense // RNN recurrent weights
	out    *dense

	opt      adam
	training bool
	rng      *rand.Rand

	// cache from the last Forward, consumed by Backward; nil entries are
	// sessions without utterances.
	cache []*seqCache
}

type stepCache struct {
	x     []float64
	ePre  []float64
	e     []float64
	hPre  []float64
	h     []float64
	drop  []float64
	zd    []float64
	probs []float64
}

type seqCache struct {
	steps []stepCache
	alpha [][]float64
}

// NewModel creates a Model with small random weights, ready to train.
func NewModel(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 {
		return nil, errors.Errorf("input dimension must be positive, got %d", cfg.InputDim)
	}
	// defaults
	if cfg.Variant == "" {
		cfg.Variant = VariantRNN
	}
	if cfg.EmbedDim == 0 {
		cfg.EmbedDim = 100
	}
	if cfg.HiddenDim == 0 {
		cfg.HiddenDim = 100
	}
	if cfg.Classes == 0 {
		cfg.Classes = 3
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-4
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, errors.Errorf("dropout must be in [0, 1), got %g", cfg.Dropout)
	}
	if cfg.Variant != VariantFNN && cfg.Variant != VariantRNN {
		return nil, errors.Errorf("unknown model variant %q", cfg.Variant)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{
		Config: cfg,
		rng:    rng,
		opt: adam{
			lr:          cfg.LearningRate,
			beta1:       cfg.Beta1,
			beta2:       cfg.Beta2,
			eps:         cfg.Epsilon,
			weightDecay: cfg.WeightDecay,
		},
	}
	m.embed = newDense(cfg.InputDim, cfg.EmbedDim, rng)
	switch cfg.Variant {
	case VariantFNN:
		m.hidden = newDense(cfg.EmbedDim, cfg.HiddenDim, rng)
	case VariantRNN:
		m.inW = newDense(cfg.EmbedDim, cfg.HiddenDim, rng)
		m.recW = newDense(cfg.HiddenDim, cfg.HiddenDim, rng)
	}
	headIn := cfg.HiddenDim
	if cfg.Attention {
		headIn *= 2
	}
	m.out = newDense(headIn, cfg.Classes, rng)
	return m, nil
}

// String describes the architecture.
func (m *Model) String() string {
	return fmt.Sprintf("%s(in=%d, embed=%d, hidden=%d, classes=%d, attention=%t, dropout=%g)",
		m.Config.Variant, m.Config.InputDim, m.Config.EmbedDim, m.Config.HiddenDim,
		m.Config.Classes, m.Config.Attention, m.Config.Dropout)
}

// Train switches between training (dropout on) and evaluation mode.
func (m *Model) Train(on bool) { m.training = on }

func (m *Model) params() []*param {
	ps := m.embed.params()
	if m.hidden != nil {
		ps = append(ps, m.hidden.params()...)
	}
	if m.inW != nil {
		ps = append(ps, m.inW.params()...)
		ps = append(ps, m.recW.params()...)
	}
	return append(ps, m.out.params()...)
}

// NumParams returns the number of trainable scalars.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params() {
		n += len(p.w)
	}
	return n
}

// ZeroGrad clears accumulated gradients.
func (m *Model) ZeroGrad() {
	for _, p := range m.params() {
		for i := range p.g {
			p.g[i] = 0
		}
	}
}

// Step clips gradients (when configured) and applies one Adam update.
func (m *Model) Step() error {
	ps := m.params()
	norm := clipGradNorm(ps, m.Config.ClipNorm)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return errors.Errorf("non-finite gradient norm %v", norm)
	}
	m.opt.update(ps)
	return nil
}

// Forward returns log-probabilities [batch][time][classes] for a padded batch.
// Positions where mask is 0 receive a uniform distribution and never get
// gradient. When attention is enabled the per-session weights [time][time]
// are returned as well.
func (m *Model) Forward(features [][][]float32, mask [][]float32) ([][][]float64, [][][]float64, error) {
	if len(features) != len(mask) {
		return nil, nil, errors.Errorf("features batch %d != mask batch %d", len(features), len(mask))
	}
	uniform := math.Log(1 / float64(m.Config.Classes))
	logProbs := make([][][]float64, len(features))
	var attention [][][]float64
	if m.Config.Attention {
		attention = make([][][]float64, len(features))
	}
	m.cache = make([]*seqCache, len(features))

	for i, seq := range features {
		if len(seq) != len(mask[i]) {
			return nil, nil, errors.Errorf("session %d: %d timesteps but mask has %d", i, len(seq), len(mask[i]))
		}
		n := validLength(mask[i])
		for t := 0; t < n; t++ {
			if len(seq[t]) != m.Config.InputDim {
				return nil, nil, errors.Errorf("session %d step %d: input width %d, want %d", i, t, len(seq[t]), m.Config.InputDim)
			}
		}

		var lp [][]float64
		if n > 0 {
			m.cache[i], lp = m.forwardSequence(seq[:n])
		}
		logProbs[i] = make([][]float64, len(seq))
		for t := range seq {
			if t < n {
				logProbs[i][t] = lp[t]
				continue
			}
			row := make([]float64, m.Config.Classes)
			for k := range row {
				row[k] = uniform
			}
			logProbs[i][t] = row
		}
		if attention != nil {
			attention[i] = padSquare(m.cache[i], len(seq))
		}
	}
	return logProbs, attention, nil
}

// validLength counts the real timesteps; masks are prefix-contiguous.
func validLength(mask []float32) int {
	n := 0
	for _, v := range mask {
		if v > 0 {
			n++
		}
	}
	return n
}

func padSquare(c *seqCache, size int) [][]float64 {
	out := make([][]float64, size)
	for t := range out {
		out[t] = make([]float64, size)
		if c != nil && t < len(c.alpha) {
			copy(out[t], c.alpha[t])
		}
	}
	return out
}

func (m *Model) forwardSequence(seq [][]float32) (*seqCache, [][]float64) {
	n := len(seq)
	hd := m.Config.HiddenDim
	c := &seqCache{steps: make([]stepCache, n)}
	hs := make([][]float64, n)

	hPrev := make([]float64, hd)
	for t := 0; t < n; t++ {
		st := &c.steps[t]
		st.x = toFloat64(seq[t])
		st.ePre = m.embed.forward(st.x)
		st.e = activationReLU(st.ePre)
		switch m.Config.Variant {
		case VariantFNN:
			st.hPre = m.hidden.forward(st.e)
			st.h = activationReLU(st.hPre)
		case VariantRNN:
			a := m.inW.forward(st.e)
			r := m.recW.forward(hPrev)
			st.h = make([]float64, hd)
			for k := range st.h {
				st.h[k] = math.Tanh(a[k] + r[k])
			}
			hPrev = st.h
		}
		hs[t] = st.h
	}

	var ctx [][]float64
	if m.Config.Attention {
		c.alpha, ctx = attend(hs)
	}

	logProbs := make([][]float64, n)
	for t := 0; t < n; t++ {
		st := &c.steps[t]
		z := st.h
		if ctx != nil {
			z = append(append(make([]float64, 0, 2*hd), st.h...), ctx[t]...)
		}
		st.zd = z
		if m.training && m.Config.Dropout > 0 {
			st.drop = dropoutMask(len(z), m.Config.Dropout, m.rng)
			st.zd = make([]float64, len(z))
			for k := range z {
				st.zd[k] = z[k] * st.drop[k]
			}
		}
		logits := m.out.forward(st.zd)
		logProbs[t], st.probs = logSoftmax(logits)
	}
	return c, logProbs
}

// Backward accumulates parameter gradients from dLoss/dlogProbs for the batch
// seen by the last Forward call.
func (m *Model) Backward(dLogProbs [][][]float64) error {
	if m.cache == nil {
		return errors.New("backward called before forward")
	}
	if len(dLogProbs) != len(m.cache) {
		return errors.Errorf("gradient batch %d != forward batch %d", len(dLogProbs), len(m.cache))
	}
	for i, c := range m.cache {
		if c == nil {
			continue
		}
		if len(dLogProbs[i]) < len(c.steps) {
			return errors.Errorf("session %d: gradient has %d steps, want at least %d", i, len(dLogProbs[i]), len(c.steps))
		}
		m.backwardSequence(c, dLogProbs[i][:len(c.steps)])
	}
	m.cache = nil
	return nil
}

func (m *Model) backwardSequence(c *seqCache, dlp [][]float64) {
	n := len(c.steps)
	hd := m.Config.HiddenDim
	dh := make([][]float64, n)
	var dctx [][]float64
	if m.Config.Attention {
		dctx = make([][]float64, n)
	}

	for t := 0; t < n; t++ {
		st := &c.steps[t]
		dlogits := logSoftmaxBackward(st.probs, dlp[t])
		dz := m.out.backward(st.zd, dlogits, true)
		if st.drop != nil {
			for k := range dz {
				dz[k] *= st.drop[k]
			}
		}
		dh[t] = append([]float64(nil), dz[:hd]...)
		if dctx != nil {
			dctx[t] = dz[hd:]
		}
	}
	if dctx != nil {
		hs := make([][]float64, n)
		for t := range hs {
			hs[t] = c.steps[t].h
		}
		attendBackward(hs, c.alpha, dctx, dh)
	}

	switch m.Config.Variant {
	case VariantFNN:
		for t := 0; t < n; t++ {
			st := &c.steps[t]
			de := m.hidden.backward(st.e, reluBackward(st.hPre, dh[t]), true)
			m.embed.backward(st.x, reluBackward(st.ePre, de), false)
		}
	case VariantRNN:
		dNext := make([]float64, hd)
		zero := make([]float64, hd)
		for t := n - 1; t >= 0; t-- {
			st := &c.steps[t]
			da := make([]float64, hd)
			for k := range da {
				g := dh[t][k] + dNext[k]
				da[k] = g * (1 - st.h[k]*st.h[k])
			}
			prev := zero
			if t > 0 {
				prev = c.steps[t-1].h
			}
			de := m.inW.backward(st.e, da, true)
			dNext = m.recW.backward(prev, da, true)
			m.embed.backward(st.x, reluBackward(st.ePre, de), false)
		}
	}
}
