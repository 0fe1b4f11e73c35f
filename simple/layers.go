package simple

import (
	"math"
	"math/rand"
)

// param is one trainable tensor (flattened) with its gradient and Adam moments.
type param struct {
	w []float64
	g []float64
	m []float64
	v []float64
}

func newParam(n int) *param {
	return &param{
		w: make([]float64, n),
		g: make([]float64, n),
		m: make([]float64, n),
		v: make([]float64, n),
	}
}

// dense is a fully connected layer y = W x + b with W stored row-major [out][in].
type dense struct {
	in, out int
	W, b    *param
}

const biasInit = 0.01

func newDense(in, out int, rng *rand.Rand) *dense {
	d := &dense{in: in, out: out, W: newParam(in * out), b: newParam(out)}
	// Xavier/Glorot uniform initialization heuristic
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := range d.W.w {
		d.W.w[i] = (rng.Float64()*2.0 - 1.0) * limit * 0.5
	}
	// biases start slightly positive so a zero input leaves ReLU units active
	for j := range d.b.w {
		d.b.w[j] = biasInit
	}
	return d
}

func (d *dense) forward(x []float64) []float64 {
	y := make([]float64, d.out)
	for j := 0; j < d.out; j++ {
		row := d.W.w[j*d.in : (j+1)*d.in]
		sum := d.b.w[j]
		for i, xi := range x {
			sum += row[i] * xi
		}
		y[j] = sum
	}
	return y
}

// backward accumulates the parameter gradients for input x and output
// gradient dy. When needInput is set it also returns dLoss/dx.
func (d *dense) backward(x, dy []float64, needInput bool) []float64 {
	var dx []float64
	if needInput {
		dx = make([]float64, d.in)
	}
	for j := 0; j < d.out; j++ {
		g := dy[j]
		if g == 0 {
			continue
		}
		d.b.g[j] += g
		row := d.W.w[j*d.in : (j+1)*d.in]
		grow := d.W.g[j*d.in : (j+1)*d.in]
		for i, xi := range x {
			grow[i] += g * xi
			if dx != nil {
				dx[i] += g * row[i]
			}
		}
	}
	return dx
}

func (d *dense) params() []*param { return []*param{d.W, d.b} }

// activationReLU returns max(0, x) elementwise.
func activationReLU(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// reluBackward gates dy by the sign of the pre-activation.
func reluBackward(preact, dy []float64) []float64 {
	out := make([]float64, len(dy))
	for i := range dy {
		if preact[i] > 0 {
			out[i] = dy[i]
		}
	}
	return out
}

// logSoftmax returns log-probabilities and probabilities of logits.
func logSoftmax(logits []float64) (logp, probs []float64) {
	maxv := math.Inf(-1)
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxv)
	}
	lse := maxv + math.Log(sum)
	logp = make([]float64, len(logits))
	probs = make([]float64, len(logits))
	for i, v := range logits {
		logp[i] = v - lse
		probs[i] = math.Exp(logp[i])
	}
	return logp, probs
}

// logSoftmaxBackward maps dLoss/dlogp to dLoss/dlogits.
func logSoftmaxBackward(probs, dlogp []float64) []float64 {
	var sum float64
	for _, g := range dlogp {
		sum += g
	}
	out := make([]float64, len(dlogp))
	for k := range dlogp {
		out[k] = dlogp[k] - probs[k]*sum
	}
	return out
}

// dropoutMask returns inverted-dropout multipliers (0 or 1/(1-p)).
func dropoutMask(n int, p float64, rng *rand.Rand) []float64 {
	keep := 1 - p
	out := make([]float64, n)
	for i := range out {
		if rng.Float64() < keep {
			out[i] = 1 / keep
		}
	}
	return out
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// axpy computes y += a*x.
func axpy(a float64, x, y []float64) {
	for i := range x {
		y[i] += a * x[i]
	}
}
