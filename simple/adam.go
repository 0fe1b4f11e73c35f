package simple

import "math"

// adam applies one Adam update with L2 weight decay folded into the gradient
// (g += wd * w), matching the classic coupled formulation.
type adam struct {
	lr, beta1, beta2, eps, weightDecay float64
	step                               int
}

func (a *adam) update(ps []*param) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for _, p := range ps {
		for i := range p.w {
			g := p.g[i] + a.weightDecay*p.w[i]
			p.m[i] = a.beta1*p.m[i] + (1-a.beta1)*g
			p.v[i] = a.beta2*p.v[i] + (1-a.beta2)*g*g
			mhat := p.m[i] / c1
			vhat := p.v[i] / c2
			p.w[i] -= a.lr * mhat / (math.Sqrt(vhat) + a.eps)
		}
	}
}

// clipGradNorm rescales all gradients so their global L2 norm is at most maxNorm.
func clipGradNorm(ps []*param, maxNorm float64) float64 {
	var sq float64
	for _, p := range ps {
		for _, g := range p.g {
			sq += g * g
		}
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range ps {
			for i := range p.g {
				p.g[i] *= scale
			}
		}
	}
	return norm
}
