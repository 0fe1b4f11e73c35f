package simple

import "math"

// attend computes scaled dot-product self-attention over the encoder states of
// one session: alpha[t] = softmax_s(h_t . h_s / sqrt(H)), ctx[t] = sum_s alpha[t][s] h_s.
func attend(hs [][]float64) (alpha, ctx [][]float64) {
	n := len(hs)
	if n == 0 {
		return nil, nil
	}
	scale := 1 / math.Sqrt(float64(len(hs[0])))
	alpha = make([][]float64, n)
	ctx = make([][]float64, n)
	for t := 0; t < n; t++ {
		scores := make([]float64, n)
		for s := 0; s < n; s++ {
			scores[s] = dot(hs[t], hs[s]) * scale
		}
		_, alpha[t] = logSoftmax(scores)
		ctx[t] = make([]float64, len(hs[t]))
		for s := 0; s < n; s++ {
			axpy(alpha[t][s], hs[s], ctx[t])
		}
	}
	return alpha, ctx
}

// attendBackward adds into dh the gradient flowing from dctx through attend.
func attendBackward(hs, alpha, dctx, dh [][]float64) {
	n := len(hs)
	if n == 0 {
		return
	}
	scale := 1 / math.Sqrt(float64(len(hs[0])))
	for t := 0; t < n; t++ {
		da := make([]float64, n)
		var weighted float64
		for s := 0; s < n; s++ {
			da[s] = dot(dctx[t], hs[s])
			axpy(alpha[t][s], dctx[t], dh[s])
			weighted += alpha[t][s] * da[s]
		}
		for s := 0; s < n; s++ {
			de := alpha[t][s] * (da[s] - weighted) * scale
			axpy(de, hs[s], dh[t])
			axpy(de, hs[t], dh[s])
		}
	}
}
