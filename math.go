package lstmgo

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// probability clamp used by the cross-entropy, matching Keras' backend epsilon
const probEpsilon = 1e-7

// general views a row-major slice as a rows x cols matrix whose rows are stride apart.
// A stride larger than cols lets us address one timestep of a (B, T, V) batch in place.
func general(data []float32, rows, cols, stride int) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: stride, Data: data}
}

// broadcastRows fills every row of out (rows x len(bias)) with bias.
func broadcastRows(out, bias []float32, rows int) {
	n := len(bias)
	for r := 0; r < rows; r++ {
		copy(out[r*n:(r+1)*n], bias)
	}
}

// sumRows accumulates the column sums of inp (rows x len(dbias)) into dbias.
func sumRows(dbias, inp []float32, rows int) {
	n := len(dbias)
	for r := 0; r < rows; r++ {
		row := inp[r*n : (r+1)*n]
		for i := range dbias {
			dbias[i] += row[i]
		}
	}
}

// lstmGatesForward computes the gate pre-activations of one timestep:
// gates = x_t @ kernel + h_{t-1} @ recurrentKernel + bias.
// x is (B, V) with row stride xStride, hPrev is (B, H) or nil for the first timestep.
func lstmGatesForward(gates, x []float32, xStride int, hPrev, kernel, recurrentKernel, bias []float32, B, V, H int) {
	G := 4 * H
	broadcastRows(gates, bias, B)
	out := general(gates, B, G, G)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(x, B, V, xStride), general(kernel, V, G, G), 1, out)
	if hPrev != nil {
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(hPrev, B, H, H), general(recurrentKernel, H, G, G), 1, out)
	}
}

// lstmCellForward applies the gate nonlinearities in place and advances the cell:
//
//	i, f, o = sigmoid(z_i, z_f, z_o)   g = tanh(z_g)
//	c_t = f*c_{t-1} + i*g              h_t = o*tanh(c_t)
//
// cellPrev is nil on the first timestep, where the previous state is zero.
func lstmCellForward(cell, cellTanh, hidden, gates, cellPrev []float32, B, H int) {
	G := 4 * H
	for b := 0; b < B; b++ {
		gatesB := gates[b*G : (b+1)*G]
		for j := 0; j < H; j++ {
			i := Sigmoid(gatesB[j])
			f := Sigmoid(gatesB[H+j])
			g := Tanh(gatesB[2*H+j])
			o := Sigmoid(gatesB[3*H+j])
			gatesB[j], gatesB[H+j], gatesB[2*H+j], gatesB[3*H+j] = i, f, g, o
			var cp float32
			if cellPrev != nil {
				cp = cellPrev[b*H+j]
			}
			c := f*cp + i*g
			tc := Tanh(c)
			cell[b*H+j] = c
			cellTanh[b*H+j] = tc
			hidden[b*H+j] = o * tc
		}
	}
}

// lstmCellBackward turns dhidden (and the running dcell) into gate pre-activation
// gradients for one timestep. On return dcell holds the gradient w.r.t. c_{t-1}.
func lstmCellBackward(dgates, dhidden, dcell, gates, cellTanh, cellPrev []float32, B, H int) {
	G := 4 * H
	for b := 0; b < B; b++ {
		gatesB := gates[b*G : (b+1)*G]
		dgatesB := dgates[b*G : (b+1)*G]
		for j := 0; j < H; j++ {
			i, f, g, o := gatesB[j], gatesB[H+j], gatesB[2*H+j], gatesB[3*H+j]
			tc := cellTanh[b*H+j]
			var cp float32
			if cellPrev != nil {
				cp = cellPrev[b*H+j]
			}
			dh := dhidden[b*H+j]
			dc := dcell[b*H+j] + dh*o*(1-tc*tc)
			do := dh * tc
			di := dc * g
			dg := dc * i
			df := dc * cp
			dgatesB[j] = di * i * (1 - i)
			dgatesB[H+j] = df * f * (1 - f)
			dgatesB[2*H+j] = dg * (1 - g*g)
			dgatesB[3*H+j] = do * o * (1 - o)
			dcell[b*H+j] = dc * f
		}
	}
}

// lstmBackwardWeights accumulates the kernel, recurrent kernel and bias gradients of one
// timestep and, when hPrev is set, writes the gradient w.r.t. h_{t-1} into dhPrev.
func lstmBackwardWeights(dkernel, drecurrent, dbias, dhPrev, dgates, x []float32, xStride int, hPrev, recurrentKernel []float32, B, V, H int) {
	G := 4 * H
	dg := general(dgates, B, G, G)
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(x, B, V, xStride), dg, 1, general(dkernel, V, G, G))
	sumRows(dbias, dgates, B)
	if hPrev == nil {
		return
	}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(hPrev, B, H, H), dg, 1, general(drecurrent, H, G, G))
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, dg, general(recurrentKernel, H, G, G), 0, general(dhPrev, B, H, H))
}

// dropoutForward draws a new inverted-dropout mask when coin is set, otherwise it
// passes the input through unchanged (inference).
func dropoutForward(out, mask, inp []float32, rate float32, coin func() float32) {
	keep := 1 / (1 - rate)
	for i := range inp {
		m := float32(1)
		if coin != nil && rate > 0 {
			if coin() < rate {
				m = 0
			} else {
				m = keep
			}
		}
		mask[i] = m
		out[i] = inp[i] * m
	}
}

func dropoutBackward(dinp, dout, mask []float32) {
	for i := range dout {
		dinp[i] = dout[i] * mask[i]
	}
}

// denseForward computes out = inp @ weight + bias for inp (B, C) and weight (C, OC).
func denseForward(out, inp, weight, bias []float32, B, C, OC int) {
	broadcastRows(out, bias, B)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(inp, B, C, C), general(weight, C, OC, OC), 1, general(out, B, OC, OC))
}

// denseBackward accumulates weight and bias gradients and overwrites dinp.
func denseBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, C, OC int) {
	d := general(dout, B, OC, OC)
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(inp, B, C, C), d, 1, general(dweight, C, OC, OC))
	sumRows(dbias, dout, B)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, d, general(weight, C, OC, OC), 0, general(dinp, B, C, C))
}

func softmaxForward(probs, logits []float32, B, V int) {
	for b := 0; b < B; b++ {
		logitsB := logits[b*V : (b+1)*V]
		probsB := probs[b*V : (b+1)*V]
		maxv := Inf(-1)
		for _, l := range logitsB {
			maxv = max(maxv, l)
		}
		var sum float32
		for i, l := range logitsB {
			probsB[i] = Exp(l - maxv)
			sum += probsB[i]
		}
		for i := range probsB {
			probsB[i] /= sum
		}
	}
}

// crossEntropyForward is the sparse categorical cross-entropy of each sample.
func crossEntropyForward(losses, probs []float32, targets []int32, B, V int) {
	for b := 0; b < B; b++ {
		p := Clamp(probs[b*V+int(targets[b])], probEpsilon, 1-probEpsilon)
		losses[b] = -Log(p)
	}
}

// crossentropySoftmaxBackward writes the gradient of the mean batch loss w.r.t. the logits.
func crossentropySoftmaxBackward(dlogits, probs []float32, targets []int32, B, V int) {
	scale := 1 / float32(B)
	for b := 0; b < B; b++ {
		for v := 0; v < V; v++ {
			indicator := float32(0)
			if v == int(targets[b]) {
				indicator = 1
			}
			dlogits[b*V+v] = (probs[b*V+v] - indicator) * scale
		}
	}
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// accuracyForward returns the fraction of samples whose most probable class is the target.
func accuracyForward(probs []float32, targets []int32, B, V int) float32 {
	var hits int
	for b := 0; b < B; b++ {
		if argmax(probs[b*V:(b+1)*V]) == int(targets[b]) {
			hits++
		}
	}
	return float32(hits) / float32(B)
}
