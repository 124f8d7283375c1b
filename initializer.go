package lstmgo

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// glorotUniform fills w, a fanIn x fanOut matrix, from U(-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(w []float32, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

// orthogonal fills w, a rows x cols matrix, with an orthogonal matrix taken from the
// QR decomposition of a standard normal sample. The sign of each column of Q follows
// the diagonal of R so the result is uniformly distributed.
func orthogonal(w []float32, rows, cols int, rng *rand.Rand) {
	// QR needs a tall matrix; factor the transpose when w is wide
	n, m := rows, cols
	if rows < cols {
		n, m = cols, rows
	}
	sample := make([]float64, n*m)
	for i := range sample {
		sample[i] = rng.NormFloat64()
	}
	var qr mat.QR
	qr.Factorize(mat.NewDense(n, m, sample))
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	for j := 0; j < m; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1.0
		}
		for i := 0; i < n; i++ {
			v := float32(sign * q.At(i, j))
			if rows < cols {
				w[j*cols+i] = v
			} else {
				w[i*cols+j] = v
			}
		}
	}
}

// initialize sets up fresh weights the way Keras does for LSTM and Dense layers:
// glorot-uniform kernels, an orthogonal recurrent kernel, zero biases except the
// forget gate which starts at one.
func (params *ParameterTensors) initialize(V, H int, rng *rand.Rand) {
	glorotUniform(params.Kernel.data, V, 4*H, rng)
	orthogonal(params.RecurrentKernel.data, H, 4*H, rng)
	for i := range params.Bias.data {
		params.Bias.data[i] = 0
	}
	for j := H; j < 2*H; j++ {
		params.Bias.data[j] = 1
	}
	glorotUniform(params.DenseW.data, H, V, rng)
	for i := range params.DenseB.data {
		params.DenseB.data[i] = 0
	}
}
