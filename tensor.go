package lstmgo

type tensor struct {
	data []float32
	dims []int
}

func (t tensor) Data() []float32 {
	return t.data
}

func newTensor(data []float32, dims ...int) (tensor, int) {
	s := 1
	for _, d := range dims {
		s *= d
	}
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return tensor{
		data: data[:s],
		dims: dims,
	}, s
}

func (t tensor) size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

// index returns the sub-tensor selected by the leading indices, e.g. Hidden.index(t)
// is the (B, H) hidden state of timestep t.
func (t tensor) index(idx ...int) tensor {
	if len(idx) > len(t.dims) {
		panic("too many indices for tensor dimensions")
	}
	for i, dim := range idx {
		if dim < 0 || dim >= t.dims[i] {
			panic("index out of bounds")
		}
	}
	newDims := t.dims[len(idx):]
	stride := 1
	for _, d := range newDims {
		stride *= d
	}
	linearIndex := 0
	for i := range idx {
		step := stride
		for _, d := range t.dims[i+1 : len(idx)] {
			step *= d
		}
		linearIndex += idx[i] * step
	}
	return tensor{
		data: t.data[linearIndex : linearIndex+stride],
		dims: newDims,
	}
}

// ParameterTensors are the trainable weights of the model. Gate blocks inside the
// LSTM tensors are ordered input, forget, cell candidate, output.
type ParameterTensors struct {
	Memory          []float32
	Kernel          tensor // (V, 4*H) - input-to-gate weights (Vocabulary size, 4 * Hidden units)
	RecurrentKernel tensor // (H, 4*H) - hidden-to-gate weights
	Bias            tensor // (4*H) - gate biases
	DenseW          tensor // (H, V) - output projection weights
	DenseB          tensor // (V) - output projection biases
}

// Init lays the parameter tensors out over a single contiguous slice.
func (tensor *ParameterTensors) Init(V, H int) {
	tensor.Memory = make([]float32, parameterCount(V, H))
	tensor.wire(V, H)
}

func (tensor *ParameterTensors) wire(V, H int) {
	var ptr int
	memPtr := tensor.Memory
	tensor.Kernel, ptr = newTensor(memPtr, V, 4*H)
	memPtr = memPtr[ptr:]
	tensor.RecurrentKernel, ptr = newTensor(memPtr, H, 4*H)
	memPtr = memPtr[ptr:]
	tensor.Bias, ptr = newTensor(memPtr, 4*H)
	memPtr = memPtr[ptr:]
	tensor.DenseW, ptr = newTensor(memPtr, H, V)
	memPtr = memPtr[ptr:]
	tensor.DenseB, ptr = newTensor(memPtr, V)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("parameter layout does not cover memory")
	}
}

func (tensor ParameterTensors) Len() int {
	return len(tensor.Memory)
}

func lstmParameterCount(V, H int) int {
	return V*4*H + // Kernel
		H*4*H + // RecurrentKernel
		4*H // Bias
}

func denseParameterCount(V, H int) int {
	return H*V + V
}

func parameterCount(V, H int) int {
	return lstmParameterCount(V, H) + denseParameterCount(V, H)
}

// ActivationTensors hold everything the forward pass keeps around for backprop.
// Recurrent activations are time-major so each timestep is one contiguous (B, X) block.
type ActivationTensors struct {
	Memory        []float32
	Gates         tensor // (T, B, 4*H) - gate activations i, f, g, o after their nonlinearity
	Cell          tensor // (T, B, H) - cell state
	CellTanh      tensor // (T, B, H) - tanh of the cell state
	Hidden        tensor // (T, B, H) - hidden state
	DropoutMask   tensor // (B, H) - 0 for dropped units, 1/(1-rate) for kept ones
	Dropped       tensor // (B, H) - final hidden state after dropout
	Logits        tensor // (B, V) - dense projection output
	Probabilities tensor // (B, V) - softmax over the vocabulary
	Losses        tensor // (B) - per-sample cross-entropy
}

func (tensor *ActivationTensors) Init(B, T, V, H int) {
	tensor.Memory = make([]float32,
		T*B*4*H+
			T*B*H+
			T*B*H+
			T*B*H+
			B*H+
			B*H+
			B*V+
			B*V+
			B)
	var ptr int
	memPtr := tensor.Memory
	tensor.Gates, ptr = newTensor(memPtr, T, B, 4*H)
	memPtr = memPtr[ptr:]
	tensor.Cell, ptr = newTensor(memPtr, T, B, H)
	memPtr = memPtr[ptr:]
	tensor.CellTanh, ptr = newTensor(memPtr, T, B, H)
	memPtr = memPtr[ptr:]
	tensor.Hidden, ptr = newTensor(memPtr, T, B, H)
	memPtr = memPtr[ptr:]
	tensor.DropoutMask, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.Dropped, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.Logits, ptr = newTensor(memPtr, B, V)
	memPtr = memPtr[ptr:]
	tensor.Probabilities, ptr = newTensor(memPtr, B, V)
	memPtr = memPtr[ptr:]
	tensor.Losses, ptr = newTensor(memPtr, B)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("activation layout does not cover memory")
	}
}

// GradientActivationTensors are the activation gradients needed during one
// backward pass. Recurrent gradients only ever span a single timestep.
type GradientActivationTensors struct {
	Memory  []float32
	Gates   tensor // (B, 4*H) - gradient w.r.t. gate pre-activations at the current timestep
	Hidden  tensor // (B, H) - gradient flowing into the hidden state
	Cell    tensor // (B, H) - gradient flowing into the cell state
	Dropped tensor // (B, H)
	Logits  tensor // (B, V)
}

func (tensor *GradientActivationTensors) Init(B, V, H int) {
	tensor.Memory = make([]float32,
		B*4*H+
			B*H+
			B*H+
			B*H+
			B*V)
	var ptr int
	memPtr := tensor.Memory
	tensor.Gates, ptr = newTensor(memPtr, B, 4*H)
	memPtr = memPtr[ptr:]
	tensor.Hidden, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.Cell, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.Dropped, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.Logits, ptr = newTensor(memPtr, B, V)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("gradient layout does not cover memory")
	}
}
