package lstmgo

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// DefaultSeed seeds weight initialisation, dropout and shuffling unless a Config says otherwise.
const DefaultSeed = 21

// DropoutRate is the fraction of the final hidden state zeroed while training.
const DropoutRate float32 = 0.2

// Loss names a classification loss.
type Loss string

const SparseCategoricalCrossentropy Loss = "sparse_categorical_crossentropy"

// loss ids as stored in checkpoint headers
var lossIDs = map[Loss]int32{
	SparseCategoricalCrossentropy: 1,
}

func ParseLoss(name string) (Loss, error) {
	l := Loss(name)
	if _, ok := lossIDs[l]; !ok {
		return "", fmt.Errorf("unknown loss function: %q", name)
	}
	return l, nil
}

func lossFromID(id int32) (Loss, error) {
	for l, i := range lossIDs {
		if i == id {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown loss id %d", id)
}

type LSTMConfig struct {
	V           int     `json:"output_units"` // vocabulary size, both input channels and output classes
	H           int     `json:"num_units"`    // LSTM width
	DropoutRate float32 `json:"dropout_rate"`
}

// Compilation is what compiling a model fixes: loss, Adam settings and the tracked metric.
type Compilation struct {
	Loss         Loss
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	Metric       string
}

func newCompilation(loss Loss, learningRate float32) Compilation {
	return Compilation{
		Loss:         loss,
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		Metric:       "accuracy",
	}
}

// LSTM is a next-symbol predictor: Input(None, V) -> LSTM(H) -> Dropout -> Dense(V, softmax).
type LSTM struct {
	Config   LSTMConfig
	Compiled Compilation
	// Params has the weights of the model, Grads the matching gradients
	Params ParameterTensors
	Grads  ParameterTensors
	// Adam state
	MMemory []float32 // first moment estimates
	VMemory []float32 // second moment estimates
	Step    int       // number of optimizer updates applied so far
	Acts    ActivationTensors
	// gradients of the activations
	GradsActs GradientActivationTensors
	B         int       // current batch size
	T         int       // current sequence length
	Inputs    []float32 // (B, T, V) one-hot inputs of the last forward pass
	Targets   []int32   // (B) target classes of the last forward pass
	MeanLoss  float32   // mean loss after a forward pass, -1 without targets
	Accuracy  float32   // batch accuracy after a forward pass
	RunID     uuid.UUID // training run that last wrote this model
	Rand      *rand.Rand
}

func newLSTM(V, H int, compiled Compilation, seed int64) *LSTM {
	model := &LSTM{
		Config: LSTMConfig{
			V:           V,
			H:           H,
			DropoutRate: DropoutRate,
		},
		Compiled: compiled,
		Rand:     rand.New(rand.NewSource(seed)),
	}
	model.Params.Init(V, H)
	return model
}

func (model *LSTM) NumParameters() int {
	return model.Params.Len()
}

func (model *LSTM) String() string {
	var s string
	s += "[LSTM]\n"
	s += fmt.Sprintf("output_units: %d\n", model.Config.V)
	s += fmt.Sprintf("num_units: %d\n", model.Config.H)
	s += fmt.Sprintf("dropout: %g\n", model.Config.DropoutRate)
	s += fmt.Sprintf("loss: %s\n", model.Compiled.Loss)
	s += fmt.Sprintf("learning_rate: %g\n", model.Compiled.LearningRate)
	s += fmt.Sprintf("optimizer_step: %d\n", model.Step)
	s += fmt.Sprintf("num_parameters: %d\n", model.NumParameters())
	return s
}

// Summary writes a layer table with output shapes and parameter counts.
func (model *LSTM) Summary(w io.Writer) {
	V, H := model.Config.V, model.Config.H
	rule := strings.Repeat("_", 65)
	double := strings.Repeat("=", 65)
	row := func(name, shape string, params int) {
		fmt.Fprintf(w, " %-27s %-25s %-10s\n", name, shape, groupDigits(params))
	}
	fmt.Fprintf(w, "Model: \"lstm_next_symbol\"\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, " %-27s %-25s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, double)
	row("input (InputLayer)", fmt.Sprintf("[(None, None, %d)]", V), 0)
	row("lstm (LSTM)", fmt.Sprintf("(None, %d)", H), lstmParameterCount(V, H))
	row("dropout (Dropout)", fmt.Sprintf("(None, %d)", H), 0)
	row("dense (Dense)", fmt.Sprintf("(None, %d)", V), denseParameterCount(V, H))
	fmt.Fprintln(w, double)
	fmt.Fprintf(w, "Total params: %s\n", groupDigits(model.NumParameters()))
	fmt.Fprintf(w, "Trainable params: %s\n", groupDigits(model.NumParameters()))
	fmt.Fprintf(w, "Non-trainable params: 0\n")
	fmt.Fprintln(w, rule)
}

func groupDigits(n int) string {
	s := fmt.Sprint(n)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// ensureActivations (re)allocates the activation arena when the batch shape changes.
func (model *LSTM) ensureActivations(B, T int) {
	if model.Acts.Memory != nil && model.B == B && model.T == T {
		return
	}
	V, H := model.Config.V, model.Config.H
	model.B, model.T = B, T
	model.Acts.Init(B, T, V, H)
	model.GradsActs = GradientActivationTensors{}
	model.Inputs = make([]float32, B*T*V)
	model.Targets = make([]int32, B)
}

// Forward runs the network over a (B, T, V) batch of one-hot inputs. With targets it
// also computes the mean loss and accuracy; training enables dropout.
func (model *LSTM) Forward(input []float32, target []int32, B, T int, training bool) {
	V, H := model.Config.V, model.Config.H
	model.ensureActivations(B, T)
	copy(model.Inputs, input)
	params, acts := model.Params, model.Acts
	for t := 0; t < T; t++ {
		// x_t for every sample lives at Inputs[b*T*V + t*V], i.e. a (B, V) view with row stride T*V
		x := model.Inputs[t*V:]
		var hPrev, cPrev []float32
		if t > 0 {
			hPrev = acts.Hidden.index(t - 1).data
			cPrev = acts.Cell.index(t - 1).data
		}
		gates := acts.Gates.index(t).data
		lstmGatesForward(gates, x, T*V, hPrev, params.Kernel.data, params.RecurrentKernel.data, params.Bias.data, B, V, H)
		lstmCellForward(acts.Cell.index(t).data, acts.CellTanh.index(t).data, acts.Hidden.index(t).data, gates, cPrev, B, H)
	}
	// only the last hidden state feeds the classifier
	var coin func() float32
	if training {
		coin = model.Rand.Float32
	}
	dropoutForward(acts.Dropped.data, acts.DropoutMask.data, acts.Hidden.index(T-1).data, model.Config.DropoutRate, coin)
	denseForward(acts.Logits.data, acts.Dropped.data, params.DenseW.data, params.DenseB.data, B, H, V)
	softmaxForward(acts.Probabilities.data, acts.Logits.data, B, V)
	if len(target) > 0 {
		copy(model.Targets, target)
		crossEntropyForward(acts.Losses.data, acts.Probabilities.data, model.Targets, B, V)
		var meanLoss float32
		for _, l := range acts.Losses.data {
			meanLoss += l
		}
		model.MeanLoss = meanLoss / float32(B)
		model.Accuracy = accuracyForward(acts.Probabilities.data, model.Targets, B, V)
	} else {
		model.MeanLoss = -1.0
	}
}

// Backward backpropagates the mean loss of the last Forward through time into Grads.
func (model *LSTM) Backward() error {
	if model.MeanLoss == -1.0 {
		return errors.New("error: must forward with targets before backward")
	}
	B, T, V, H := model.B, model.T, model.Config.V, model.Config.H
	if len(model.Grads.Memory) == 0 {
		model.Grads.Init(V, H)
	}
	if len(model.GradsActs.Memory) == 0 {
		model.GradsActs.Init(B, V, H)
	}
	params, grads, acts, gradsActs := model.Params, model.Grads, model.Acts, model.GradsActs
	crossentropySoftmaxBackward(gradsActs.Logits.data, acts.Probabilities.data, model.Targets, B, V)
	denseBackward(gradsActs.Dropped.data, grads.DenseW.data, grads.DenseB.data, gradsActs.Logits.data, acts.Dropped.data, params.DenseW.data, B, H, V)
	dropoutBackward(gradsActs.Hidden.data, gradsActs.Dropped.data, acts.DropoutMask.data)
	for i := range gradsActs.Cell.data {
		gradsActs.Cell.data[i] = 0
	}
	for t := T - 1; t >= 0; t-- {
		var hPrev, cPrev []float32
		if t > 0 {
			hPrev = acts.Hidden.index(t - 1).data
			cPrev = acts.Cell.index(t - 1).data
		}
		lstmCellBackward(gradsActs.Gates.data, gradsActs.Hidden.data, gradsActs.Cell.data, acts.Gates.index(t).data, acts.CellTanh.index(t).data, cPrev, B, H)
		lstmBackwardWeights(grads.Kernel.data, grads.RecurrentKernel.data, grads.Bias.data, gradsActs.Hidden.data, gradsActs.Gates.data, model.Inputs[t*V:], T*V, hPrev, params.RecurrentKernel.data, B, V, H)
	}
	return nil
}

// Update applies one Adam step using the gradients in Grads.
func (model *LSTM) Update(learningRate, beta1, beta2, eps, weightDecay float32, t int) {
	if model.MMemory == nil {
		model.MMemory = make([]float32, model.Params.Len())
		model.VMemory = make([]float32, model.Params.Len())
	}
	for i := 0; i < model.Params.Len(); i++ {
		parameter := model.Params.Memory[i]
		gradient := model.Grads.Memory[i]
		// Momentum update
		m := beta1*model.MMemory[i] + (1.0-beta1)*gradient
		// RMSprop update
		v := beta2*model.VMemory[i] + (1.0-beta2)*gradient*gradient
		// Bias correction
		mHat := m / (1.0 - Pow(beta1, float32(t)))
		vHat := v / (1.0 - Pow(beta2, float32(t)))
		model.MMemory[i] = m
		model.VMemory[i] = v
		model.Params.Memory[i] -= learningRate * (mHat/(Sqrt(vHat)+eps) + weightDecay*parameter)
	}
}

func (model *LSTM) ZeroGradient() {
	for i := range model.GradsActs.Memory {
		model.GradsActs.Memory[i] = 0.0
	}
	for i := range model.Grads.Memory {
		model.Grads.Memory[i] = 0.0
	}
}

// TrainStep does forward, backward and one optimizer update on a single batch.
func (model *LSTM) TrainStep(input []float32, target []int32, B, T int) error {
	model.Forward(input, target, B, T, true)
	model.ZeroGradient()
	if err := model.Backward(); err != nil {
		return err
	}
	model.Step++
	c := model.Compiled
	model.Update(c.LearningRate, c.Beta1, c.Beta2, c.Epsilon, 0.0, model.Step)
	return nil
}

// Predict returns the (B, V) next-symbol distributions for a (B, T, V) batch.
func (model *LSTM) Predict(input []float32, B, T int) []float32 {
	model.Forward(input, nil, B, T, false)
	out := make([]float32, len(model.Acts.Probabilities.data))
	copy(out, model.Acts.Probabilities.data)
	return out
}
