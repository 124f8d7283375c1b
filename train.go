package lstmgo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"

	"github.com/google/uuid"
)

// Hyperparameters describe a model to build from scratch.
type Hyperparameters struct {
	OutputUnits  int     // vocabulary size
	NumUnits     []int   // hidden layer widths, only the first is used
	Loss         string  // loss identifier
	LearningRate float32 // Adam step size
}

// Config is everything one training invocation needs.
type Config struct {
	Hyperparameters
	Epochs         int
	BatchSize      int
	CheckpointPath string
	SequenceLength int
	Seed           int64
	Shuffle        bool
}

func DefaultConfig() Config {
	return Config{
		Hyperparameters: Hyperparameters{
			OutputUnits:  38,
			NumUnits:     []int{256},
			Loss:         string(SparseCategoricalCrossentropy),
			LearningRate: 0.001,
		},
		Epochs:         50,
		BatchSize:      64,
		CheckpointPath: "model.h5",
		SequenceLength: 64,
		Seed:           DefaultSeed,
		Shuffle:        true,
	}
}

// Build constructs and compiles a fresh model and writes its summary to out.
func Build(hp Hyperparameters, out io.Writer) (*LSTM, error) {
	return buildModel(hp, DefaultSeed, out)
}

func buildModel(hp Hyperparameters, seed int64, out io.Writer) (*LSTM, error) {
	if hp.OutputUnits <= 0 {
		return nil, fmt.Errorf("output units must be positive, got %d", hp.OutputUnits)
	}
	if len(hp.NumUnits) == 0 || hp.NumUnits[0] <= 0 {
		return nil, fmt.Errorf("num units must start with a positive width, got %v", hp.NumUnits)
	}
	if hp.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", hp.LearningRate)
	}
	loss, err := ParseLoss(hp.Loss)
	if err != nil {
		return nil, err
	}
	model := newLSTM(hp.OutputUnits, hp.NumUnits[0], newCompilation(loss, hp.LearningRate), seed)
	model.Params.initialize(model.Config.V, model.Config.H, model.Rand)
	if out != nil {
		model.Summary(out)
	}
	return model, nil
}

// ModelSource is where the model to train comes from: either Loaded from an existing
// checkpoint or Built from hyperparameters.
type ModelSource interface {
	Resolve(seed int64, out io.Writer) (*LSTM, error)
	isModelSource()
}

// Loaded restores a checkpoint; hyperparameters play no part.
type Loaded struct {
	Path string
}

func (Loaded) isModelSource() {}

func (l Loaded) Resolve(seed int64, out io.Writer) (*LSTM, error) {
	fmt.Fprintln(out, "Loading saved model...")
	model, err := LoadCheckpoint(l.Path)
	if err != nil {
		return nil, err
	}
	model.Rand = rand.New(rand.NewSource(seed))
	return model, nil
}

// Built compiles a new model.
type Built struct {
	Hyperparameters
}

func (Built) isModelSource() {}

func (b Built) Resolve(seed int64, out io.Writer) (*LSTM, error) {
	fmt.Fprintln(out, "Building a new model...")
	return buildModel(b.Hyperparameters, seed, out)
}

// ResolveModelSource picks Loaded when a file exists at the checkpoint path.
func ResolveModelSource(cfg Config) (ModelSource, error) {
	_, err := os.Stat(cfg.CheckpointPath)
	switch {
	case err == nil:
		return Loaded{Path: cfg.CheckpointPath}, nil
	case errors.Is(err, fs.ErrNotExist):
		return Built{Hyperparameters: cfg.Hyperparameters}, nil
	default:
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
}

// Train runs one full training invocation: generate data, load or build the model,
// then fit for cfg.Epochs while saving the best-loss model to cfg.CheckpointPath.
func Train(cfg Config, generate SequenceGenerator, out io.Writer) (*History, error) {
	if out == nil {
		out = io.Discard
	}
	ds, err := generate(cfg.SequenceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate training sequences: %w", err)
	}
	source, err := ResolveModelSource(cfg)
	if err != nil {
		return nil, err
	}
	model, err := source.Resolve(cfg.Seed, out)
	if err != nil {
		return nil, err
	}
	model.RunID = uuid.New()
	fmt.Fprintf(out, "run_id: %s\n", model.RunID)
	checkpoint := NewModelCheckpoint(cfg.CheckpointPath, out)
	return model.Fit(ds, FitOptions{
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		Hooks:     []EpochHook{checkpoint},
		Out:       out,
	})
}
