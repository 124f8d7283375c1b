package lstmgo

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"
)

// EpochLogs are the metrics of one training epoch, averaged over its samples.
type EpochLogs struct {
	Loss     float32
	Accuracy float32
}

// EpochHook runs after every epoch. Returning an error stops training.
type EpochHook interface {
	OnEpochEnd(epoch int, logs EpochLogs, model *LSTM) error
}

type FitOptions struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	Hooks     []EpochHook
	Out       io.Writer
}

// History records the logs of every epoch a Fit ran.
type History struct {
	Loss     []float32
	Accuracy []float32
}

func (h *History) Epochs() int {
	return len(h.Loss)
}

func checkDataset(model *LSTM, ds *Dataset) error {
	if ds == nil || ds.NumSamples == 0 {
		return errors.New("error: no training samples")
	}
	if ds.VocabSize != model.Config.V {
		return fmt.Errorf("error: incompatible shape: model expects %d features per timestep, data has %d",
			model.Config.V, ds.VocabSize)
	}
	return nil
}

// Fit trains for exactly opts.Epochs passes over ds, one optimizer update per batch.
func (model *LSTM) Fit(ds *Dataset, opts FitOptions) (*History, error) {
	if err := checkDataset(model, ds); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	history := &History{}
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		start := time.Now()
		fmt.Fprintf(out, "Epoch %d/%d\n", epoch, opts.Epochs)
		var rng *rand.Rand
		if opts.Shuffle {
			rng = model.Rand
		}
		batches := ds.Batches(opts.BatchSize, rng)
		var lossSum, accSum float64
		for {
			inputs, targets, B, ok := batches.Next()
			if !ok {
				break
			}
			if err := model.TrainStep(inputs, targets, B, ds.SequenceLength); err != nil {
				return history, err
			}
			lossSum += float64(model.MeanLoss) * float64(B)
			accSum += float64(model.Accuracy) * float64(B)
		}
		logs := EpochLogs{
			Loss:     float32(lossSum / float64(ds.NumSamples)),
			Accuracy: float32(accSum / float64(ds.NumSamples)),
		}
		history.Loss = append(history.Loss, logs.Loss)
		history.Accuracy = append(history.Accuracy, logs.Accuracy)
		fmt.Fprintf(out, "%d/%d - %v - loss: %.4f - accuracy: %.4f\n",
			batches.NumBatches(), batches.NumBatches(), time.Since(start).Round(time.Millisecond), logs.Loss, logs.Accuracy)
		for _, hook := range opts.Hooks {
			if err := hook.OnEpochEnd(epoch, logs, model); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// Evaluate returns the mean loss and accuracy over ds with dropout disabled.
func (model *LSTM) Evaluate(ds *Dataset, batchSize int) (loss, accuracy float32, err error) {
	if err := checkDataset(model, ds); err != nil {
		return 0, 0, err
	}
	if batchSize <= 0 {
		return 0, 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	batches := ds.Batches(batchSize, nil)
	var lossSum, accSum float64
	for {
		inputs, targets, B, ok := batches.Next()
		if !ok {
			break
		}
		model.Forward(inputs, targets, B, ds.SequenceLength, false)
		lossSum += float64(model.MeanLoss) * float64(B)
		accSum += float64(model.Accuracy) * float64(B)
	}
	return float32(lossSum / float64(ds.NumSamples)), float32(accSum / float64(ds.NumSamples)), nil
}
