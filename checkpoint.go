package lstmgo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	checkpointMagic   = 20240519
	checkpointVersion = 1
)

// header slots
const (
	hdrMagic = iota
	hdrVersion
	hdrOutputUnits
	hdrNumUnits
	hdrLoss
	hdrLearningRate
	hdrBeta1
	hdrBeta2
	hdrEpsilon
	hdrDropout
	hdrStep
	hdrOptimizerState
	hdrRunID // 4 slots, 16 bytes
)

var ErrBadCheckpoint = errors.New("bad checkpoint file format")

// LoadCheckpoint restores a whole model (architecture, compile settings, weights and
// optimizer state) from a checkpoint file.
func LoadCheckpoint(checkpointPath string) (*LSTM, error) {
	f, err := os.Open(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint: %w", err)
	}
	defer f.Close()
	return loadFromReader(bufio.NewReader(f), DefaultSeed)
}

func loadFromReader(f io.Reader, seed int64) (*LSTM, error) {
	header := make([]int32, 256)
	if err := binary.Read(f, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("error reading checkpoint header: %w", err)
	}
	if header[hdrMagic] != checkpointMagic || header[hdrVersion] != checkpointVersion {
		return nil, ErrBadCheckpoint
	}
	V, H := int(header[hdrOutputUnits]), int(header[hdrNumUnits])
	if V <= 0 || H <= 0 {
		return nil, fmt.Errorf("%w: shape (%d, %d)", ErrBadCheckpoint, V, H)
	}
	loss, err := lossFromID(header[hdrLoss])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	compiled := newCompilation(loss, float32FromBits(header[hdrLearningRate]))
	compiled.Beta1 = float32FromBits(header[hdrBeta1])
	compiled.Beta2 = float32FromBits(header[hdrBeta2])
	compiled.Epsilon = float32FromBits(header[hdrEpsilon])
	model := newLSTM(V, H, compiled, seed)
	model.Config.DropoutRate = float32FromBits(header[hdrDropout])
	model.Step = int(header[hdrStep])
	var id [16]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(id[i*4:], uint32(header[hdrRunID+i]))
	}
	model.RunID = uuid.UUID(id)
	if err := binary.Read(f, binary.LittleEndian, model.Params.Memory); err != nil {
		return nil, fmt.Errorf("error reading weights: %w", err)
	}
	if header[hdrOptimizerState] == 1 {
		model.MMemory = make([]float32, model.Params.Len())
		model.VMemory = make([]float32, model.Params.Len())
		if err := binary.Read(f, binary.LittleEndian, model.MMemory); err != nil {
			return nil, fmt.Errorf("error reading optimizer state: %w", err)
		}
		if err := binary.Read(f, binary.LittleEndian, model.VMemory); err != nil {
			return nil, fmt.Errorf("error reading optimizer state: %w", err)
		}
	}
	return model, nil
}

// SaveCheckpoint writes the whole model to checkpointPath. The file is written next to
// its destination and renamed into place, so readers see either the old or the new model.
func SaveCheckpoint(model *LSTM, checkpointPath string) error {
	dir, base := filepath.Split(checkpointPath)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	w := bufio.NewWriter(tmp)
	if err := writeCheckpoint(w, model); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), checkpointPath); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

func writeCheckpoint(w io.Writer, model *LSTM) error {
	header := make([]int32, 256)
	header[hdrMagic] = checkpointMagic
	header[hdrVersion] = checkpointVersion
	header[hdrOutputUnits] = int32(model.Config.V)
	header[hdrNumUnits] = int32(model.Config.H)
	header[hdrLoss] = lossIDs[model.Compiled.Loss]
	header[hdrLearningRate] = float32Bits(model.Compiled.LearningRate)
	header[hdrBeta1] = float32Bits(model.Compiled.Beta1)
	header[hdrBeta2] = float32Bits(model.Compiled.Beta2)
	header[hdrEpsilon] = float32Bits(model.Compiled.Epsilon)
	header[hdrDropout] = float32Bits(model.Config.DropoutRate)
	header[hdrStep] = int32(model.Step)
	hasOptimizerState := model.MMemory != nil
	if hasOptimizerState {
		header[hdrOptimizerState] = 1
	}
	for i := 0; i < 4; i++ {
		header[hdrRunID+i] = int32(binary.LittleEndian.Uint32(model.RunID[i*4:]))
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("error writing checkpoint header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, model.Params.Memory); err != nil {
		return fmt.Errorf("error writing weights: %w", err)
	}
	if hasOptimizerState {
		if err := binary.Write(w, binary.LittleEndian, model.MMemory); err != nil {
			return fmt.Errorf("error writing optimizer state: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, model.VMemory); err != nil {
			return fmt.Errorf("error writing optimizer state: %w", err)
		}
	}
	return nil
}

func float32Bits(f float32) int32 {
	return int32(math.Float32bits(f))
}

func float32FromBits(b int32) float32 {
	return math.Float32frombits(uint32(b))
}

// ModelCheckpoint saves the model whenever an epoch's training loss is strictly lower
// than the best loss seen so far by this hook. The best loss starts at +Inf, so the
// first epoch of every run writes.
type ModelCheckpoint struct {
	Path    string
	Verbose bool
	Out     io.Writer
	best    float32
	save    func(model *LSTM, path string) error
}

func NewModelCheckpoint(path string, out io.Writer) *ModelCheckpoint {
	if out == nil {
		out = io.Discard
	}
	return &ModelCheckpoint{
		Path:    path,
		Verbose: true,
		Out:     out,
		best:    Inf(1),
		save:    SaveCheckpoint,
	}
}

func (c *ModelCheckpoint) Best() float32 {
	return c.best
}

func (c *ModelCheckpoint) OnEpochEnd(epoch int, logs EpochLogs, model *LSTM) error {
	if !(logs.Loss < c.best) {
		if c.Verbose {
			fmt.Fprintf(c.Out, "Epoch %d: loss did not improve from %s\n", epoch, formatLoss(c.best))
		}
		return nil
	}
	if c.Verbose {
		fmt.Fprintf(c.Out, "Epoch %d: loss improved from %s to %s, saving model to %s\n",
			epoch, formatLoss(c.best), formatLoss(logs.Loss), c.Path)
	}
	c.best = logs.Loss
	if err := c.save(model, c.Path); err != nil {
		return fmt.Errorf("epoch %d: %w", epoch, err)
	}
	return nil
}

func formatLoss(l float32) string {
	if math.IsInf(float64(l), 1) {
		return "inf"
	}
	return fmt.Sprintf("%.5f", l)
}
