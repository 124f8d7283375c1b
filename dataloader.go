package lstmgo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
)

const Int32ByteLen = 4

// Dataset is a training corpus of fixed-length one-hot windows and their next symbol.
// Inputs is (NumSamples, SequenceLength, VocabSize), Targets is (NumSamples).
type Dataset struct {
	Inputs         []float32
	Targets        []int32
	NumSamples     int
	SequenceLength int
	VocabSize      int
}

// SequenceGenerator produces the training corpus for a given window length.
type SequenceGenerator func(sequenceLength int) (*Dataset, error)

func NewDataset(inputs []float32, targets []int32, numSamples, sequenceLength, vocabSize int) (*Dataset, error) {
	if len(inputs) != numSamples*sequenceLength*vocabSize {
		return nil, fmt.Errorf("inputs hold %d values, want %d for shape (%d, %d, %d)",
			len(inputs), numSamples*sequenceLength*vocabSize, numSamples, sequenceLength, vocabSize)
	}
	if len(targets) != numSamples {
		return nil, fmt.Errorf("targets hold %d values, want %d", len(targets), numSamples)
	}
	for i, t := range targets {
		if t < 0 || int(t) >= vocabSize {
			return nil, fmt.Errorf("target %d of sample %d outside vocabulary of size %d", t, i, vocabSize)
		}
	}
	return &Dataset{
		Inputs:         inputs,
		Targets:        targets,
		NumSamples:     numSamples,
		SequenceLength: sequenceLength,
		VocabSize:      vocabSize,
	}, nil
}

// GenerateTrainingSequences slides a window of sequenceLength over tokens: sample i is
// tokens[i:i+sequenceLength] one-hot encoded, its target is tokens[i+sequenceLength].
func GenerateTrainingSequences(tokens []int32, sequenceLength, vocabSize int) (*Dataset, error) {
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", sequenceLength)
	}
	if len(tokens) <= sequenceLength {
		return nil, fmt.Errorf("error: %d tokens are too few for sequence length %d", len(tokens), sequenceLength)
	}
	for i, t := range tokens {
		if t < 0 || int(t) >= vocabSize {
			return nil, fmt.Errorf("token %d at position %d outside vocabulary of size %d", t, i, vocabSize)
		}
	}
	N, T, V := len(tokens)-sequenceLength, sequenceLength, vocabSize
	inputs := make([]float32, N*T*V)
	targets := make([]int32, N)
	for i := 0; i < N; i++ {
		for t := 0; t < T; t++ {
			inputs[i*T*V+t*V+int(tokens[i+t])] = 1
		}
		targets[i] = tokens[i+T]
	}
	return NewDataset(inputs, targets, N, T, V)
}

// LoadTokenFile reads a stream of little-endian int32 token ids.
func LoadTokenFile(filename string) ([]int32, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return readTokens(file, int(fileInfo.Size()))
}

func readTokens(file io.Reader, size int) ([]int32, error) {
	if size%Int32ByteLen != 0 {
		return nil, errors.New("error: token file size is not a multiple of 4 bytes")
	}
	data := make([]int32, size/Int32ByteLen)
	if err := binary.Read(file, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return data, nil
}

// TokenFileGenerator builds training sequences from a binary token file.
func TokenFileGenerator(filename string, vocabSize int) SequenceGenerator {
	return func(sequenceLength int) (*Dataset, error) {
		tokens, err := LoadTokenFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokens: %w", err)
		}
		return GenerateTrainingSequences(tokens, sequenceLength, vocabSize)
	}
}

// CorpusGenerator builds training sequences from a whitespace separated symbol corpus
// and the JSON symbol mapping that indexes it. The vocabulary size is the mapping size.
func CorpusGenerator(datasetPath, mappingPath string) SequenceGenerator {
	return func(sequenceLength int) (*Dataset, error) {
		vocab, err := LoadVocabulary(mappingPath)
		if err != nil {
			return nil, err
		}
		corpus, err := os.ReadFile(datasetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus: %w", err)
		}
		tokens, err := vocab.Encode(string(corpus))
		if err != nil {
			return nil, err
		}
		return GenerateTrainingSequences(tokens, sequenceLength, vocab.Size())
	}
}

// Batches iterates over the dataset in batches of batchSize, the last one possibly
// smaller. With rng set the sample order is shuffled first.
type Batches struct {
	dataset   *Dataset
	batchSize int
	order     []int
	position  int
	inputs    []float32
	targets   []int32
}

func (ds *Dataset) Batches(batchSize int, rng *rand.Rand) *Batches {
	order := make([]int, ds.NumSamples)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	sampleSize := ds.SequenceLength * ds.VocabSize
	return &Batches{
		dataset:   ds,
		batchSize: batchSize,
		order:     order,
		inputs:    make([]float32, batchSize*sampleSize),
		targets:   make([]int32, batchSize),
	}
}

func (it *Batches) NumBatches() int {
	return (len(it.order) + it.batchSize - 1) / it.batchSize
}

// Next returns the next batch and its size, or ok=false once the epoch is exhausted.
// The returned slices are reused by the following call.
func (it *Batches) Next() (inputs []float32, targets []int32, B int, ok bool) {
	if it.position >= len(it.order) {
		return nil, nil, 0, false
	}
	end := min(it.position+it.batchSize, len(it.order))
	B = end - it.position
	sampleSize := it.dataset.SequenceLength * it.dataset.VocabSize
	for b, idx := range it.order[it.position:end] {
		copy(it.inputs[b*sampleSize:(b+1)*sampleSize], it.dataset.Inputs[idx*sampleSize:(idx+1)*sampleSize])
		it.targets[b] = it.dataset.Targets[idx]
	}
	it.position = end
	return it.inputs[:B*sampleSize], it.targets[:B], B, true
}

func (it *Batches) Reset() {
	it.position = 0
}
