package lstmgo

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// symbols decodes one-hot samples of shape (B, T, V) back to their symbol indices.
func symbols(inputs []float32, T, V int) [][]int32 {
	var windows [][]int32
	for b := 0; b < len(inputs)/(T*V); b++ {
		window := make([]int32, T)
		for t := range window {
			window[t] = int32(argmax(inputs[b*T*V+t*V : b*T*V+(t+1)*V]))
		}
		windows = append(windows, window)
	}
	return windows
}

func TestGenerateTrainingSequences(t *testing.T) {
	tests := []struct {
		name        string
		tokens      []int32
		seqLen      int
		vocabSize   int
		wantWindows [][]int32
		wantTargets []int32
		wantErr     bool
	}{
		{
			name:        "1char",
			tokens:      []int32{0, 1, 2, 0},
			seqLen:      1,
			vocabSize:   3,
			wantWindows: [][]int32{{0}, {1}, {2}},
			wantTargets: []int32{1, 2, 0},
		},
		{
			name:        "seqLen3",
			tokens:      []int32{4, 0, 1, 2, 3, 4},
			seqLen:      3,
			vocabSize:   5,
			wantWindows: [][]int32{{4, 0, 1}, {0, 1, 2}, {1, 2, 3}},
			wantTargets: []int32{2, 3, 4},
		},
		{
			name:        "exactly one window",
			tokens:      []int32{1, 1, 0},
			seqLen:      2,
			vocabSize:   2,
			wantWindows: [][]int32{{1, 1}},
			wantTargets: []int32{0},
		},
		{
			name:      "too few tokens",
			tokens:    []int32{0, 1},
			seqLen:    2,
			vocabSize: 2,
			wantErr:   true,
		},
		{
			name:      "token outside vocabulary",
			tokens:    []int32{0, 1, 7},
			seqLen:    1,
			vocabSize: 2,
			wantErr:   true,
		},
		{
			name:      "zero seqLen",
			tokens:    []int32{0, 1},
			seqLen:    0,
			vocabSize: 2,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := GenerateTrainingSequences(tt.tokens, tt.seqLen, tt.vocabSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.tokens)-tt.seqLen, ds.NumSamples)
			assert.Len(t, ds.Inputs, ds.NumSamples*tt.seqLen*tt.vocabSize)
			assert.Equal(t, tt.wantWindows, symbols(ds.Inputs, tt.seqLen, tt.vocabSize))
			assert.Equal(t, tt.wantTargets, ds.Targets)
			var ones float32
			for _, x := range ds.Inputs {
				ones += x
			}
			assert.Equal(t, float32(ds.NumSamples*tt.seqLen), ones, "exactly one hot entry per timestep")
		})
	}
}

func TestNewDataset_validates(t *testing.T) {
	_, err := NewDataset(make([]float32, 5), []int32{0}, 1, 2, 3)
	assert.Error(t, err)
	_, err = NewDataset(make([]float32, 6), []int32{0, 1}, 1, 2, 3)
	assert.Error(t, err)
	_, err = NewDataset(make([]float32, 6), []int32{3}, 1, 2, 3)
	assert.Error(t, err)
	ds, err := NewDataset(make([]float32, 6), []int32{2}, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.NumSamples)
}

func TestBatches(t *testing.T) {
	type want struct {
		reset   bool
		windows [][]int32
		targets []int32
	}
	tests := []struct {
		name           string
		tokens         []int32
		batchSize      int
		seqLen         int
		wantNumBatches int
		want           []want
	}{
		{
			name:           "1char",
			tokens:         []int32{0, 1, 2, 3, 4},
			batchSize:      1,
			seqLen:         1,
			wantNumBatches: 4,
			want: []want{
				{windows: [][]int32{{0}}, targets: []int32{1}},
				{windows: [][]int32{{1}}, targets: []int32{2}},
				{reset: true, windows: [][]int32{{0}}, targets: []int32{1}},
			},
		},
		{
			name:           "partial last batch",
			tokens:         []int32{0, 1, 2, 3, 4, 0, 1},
			batchSize:      2,
			seqLen:         2,
			wantNumBatches: 3,
			want: []want{
				{windows: [][]int32{{0, 1}, {1, 2}}, targets: []int32{2, 3}},
				{windows: [][]int32{{2, 3}, {3, 4}}, targets: []int32{4, 0}},
				{windows: [][]int32{{4, 0}}, targets: []int32{1}},
			},
		},
		{
			name:           "batch larger than data",
			tokens:         []int32{4, 3, 2, 1},
			batchSize:      8,
			seqLen:         2,
			wantNumBatches: 1,
			want: []want{
				{windows: [][]int32{{4, 3}, {3, 2}}, targets: []int32{2, 1}},
			},
		},
		{
			name:           "odd remainder",
			tokens:         []int32{0, 1, 2, 3, 4},
			batchSize:      3,
			seqLen:         1,
			wantNumBatches: 2,
			want: []want{
				{windows: [][]int32{{0}, {1}, {2}}, targets: []int32{1, 2, 3}},
				{windows: [][]int32{{3}}, targets: []int32{4}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := GenerateTrainingSequences(tt.tokens, tt.seqLen, 5)
			require.NoError(t, err)
			batches := ds.Batches(tt.batchSize, nil)
			assert.Equal(t, tt.wantNumBatches, batches.NumBatches())
			for _, want := range tt.want {
				if want.reset {
					batches.Reset()
				}
				inputs, targets, B, ok := batches.Next()
				require.True(t, ok)
				assert.Equal(t, len(want.targets), B)
				assert.Equal(t, want.windows, symbols(inputs, tt.seqLen, 5))
				assert.Equal(t, want.targets, targets)
			}
		})
	}
}

func TestBatches_exhausted(t *testing.T) {
	ds, err := GenerateTrainingSequences([]int32{0, 1, 2}, 1, 3)
	require.NoError(t, err)
	batches := ds.Batches(2, nil)
	count := 0
	for _, _, _, ok := batches.Next(); ok; _, _, _, ok = batches.Next() {
		count++
	}
	assert.Equal(t, batches.NumBatches(), count)
	_, _, _, ok := batches.Next()
	assert.False(t, ok)
}

// A shuffled epoch visits every sample exactly once, keeping windows paired with their targets.
func TestBatches_shuffle(t *testing.T) {
	tokens := make([]int32, 40)
	for i := range tokens {
		tokens[i] = int32(i % 10)
	}
	ds, err := GenerateTrainingSequences(tokens, 3, 10)
	require.NoError(t, err)

	batches := ds.Batches(4, rand.New(rand.NewSource(3)))
	var order []int32
	for inputs, targets, B, ok := batches.Next(); ok; inputs, targets, B, ok = batches.Next() {
		for b, window := range symbols(inputs, 3, 10) {
			assert.Equal(t, (window[2]+1)%10, targets[b])
			order = append(order, window[0])
		}
		assert.LessOrEqual(t, B, 4)
	}
	require.Len(t, order, ds.NumSamples)

	var sequential []int32
	for _, window := range symbols(ds.Inputs, 3, 10) {
		sequential = append(sequential, window[0])
	}
	assert.ElementsMatch(t, sequential, order)
	assert.NotEqual(t, sequential, order)
}

func writeTokens(t *testing.T, path string, tokens []int32) {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, tokens))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestLoadTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.bin")
	writeTokens(t, path, []int32{3, 1, 4, 1, 5})
	tokens, err := LoadTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 1, 4, 1, 5}, tokens)

	ragged := filepath.Join(dir, "ragged.bin")
	require.NoError(t, os.WriteFile(ragged, []byte{1, 0, 0, 0, 2}, 0o644))
	_, err = LoadTokenFile(ragged)
	assert.Error(t, err)

	_, err = LoadTokenFile(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestTokenFileGenerator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.bin")
	writeTokens(t, path, []int32{0, 1, 2, 0, 1, 2})
	ds, err := TokenFileGenerator(path, 3)(2)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.NumSamples)
	assert.Equal(t, []int32{2, 0, 1, 2}, ds.Targets)
}

func writeCorpus(t *testing.T, dir, corpus string, mapping map[string]int32) (string, string) {
	t.Helper()
	datasetPath := filepath.Join(dir, "file_dataset")
	mappingPath := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(datasetPath, []byte(corpus), 0o644))
	b, err := json.Marshal(mapping)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mappingPath, b, 0o644))
	return datasetPath, mappingPath
}

func TestCorpusGenerator(t *testing.T) {
	mapping := map[string]int32{"/": 0, "r": 1, "_": 2, "60": 3, "62": 4}
	datasetPath, mappingPath := writeCorpus(t, t.TempDir(), "60 _ 62 r / 60 _", mapping)

	ds, err := CorpusGenerator(datasetPath, mappingPath)(3)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.VocabSize, "vocabulary size comes from the mapping")
	assert.Equal(t, 4, ds.NumSamples)
	assert.Equal(t, [][]int32{{3, 2, 4}, {2, 4, 1}, {4, 1, 0}, {1, 0, 3}}, symbols(ds.Inputs, 3, 5))
	assert.Equal(t, []int32{1, 0, 3, 2}, ds.Targets)
}

func TestCorpusGenerator_errors(t *testing.T) {
	mapping := map[string]int32{"60": 0, "_": 1}
	dir := t.TempDir()
	datasetPath, mappingPath := writeCorpus(t, dir, "60 _ 64 _", mapping)
	_, err := CorpusGenerator(datasetPath, mappingPath)(1)
	assert.ErrorContains(t, err, `"64"`)

	_, err = CorpusGenerator(filepath.Join(dir, "missing"), mappingPath)(1)
	assert.Error(t, err)

	_, err = CorpusGenerator(datasetPath, filepath.Join(dir, "missing.json"))(1)
	assert.Error(t, err)
}
