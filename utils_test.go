package lstmgo

import (
	"testing"
)

// checkTensor compares two slices element-wise and logs the first few mismatches.
func checkTensor(t *testing.T, got, want []float32, label string, tolerance float32) bool {
	t.Helper()
	failedPrint := 5
	if len(got) != len(want) {
		t.Errorf("%s: slice lengths do not match: %d != %d", label, len(got), len(want))
		return false
	}
	ok := true
	for i := range got {
		a, b := got[i], want[i]
		if diff := Abs(a - b); diff > tolerance || IsNaN(diff) {
			if failedPrint > 0 {
				t.Logf("%s NOT OK at index %d: got %f want %f (∆ %f)", label, i, a, b, diff)
				failedPrint--
			}
			ok = false
		}
	}
	if !ok {
		t.Errorf("%s: tensor not within %g", label, tolerance)
	}
	return ok
}

// oneHot encodes (N, T) symbol windows as a (N, T, V) float32 batch.
func oneHot(windows [][]int32, V int) []float32 {
	var out []float32
	for _, w := range windows {
		for _, s := range w {
			row := make([]float32, V)
			row[s] = 1
			out = append(out, row...)
		}
	}
	return out
}

func newTestModel(t *testing.T, V, H int) *LSTM {
	t.Helper()
	model, err := buildModel(Hyperparameters{
		OutputUnits:  V,
		NumUnits:     []int{H},
		Loss:         string(SparseCategoricalCrossentropy),
		LearningRate: 0.001,
	}, DefaultSeed, nil)
	if err != nil {
		t.Fatal(err)
	}
	return model
}

// tinyDataset is 4 distinct windows of length 2 over 3 symbols with a learnable target.
func tinyDataset(t *testing.T) *Dataset {
	t.Helper()
	windows := [][]int32{{0, 1}, {1, 2}, {2, 0}, {2, 2}}
	targets := []int32{2, 0, 1, 1}
	ds, err := NewDataset(oneHot(windows, 3), targets, 4, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}
