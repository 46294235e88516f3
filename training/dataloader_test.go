package training

import (
	"testing"

	"github.com/wavelift/wavelift/tensor"
)

func eightSampleDataset(t *testing.T) *fakeDataset {
	t.Helper()
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	samples := make([]*Sample, len(names))
	for i, name := range names {
		samples[i] = makeSample(t, []float32{float32(i)}, []float32{float32(i)}, name)
	}
	return &fakeDataset{samples: samples}
}

func drainPaths(t *testing.T, dl *DataLoader) []string {
	t.Helper()
	var paths []string
	for {
		sample, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if sample == nil {
			return paths
		}
		paths = append(paths, sample.LRPath)
	}
}

func TestDataLoaderShuffle(t *testing.T) {
	dataset := eightSampleDataset(t)

	t.Run("Same epoch gives the same order", func(t *testing.T) {
		a := NewDataLoader(dataset, true)
		b := NewDataLoader(dataset, true)
		a.SetEpoch(5)
		b.SetEpoch(5)
		orderA := drainPaths(t, a)
		orderB := drainPaths(t, b)
		for i := range orderA {
			if orderA[i] != orderB[i] {
				t.Fatal("Shuffle order must be deterministic per epoch")
			}
		}
	})

	t.Run("Different epochs give different orders", func(t *testing.T) {
		dl := NewDataLoader(dataset, true)
		dl.SetEpoch(1)
		first := drainPaths(t, dl)
		dl.SetEpoch(2)
		second := drainPaths(t, dl)
		same := true
		for i := range first {
			if first[i] != second[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("Expected different sample orders across epochs")
		}
	})

	t.Run("No shuffle keeps dataset order", func(t *testing.T) {
		dl := NewDataLoader(dataset, false)
		dl.SetEpoch(3)
		paths := drainPaths(t, dl)
		if paths[0] != "a.wav" || paths[7] != "h.wav" {
			t.Error("Unshuffled loader must keep dataset order")
		}
	})
}

func TestDataLoaderIteration(t *testing.T) {
	dataset := eightSampleDataset(t)
	dl := NewDataLoader(dataset, false)

	if dl.Len() != 8 {
		t.Errorf("Expected length 8, got %d", dl.Len())
	}
	if got := len(drainPaths(t, dl)); got != 8 {
		t.Errorf("Expected 8 samples, got %d", got)
	}

	// Exhausted loader keeps returning nil until reset.
	if sample, _ := dl.Next(); sample != nil {
		t.Error("Expected nil after exhaustion")
	}
	dl.Reset()
	if got := len(drainPaths(t, dl)); got != 8 {
		t.Errorf("Expected 8 samples after reset, got %d", got)
	}
}

func TestMatchSignal(t *testing.T) {
	pr, _ := tensor.NewTensor([]int{4}, []float32{1, 2, 3, 4})

	t.Run("Trim", func(t *testing.T) {
		out, err := MatchSignal(pr, 2)
		if err != nil {
			t.Fatalf("MatchSignal failed: %v", err)
		}
		if out.Shape[0] != 2 || out.Data[0] != 1 || out.Data[1] != 2 {
			t.Errorf("Expected [1 2], got %v", out.Data)
		}
	})

	t.Run("Pad", func(t *testing.T) {
		out, err := MatchSignal(pr, 6)
		if err != nil {
			t.Fatalf("MatchSignal failed: %v", err)
		}
		if out.Shape[0] != 6 {
			t.Fatalf("Expected length 6, got %d", out.Shape[0])
		}
		if out.Data[4] != 0 || out.Data[5] != 0 {
			t.Error("Expected zero padding at the tail")
		}
	})

	t.Run("Exact length passes through", func(t *testing.T) {
		out, err := MatchSignal(pr, 4)
		if err != nil {
			t.Fatalf("MatchSignal failed: %v", err)
		}
		if out != pr {
			t.Error("Expected the same tensor when lengths already match")
		}
	})
}
