package training

import (
	"fmt"
	"math/rand"

	"github.com/wavelift/wavelift/tensor"
)

// Sample is one paired low/high-resolution example. The path fields name the
// source files and are used when persisting enhanced outputs.
type Sample struct {
	LR     *tensor.Tensor
	HR     *tensor.Tensor
	LRPath string
	HRPath string
}

// Dataset provides indexed access to paired samples.
type Dataset interface {
	Len() int
	Get(index int) (*Sample, error)
}

// DataLoader iterates a dataset, optionally reshuffling deterministically
// per epoch so a resumed run sees the same sample order as an uninterrupted
// one.
type DataLoader struct {
	dataset Dataset
	shuffle bool
	order   []int
	pos     int
}

func NewDataLoader(dataset Dataset, shuffle bool) *DataLoader {
	dl := &DataLoader{dataset: dataset, shuffle: shuffle}
	dl.SetEpoch(0)
	return dl
}

// SetEpoch resets iteration and, when shuffling, derives the sample order
// from the epoch number alone.
func (dl *DataLoader) SetEpoch(epoch int) {
	n := dl.dataset.Len()
	dl.order = make([]int, n)
	for i := range dl.order {
		dl.order[i] = i
	}
	if dl.shuffle {
		rng := rand.New(rand.NewSource(int64(epoch)))
		rng.Shuffle(n, func(i, j int) {
			dl.order[i], dl.order[j] = dl.order[j], dl.order[i]
		})
	}
	dl.pos = 0
}

// Reset rewinds iteration without changing the sample order.
func (dl *DataLoader) Reset() {
	dl.pos = 0
}

// Next returns the next sample, or (nil, nil) when the epoch is exhausted.
func (dl *DataLoader) Next() (*Sample, error) {
	if dl.pos >= len(dl.order) {
		return nil, nil
	}
	sample, err := dl.dataset.Get(dl.order[dl.pos])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", dl.order[dl.pos], err)
	}
	dl.pos++
	return sample, nil
}

// Len returns the number of samples per epoch.
func (dl *DataLoader) Len() int {
	return len(dl.order)
}

// MatchSignal trims or zero-pads pr along its last dimension so its length
// matches the reference length. Enhanced outputs can come back a few frames
// long or short of the target after spectral round trips.
func MatchSignal(pr *tensor.Tensor, refLen int) (*tensor.Tensor, error) {
	if len(pr.Shape) == 0 {
		return nil, fmt.Errorf("cannot match a scalar signal")
	}
	last := pr.Shape[len(pr.Shape)-1]
	if last == refLen {
		return pr, nil
	}

	outer := 1
	for _, d := range pr.Shape[:len(pr.Shape)-1] {
		outer *= d
	}
	newShape := append([]int{}, pr.Shape...)
	newShape[len(newShape)-1] = refLen

	data := make([]float32, outer*refLen)
	n := last
	if refLen < n {
		n = refLen
	}
	for o := 0; o < outer; o++ {
		copy(data[o*refLen:o*refLen+n], pr.Data[o*last:o*last+n])
	}
	return tensor.NewTensor(newShape, data)
}
