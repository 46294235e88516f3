package tensor

import (
	"fmt"
)

// Clone creates a deep copy of the tensor. The copy is a leaf: it does not
// share gradient state or creator with the original.
func (t *Tensor) Clone() (*Tensor, error) {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)

	clone, err := NewTensor(t.Shape, data)
	if err != nil {
		return nil, fmt.Errorf("failed to clone tensor: %v", err)
	}
	clone.requiresGrad = t.requiresGrad
	return clone, nil
}

// Detach returns a view of the tensor that shares the underlying data but is
// cut out of the autograd graph: it has no creator and never requires
// gradients. Backward passes through a detached tensor stop there.
func (t *Tensor) Detach() *Tensor {
	detached, _ := NewTensor(t.Shape, t.Data)
	return detached
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Equal reports whether two tensors have identical shape and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if err := checkCompatibility(t, other); err != nil {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// CopyFrom overwrites the tensor's data in place with the values of src.
// Shape must match. Autograd state is untouched, which makes this suitable
// for loading checkpointed parameter values into live parameters.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if err := checkCompatibility(t, src); err != nil {
		return fmt.Errorf("copy failed: %v", err)
	}
	copy(t.Data, src.Data)
	return nil
}

// ZeroGrad clears the accumulated gradients of the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			for i := range t.grad.Data {
				t.grad.Data[i] = 0
			}
		}
	}
}

// ZeroGrad clears this tensor's accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}
