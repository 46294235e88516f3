package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a CPU Float32 tensor wrapping the provided data slice.
// The slice is used directly, not copied.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    Float32,
		Device:   CPU,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return NewTensor(shape, make([]float32, calculateNumElements(shape)))
}

// Ones creates a tensor filled with ones.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1.0)
}

// Full creates a tensor filled with the given value.
func Full(shape []int, value float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, data)
}

// FromScalar creates a single-element tensor from a float64 value.
func FromScalar(value float64) *Tensor {
	t, _ := NewTensor([]int{1}, []float32{float32(value)})
	return t
}

// RandomNormal creates a tensor with normally distributed values.
func RandomNormal(shape []int, mean, std float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = mean + std*float32(rand.NormFloat64())
	}
	return NewTensor(shape, data)
}
