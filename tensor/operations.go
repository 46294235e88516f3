package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if len(t1.Shape) != len(t2.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	for i := range t1.Shape {
		if t1.Shape[i] != t2.Shape[i] {
			return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
		}
	}
	return nil
}

// Add performs elementwise addition without recording gradients.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("add failed: %v", err)
	}
	data := make([]float32, t1.NumElems)
	for i := range data {
		data[i] = t1.Data[i] + t2.Data[i]
	}
	return NewTensor(t1.Shape, data)
}

// Sub performs elementwise subtraction without recording gradients.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("sub failed: %v", err)
	}
	data := make([]float32, t1.NumElems)
	for i := range data {
		data[i] = t1.Data[i] - t2.Data[i]
	}
	return NewTensor(t1.Shape, data)
}

// Mul performs elementwise multiplication without recording gradients.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("mul failed: %v", err)
	}
	data := make([]float32, t1.NumElems)
	for i := range data {
		data[i] = t1.Data[i] * t2.Data[i]
	}
	return NewTensor(t1.Shape, data)
}

// Scale multiplies every element by a constant.
func Scale(t *Tensor, factor float32) (*Tensor, error) {
	data := make([]float32, t.NumElems)
	for i := range data {
		data[i] = t.Data[i] * factor
	}
	return NewTensor(t.Shape, data)
}

// AddScalar adds a constant to every element.
func AddScalar(t *Tensor, value float32) (*Tensor, error) {
	data := make([]float32, t.NumElems)
	for i := range data {
		data[i] = t.Data[i] + value
	}
	return NewTensor(t.Shape, data)
}

// ReLU computes max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	data := make([]float32, t.NumElems)
	for i := range data {
		if t.Data[i] > 0 {
			data[i] = t.Data[i]
		}
	}
	return NewTensor(t.Shape, data)
}

// Abs computes |x| elementwise.
func Abs(t *Tensor) (*Tensor, error) {
	data := make([]float32, t.NumElems)
	for i := range data {
		data[i] = float32(math.Abs(float64(t.Data[i])))
	}
	return NewTensor(t.Shape, data)
}

// Square computes x*x elementwise.
func Square(t *Tensor) (*Tensor, error) {
	return Mul(t, t)
}

// Mean reduces a tensor to a single-element tensor holding the mean of all
// elements.
func Mean(t *Tensor) (*Tensor, error) {
	if t.NumElems == 0 {
		return nil, fmt.Errorf("mean of empty tensor")
	}
	sum := float32(0)
	for _, v := range t.Data {
		sum += v
	}
	return NewTensor([]int{1}, []float32{sum / float32(t.NumElems)})
}

// Sum reduces a tensor to a single-element tensor holding the sum of all
// elements.
func Sum(t *Tensor) (*Tensor, error) {
	sum := float32(0)
	for _, v := range t.Data {
		sum += v
	}
	return NewTensor([]int{1}, []float32{sum})
}

// IsFinite reports whether every element is a finite number.
func IsFinite(t *Tensor) bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
