package tensor

import (
	"fmt"
)

// AddOp implements the Operation interface for elementwise addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddOp requires exactly 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result, nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(a+b)/da = 1, d(a+b)/db = 1
	gradA, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	gradB, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubOp implements the Operation interface for elementwise subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("SubOp requires exactly 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result, nil
}

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(a-b)/da = 1, d(a-b)/db = -1
	gradA, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	gradB, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulOp implements the Operation interface for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MulOp requires exactly 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result, nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(a*b)/da = b, d(a*b)/db = a
	gradA, err := Mul(gradOut, b)
	if err != nil {
		return nil, err
	}
	gradB, err := Mul(gradOut, a)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// ScaleOp implements multiplication by a constant.
type ScaleOp struct {
	inputs []*Tensor
	Factor float32
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ScaleOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := Scale(a, op.Factor)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Scale(gradOut, op.Factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// AddScalarOp implements addition of a constant.
type AddScalarOp struct {
	inputs []*Tensor
	Value  float32
}

func (op *AddScalarOp) Inputs() []*Tensor { return op.inputs }

func (op *AddScalarOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("AddScalarOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := AddScalar(a, op.Value)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *AddScalarOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ReLUOp implements the Operation interface for ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReLUOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := ReLU(a)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]

	// dReLU(x)/dx = 1 if x > 0, else 0
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	for i := range grad.Data {
		if a.Data[i] <= 0 {
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// AbsOp implements the Operation interface for elementwise absolute value.
type AbsOp struct {
	inputs []*Tensor
}

func (op *AbsOp) Inputs() []*Tensor { return op.inputs }

func (op *AbsOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("AbsOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := Abs(a)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *AbsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]

	// d|x|/dx = sign(x); the subgradient at 0 is taken as 0
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	for i := range grad.Data {
		switch {
		case a.Data[i] < 0:
			grad.Data[i] = -grad.Data[i]
		case a.Data[i] == 0:
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// MeanOp reduces all elements to their mean.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("MeanOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := Mean(a)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *MeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]

	// The mean distributes gradOut/N to every input element.
	scale := gradOut.Data[0] / float32(a.NumElems)
	grad, err := Full(a.Shape, scale)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// SumOp reduces all elements to their sum.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SumOp requires exactly 1 input, got %d", len(inputs))
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := Sum(a)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result, nil
}

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]
	grad, err := Full(a.Shape, gradOut.Data[0])
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// High-level autograd functions that create and execute operations.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MulOp{}
	return op.Forward(a, b)
}

// ScaleAutograd multiplies by a constant with automatic differentiation.
func ScaleAutograd(a *Tensor, factor float32) (*Tensor, error) {
	op := &ScaleOp{Factor: factor}
	return op.Forward(a)
}

// AddScalarAutograd adds a constant with automatic differentiation.
func AddScalarAutograd(a *Tensor, value float32) (*Tensor, error) {
	op := &AddScalarOp{Value: value}
	return op.Forward(a)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) (*Tensor, error) {
	op := &ReLUOp{}
	return op.Forward(a)
}

// AbsAutograd computes the absolute value with automatic differentiation.
func AbsAutograd(a *Tensor) (*Tensor, error) {
	op := &AbsOp{}
	return op.Forward(a)
}

// SquareAutograd computes x*x with automatic differentiation.
func SquareAutograd(a *Tensor) (*Tensor, error) {
	op := &MulOp{}
	return op.Forward(a, a)
}

// MeanAutograd reduces to the mean with automatic differentiation.
func MeanAutograd(a *Tensor) (*Tensor, error) {
	op := &MeanOp{}
	return op.Forward(a)
}

// SumAutograd reduces to the sum with automatic differentiation.
func SumAutograd(a *Tensor) (*Tensor, error) {
	op := &SumOp{}
	return op.Forward(a)
}
