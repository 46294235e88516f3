package optimizer

import (
	"fmt"
	"math"

	"github.com/wavelift/wavelift/checkpoints"
	"github.com/wavelift/wavelift/tensor"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero
	WeightDecay  float32 // L2 regularization coefficient
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	config AdamConfig

	params          []*tensor.Tensor
	momentumBuffers []*tensor.Tensor // first moment (m)
	varianceBuffers []*tensor.Tensor // second moment (v)

	stepCount uint64
}

// NewAdam creates an Adam optimizer over the given parameter tensors.
func NewAdam(config AdamConfig, params []*tensor.Tensor) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1.0 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1.0 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}

	a := &Adam{
		config:          config,
		params:          params,
		momentumBuffers: make([]*tensor.Tensor, len(params)),
		varianceBuffers: make([]*tensor.Tensor, len(params)),
	}
	for i, p := range params {
		m, err := tensor.Zeros(p.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate momentum buffer: %v", err)
		}
		v, err := tensor.Zeros(p.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate variance buffer: %v", err)
		}
		a.momentumBuffers[i] = m
		a.varianceBuffers[i] = v
	}
	return a, nil
}

// ZeroGrad clears the gradients of all managed parameters.
func (a *Adam) ZeroGrad() {
	tensor.ZeroGrad(a.params)
}

// Step applies one Adam update.
func (a *Adam) Step() error {
	a.stepCount++

	correction1 := 1 - float32(math.Pow(float64(a.config.Beta1), float64(a.stepCount)))
	correction2 := 1 - float32(math.Pow(float64(a.config.Beta2), float64(a.stepCount)))

	for i, param := range a.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}

		m := a.momentumBuffers[i]
		v := a.varianceBuffers[i]

		for j := range param.Data {
			g := grad.Data[j]
			if a.config.WeightDecay > 0 {
				g += a.config.WeightDecay * param.Data[j]
			}

			m.Data[j] = a.config.Beta1*m.Data[j] + (1-a.config.Beta1)*g
			v.Data[j] = a.config.Beta2*v.Data[j] + (1-a.config.Beta2)*g*g

			mHat := m.Data[j] / correction1
			vHat := v.Data[j] / correction2

			param.Data[j] -= a.config.LearningRate * mHat / (float32(math.Sqrt(float64(vHat))) + a.config.Epsilon)
		}
	}

	return nil
}

// GetState extracts the optimizer state for checkpointing.
func (a *Adam) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": a.config.LearningRate,
			"beta1":         a.config.Beta1,
			"beta2":         a.config.Beta2,
			"epsilon":       a.config.Epsilon,
			"weight_decay":  a.config.WeightDecay,
		},
		StepCount: a.stepCount,
	}

	for i := range a.params {
		mData := make([]float32, len(a.momentumBuffers[i].Data))
		copy(mData, a.momentumBuffers[i].Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("m_%d", i),
			Shape:     append([]int{}, a.momentumBuffers[i].Shape...),
			Data:      mData,
			StateType: "m",
		})

		vData := make([]float32, len(a.varianceBuffers[i].Data))
		copy(vData, a.varianceBuffers[i].Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("v_%d", i),
			Shape:     append([]int{}, a.varianceBuffers[i].Shape...),
			Data:      vData,
			StateType: "v",
		})
	}

	return state, nil
}

// LoadState restores the optimizer state from a checkpoint.
func (a *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	a.stepCount = state.StepCount
	for _, st := range state.StateData {
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(a.params) {
			return fmt.Errorf("invalid state tensor name: %s", st.Name)
		}

		buf, err := tensor.NewTensor(st.Shape, append([]float32{}, st.Data...))
		if err != nil {
			return fmt.Errorf("failed to restore state tensor %s: %v", st.Name, err)
		}
		switch st.StateType {
		case "m":
			a.momentumBuffers[idx] = buf
		case "v":
			a.varianceBuffers[idx] = buf
		default:
			return fmt.Errorf("unknown state type: %s", st.StateType)
		}
	}

	return nil
}

// GetStepCount returns the current optimization step number.
func (a *Adam) GetStepCount() uint64 {
	return a.stepCount
}

// UpdateLearningRate updates the learning rate.
func (a *Adam) UpdateLearningRate(lr float32) {
	a.config.LearningRate = lr
}
