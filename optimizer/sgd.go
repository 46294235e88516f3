package optimizer

import (
	"fmt"

	"github.com/wavelift/wavelift/checkpoints"
	"github.com/wavelift/wavelift/tensor"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional momentum,
// Nesterov acceleration, and L2 weight decay.
type SGD struct {
	config SGDConfig

	params          []*tensor.Tensor
	momentumBuffers []*tensor.Tensor // allocated lazily, only if momentum > 0

	stepCount uint64
}

// NewSGD creates an SGD optimizer over the given parameter tensors.
func NewSGD(config SGDConfig, params []*tensor.Tensor) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum must be in [0, 1]: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	return &SGD{
		config:          config,
		params:          params,
		momentumBuffers: make([]*tensor.Tensor, len(params)),
	}, nil
}

// ZeroGrad clears the gradients of all managed parameters.
func (s *SGD) ZeroGrad() {
	tensor.ZeroGrad(s.params)
}

// Step applies one SGD update.
func (s *SGD) Step() error {
	for i, param := range s.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}

		g := make([]float32, param.NumElems)
		copy(g, grad.Data)

		if s.config.WeightDecay > 0 {
			for j := range g {
				g[j] += s.config.WeightDecay * param.Data[j]
			}
		}

		if s.config.Momentum > 0 {
			if s.momentumBuffers[i] == nil {
				buf, err := tensor.Zeros(param.Shape)
				if err != nil {
					return fmt.Errorf("failed to allocate momentum buffer: %v", err)
				}
				s.momentumBuffers[i] = buf
			}
			buf := s.momentumBuffers[i]
			for j := range g {
				buf.Data[j] = s.config.Momentum*buf.Data[j] + g[j]
				if s.config.Nesterov {
					g[j] += s.config.Momentum * buf.Data[j]
				} else {
					g[j] = buf.Data[j]
				}
			}
		}

		for j := range g {
			param.Data[j] -= s.config.LearningRate * g[j]
		}
	}

	s.stepCount++
	return nil
}

// GetState extracts the optimizer state for checkpointing.
func (s *SGD) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": s.config.LearningRate,
			"momentum":      s.config.Momentum,
			"weight_decay":  s.config.WeightDecay,
			"nesterov":      s.config.Nesterov,
		},
		StepCount: s.stepCount,
	}

	for i, buf := range s.momentumBuffers {
		if buf == nil {
			continue
		}
		data := make([]float32, len(buf.Data))
		copy(data, buf.Data)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     append([]int{}, buf.Shape...),
			Data:      data,
			StateType: "momentum",
		})
	}

	return state, nil
}

// LoadState restores the optimizer state from a checkpoint.
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	s.stepCount = state.StepCount
	for _, st := range state.StateData {
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(s.params) {
			return fmt.Errorf("invalid state tensor name: %s", st.Name)
		}
		buf, err := tensor.NewTensor(st.Shape, append([]float32{}, st.Data...))
		if err != nil {
			return fmt.Errorf("failed to restore momentum buffer %d: %v", idx, err)
		}
		s.momentumBuffers[idx] = buf
	}

	return nil
}

// GetStepCount returns the current optimization step number.
func (s *SGD) GetStepCount() uint64 {
	return s.stepCount
}

// UpdateLearningRate updates the learning rate.
func (s *SGD) UpdateLearningRate(lr float32) {
	s.config.LearningRate = lr
}
