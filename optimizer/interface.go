package optimizer

import (
	"fmt"

	"github.com/wavelift/wavelift/checkpoints"
)

// Optimizer defines the common interface for all optimizers. The state
// accessors exist for checkpoint functionality: a GetState/LoadState round
// trip must restore bit-identical moment buffers and step counts so that
// resumed training continues exactly where it left off.
type Optimizer interface {
	// ZeroGrad clears the gradients of all managed parameters.
	ZeroGrad()

	// Step applies one optimization step using the accumulated gradients.
	// Parameters without gradients are skipped.
	Step() error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)
}

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0", "m_1", "v_0".
func extractBufferIndex(name string) int {
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}
	if lastUnderscoreIdx == -1 {
		return -1
	}

	var idx int
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
