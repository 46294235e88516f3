package checkpoints

import (
	"time"
)

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ModelState is the serialized form of one model's parameters, in parameter
// order.
type ModelState struct {
	Params []WeightTensor `json:"params"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.).
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "variance", "m", "v", etc.
}

// OptimizerState captures optimizer-specific state. Restoring it must
// reproduce bit-identical moment buffers and step counts.
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StepCount  uint64                 `json:"step_count"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// CheckpointMetadata contains checkpoint metadata.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is the durable projection of the full training state: every
// model's parameters, every optimizer's state, the epoch-metric history, the
// best-known model snapshots, and the experiment configuration that produced
// them.
type Checkpoint struct {
	Models     map[string]ModelState      `json:"models"`
	Optimizers map[string]*OptimizerState `json:"optimizers"`
	History    []map[string]float64       `json:"history"`
	BestStates map[string]ModelState      `json:"best_states"`
	Config     []byte                     `json:"config,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// Epoch returns the epoch index training should resume at, which by invariant
// equals the number of completed epochs recorded in the history.
func (c *Checkpoint) Epoch() int {
	return len(c.History)
}
