package training

import (
	"fmt"

	"github.com/wavelift/wavelift/checkpoints"
)

// stateSwap temporarily loads a saved parameter snapshot into the live
// models, remembering the live weights so Restore can put them back. Used to
// evaluate the best-so-far weights without disturbing the training state.
type stateSwap struct {
	models *ModelSet
	saved  map[string]checkpoints.ModelState
}

// swapIn replaces the live weights of every model named in states with the
// snapshot, returning a swap handle whose Restore must run on every exit
// path (defer it immediately).
func swapIn(models *ModelSet, states map[string]checkpoints.ModelState) (*stateSwap, error) {
	saved := make(map[string]checkpoints.ModelState, len(states))
	for name := range states {
		m, ok := models.model(name)
		if !ok {
			return nil, fmt.Errorf("no live model %q to swap into", name)
		}
		saved[name] = snapshotModel(m)
	}
	if err := models.Restore(states); err != nil {
		// Put back whatever was already replaced before failing.
		if restoreErr := models.Restore(saved); restoreErr != nil {
			return nil, fmt.Errorf("swap failed (%v) and rollback failed: %v", err, restoreErr)
		}
		return nil, err
	}
	return &stateSwap{models: models, saved: saved}, nil
}

// Restore puts the live training weights back.
func (s *stateSwap) Restore() error {
	if s.saved == nil {
		return nil
	}
	err := s.models.Restore(s.saved)
	s.saved = nil
	return err
}
