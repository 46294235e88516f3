package training

import (
	"testing"

	"go.uber.org/zap"
)

func TestEvaluationCadence(t *testing.T) {
	cfg := &Config{Epochs: 10, CrossValid: true, CrossValidEvery: 3, EvalEvery: 4}
	ec, err := NewEvaluationCoordinator(cfg, Collaborators{Evaluator: &fakeEvaluator{}}, true, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEvaluationCoordinator failed: %v", err)
	}

	t.Run("Cross validation every N and on the final epoch", func(t *testing.T) {
		want := map[int]bool{2: true, 5: true, 8: true, 9: true}
		for epoch := 0; epoch < cfg.Epochs; epoch++ {
			if got := ec.ShouldCrossValidate(epoch); got != want[epoch] {
				t.Errorf("Epoch %d: expected cross validation %v, got %v", epoch, want[epoch], got)
			}
		}
	})

	t.Run("Evaluation every N and on the final epoch", func(t *testing.T) {
		want := map[int]bool{3: true, 7: true, 9: true}
		for epoch := 0; epoch < cfg.Epochs; epoch++ {
			if got := ec.ShouldEvaluate(epoch); got != want[epoch] {
				t.Errorf("Epoch %d: expected evaluation %v, got %v", epoch, want[epoch], got)
			}
		}
	})

	t.Run("No cross validation when disabled", func(t *testing.T) {
		off := &Config{Epochs: 10, EvalEvery: 4}
		ec, err := NewEvaluationCoordinator(off, Collaborators{Evaluator: &fakeEvaluator{}}, true, zap.NewNop())
		if err != nil {
			t.Fatalf("NewEvaluationCoordinator failed: %v", err)
		}
		for epoch := 0; epoch < off.Epochs; epoch++ {
			if ec.ShouldCrossValidate(epoch) {
				t.Errorf("Epoch %d: cross validation must stay off", epoch)
			}
		}
	})

	t.Run("No evaluation without a test set", func(t *testing.T) {
		ec, err := NewEvaluationCoordinator(cfg, Collaborators{}, false, zap.NewNop())
		if err != nil {
			t.Fatalf("NewEvaluationCoordinator failed: %v", err)
		}
		for epoch := 0; epoch < cfg.Epochs; epoch++ {
			if ec.ShouldEvaluate(epoch) {
				t.Errorf("Epoch %d: evaluation must stay off without a test set", epoch)
			}
		}
	})

	t.Run("Evaluator required only with a test set", func(t *testing.T) {
		if _, err := NewEvaluationCoordinator(cfg, Collaborators{}, true, zap.NewNop()); err == nil {
			t.Error("Expected an error when a test set exists but no evaluator is wired")
		}
		if _, err := NewEvaluationCoordinator(cfg, Collaborators{}, false, zap.NewNop()); err != nil {
			t.Errorf("Expected no error without a test set, got %v", err)
		}
	})
}

func TestEvaluatePaths(t *testing.T) {
	dataset := &fakeDataset{samples: []*Sample{
		makeSample(t, []float32{1}, []float32{1}, "x"),
		makeSample(t, []float32{2}, []float32{2}, "y"),
	}}
	gen := newScaleGenerator(t, []float32{1})

	t.Run("Saved outputs are scored directly", func(t *testing.T) {
		evaluator := &fakeEvaluator{lsd: 1.0}
		ec, _ := NewEvaluationCoordinator(&Config{Epochs: 1, EvalEvery: 1}, Collaborators{Evaluator: evaluator}, true, zap.NewNop())
		lsd, _, err := ec.Evaluate(0, NewDataLoader(dataset, false), gen, []string{"x", "y"})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if lsd != 1.0 {
			t.Errorf("Expected lsd 1.0, got %f", lsd)
		}
		if evaluator.enhanceCalls != 0 || evaluator.jointCalls != 0 {
			t.Error("Saved-output evaluation must not enhance")
		}
	})

	t.Run("Eager path enhances and scores in one pass", func(t *testing.T) {
		evaluator := &fakeEvaluator{}
		cfg := &Config{Epochs: 1, EvalEvery: 1, JointEvaluateAndEnhance: true}
		ec, _ := NewEvaluationCoordinator(cfg, Collaborators{Evaluator: evaluator}, true, zap.NewNop())
		if _, _, err := ec.Evaluate(0, NewDataLoader(dataset, false), gen, nil); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if evaluator.jointCalls != 1 {
			t.Errorf("Expected one joint evaluation, got %d", evaluator.jointCalls)
		}
		if len(evaluator.savedCalls) != 0 {
			t.Error("Eager path must not score saved outputs separately")
		}
	})

	t.Run("Lazy path enhances first, then scores saved outputs", func(t *testing.T) {
		evaluator := &fakeEvaluator{}
		ec, _ := NewEvaluationCoordinator(&Config{Epochs: 1, EvalEvery: 1}, Collaborators{Evaluator: evaluator}, true, zap.NewNop())
		if _, _, err := ec.Evaluate(0, NewDataLoader(dataset, false), gen, nil); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if evaluator.enhanceCalls != 1 {
			t.Errorf("Expected one enhancement pass, got %d", evaluator.enhanceCalls)
		}
		if len(evaluator.savedCalls) != 1 {
			t.Fatalf("Expected one saved-output evaluation, got %d", len(evaluator.savedCalls))
		}
		if len(evaluator.savedCalls[0]) != 2 {
			t.Errorf("Expected 2 enhanced files, got %d", len(evaluator.savedCalls[0]))
		}
	})
}
