package training

import (
	"fmt"

	"go.uber.org/zap"
)

// EvaluationCoordinator decides when to cross-validate and evaluate, and
// runs the configured evaluation path on the test set. A run without a test
// set never enters the evaluation state.
type EvaluationCoordinator struct {
	cfg       *Config
	evaluator Evaluator
	hasTest   bool
	log       *zap.Logger
}

// NewEvaluationCoordinator builds the cadence machine. An evaluator is
// required only when a test set exists; without one, evaluation is skipped
// entirely.
func NewEvaluationCoordinator(cfg *Config, collab Collaborators, hasTest bool, log *zap.Logger) (*EvaluationCoordinator, error) {
	if hasTest && collab.Evaluator == nil {
		return nil, fmt.Errorf("test set configured but no evaluator provided")
	}
	return &EvaluationCoordinator{cfg: cfg, evaluator: collab.Evaluator, hasTest: hasTest, log: log}, nil
}

// ShouldCrossValidate reports whether the given zero-based epoch runs cross
// validation: every cross_valid_every epochs, and always on the final epoch.
func (ec *EvaluationCoordinator) ShouldCrossValidate(epoch int) bool {
	if !ec.cfg.CrossValid {
		return false
	}
	return (epoch+1)%ec.cfg.CrossValidEvery == 0 || epoch == ec.cfg.Epochs-1
}

// ShouldEvaluate reports whether the given zero-based epoch runs test-set
// evaluation: every eval_every epochs, and always on the final epoch, but
// only when a test set exists.
func (ec *EvaluationCoordinator) ShouldEvaluate(epoch int) bool {
	if !ec.hasTest {
		return false
	}
	return (epoch+1)%ec.cfg.EvalEvery == 0 || epoch == ec.cfg.Epochs-1
}

// Evaluate runs the test-set evaluation for one epoch and returns the
// aggregate quality metrics.
//
// Three paths exist. When cross validation already enhanced the test set
// this epoch (valid_equals_test), the saved outputs are scored directly.
// Otherwise the eager path enhances and scores in one pass, while the lazy
// path first enhances the whole set and then scores the saved outputs.
func (ec *EvaluationCoordinator) Evaluate(epoch int, loader *DataLoader, gen Generator, enhancedFiles []string) (lsd, visqol float64, err error) {
	if len(enhancedFiles) > 0 {
		ec.log.Info("evaluating outputs saved during cross validation",
			zap.Int("epoch", epoch+1),
			zap.Int("files", len(enhancedFiles)))
		return ec.evaluator.EvaluateSaved(epoch, enhancedFiles)
	}

	if ec.cfg.JointEvaluateAndEnhance {
		ec.log.Info("evaluating and enhancing test set", zap.Int("epoch", epoch+1))
		lsd, visqol, _, err = ec.evaluator.EvaluateAndEnhance(epoch, loader, gen)
		return lsd, visqol, err
	}

	ec.log.Info("enhancing test set before evaluation", zap.Int("epoch", epoch+1))
	loader.Reset()
	filenames, err := ec.evaluator.Enhance(loader, gen)
	if err != nil {
		return 0, 0, fmt.Errorf("enhancement failed: %v", err)
	}
	return ec.evaluator.EvaluateSaved(epoch, filenames)
}
