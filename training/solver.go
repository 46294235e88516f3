package training

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wavelift/wavelift/checkpoints"
	"github.com/wavelift/wavelift/optimizer"
	"github.com/wavelift/wavelift/tensor"
)

// Serialized optimizer keys. Discriminator optimizers in separate mode are
// keyed "discriminator_<name>".
const (
	genOptimizerKey     = "generator_optimizer"
	discOptimizerKey    = "disc_optimizer"
	discOptimizerPrefix = "discriminator_"
	evaluationLossKey   = "evaluation_loss"
	validEvaluationLoss = "valid_evaluation_loss"
	bestLossKey         = "best_loss"
	averageLSDKey       = "Average lsd"
	averageViSQOLKey    = "Average visqol"
)

// Loaders groups the per-split data loaders. Valid may alias Test when the
// experiment validates on the test set.
type Loaders struct {
	Train *DataLoader
	Valid *DataLoader
	Test  *DataLoader
}

// Solver drives the resumable epoch loop: train, cross-validate, track the
// best generator state, evaluate, log, and persist — in that order, every
// epoch.
type Solver struct {
	cfg       *Config
	models    *ModelSet
	opts      *OptimizerSet
	composer  *LossComposer
	scheduler *AdversarialScheduler
	evalCoord *EvaluationCoordinator
	saver     *checkpoints.Saver
	loaders   Loaders
	enhancer  Enhancer
	spectral  SpectralTransform
	metrics   MetricsSink
	log       *zap.Logger

	history    []map[string]float64
	bestStates map[string]checkpoints.ModelState
	runID      string
	configJSON []byte
}

// NewSolver validates the configuration, wires the loss composer, scheduler
// and evaluation coordinator, and restores any resumable state. All
// configuration errors surface here, before the first batch.
func NewSolver(cfg *Config, models *ModelSet, opts *OptimizerSet, collab Collaborators, loaders Loaders, log *zap.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if loaders.Train == nil {
		return nil, fmt.Errorf("no training data loader provided")
	}
	if cfg.ValidEqualsTest {
		loaders.Valid = loaders.Test
	}
	if cfg.CrossValid && loaders.Valid == nil {
		return nil, fmt.Errorf("cross validation enabled but no validation loader provided")
	}
	if cfg.ReturnSpec && collab.Spectral == nil {
		return nil, fmt.Errorf("return_spec enabled but no spectral transform provided")
	}
	if opts == nil || opts.Generator == nil {
		return nil, fmt.Errorf("no generator optimizer configured")
	}

	composer, err := NewLossComposer(cfg, models, collab)
	if err != nil {
		return nil, err
	}

	var scheduler *AdversarialScheduler
	if cfg.Adversarial {
		scheduler, err = NewAdversarialScheduler(cfg, models, opts)
		if err != nil {
			return nil, err
		}
	} else if err := opts.validate(cfg, models); err != nil {
		return nil, err
	}

	evalCoord, err := NewEvaluationCoordinator(cfg, collab, loaders.Test != nil, log)
	if err != nil {
		return nil, err
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %v", err)
	}

	s := &Solver{
		cfg:        cfg,
		models:     models,
		opts:       opts,
		composer:   composer,
		scheduler:  scheduler,
		evalCoord:  evalCoord,
		loaders:    loaders,
		enhancer:   collab.Enhancer,
		spectral:   collab.Spectral,
		metrics:    collab.Metrics,
		log:        log,
		bestStates: make(map[string]checkpoints.ModelState),
		configJSON: configJSON,
	}

	if cfg.Checkpoint {
		s.saver, err = checkpoints.NewSaver(cfg.CheckpointFile, cfg.BestFile, log)
		if err != nil {
			return nil, err
		}
	}

	if err := s.resume(); err != nil {
		return nil, err
	}
	return s, nil
}

// resume applies the fixed precedence (canonical checkpoint, then
// continue-from, then fresh) and loads the chosen state.
func (s *Solver) resume() error {
	canonical := ""
	if s.cfg.Checkpoint {
		canonical = s.cfg.CheckpointFile
	}
	decision := checkpoints.ResolveResume(canonical, checkpoints.ResumeOptions{
		Restart:      s.cfg.Restart,
		ContinueFrom: s.cfg.ContinueFrom,
		ContinueBest: s.cfg.ContinueBest,
		KeepHistory:  s.cfg.KeepHistory,
	})
	if decision.Fresh() {
		s.log.Info("starting fresh run")
		return nil
	}

	loader := s.saver
	if loader == nil {
		var err error
		loader, err = checkpoints.NewSaver(decision.Path, "", s.log)
		if err != nil {
			return err
		}
	}
	ck, err := loader.Load(decision.Path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %v", err)
	}

	if decision.LoadBest {
		s.log.Info("loading best model states", zap.String("path", decision.Path))
		if err := s.models.Restore(ck.BestStates); err != nil {
			return err
		}
	} else {
		s.log.Info("loading full training state", zap.String("path", decision.Path))
		if err := s.models.Restore(ck.Models); err != nil {
			return err
		}
		if err := s.restoreOptimizers(ck.Optimizers); err != nil {
			return err
		}
	}

	if decision.KeepHistory {
		s.history = ck.History
	}
	if ck.BestStates != nil {
		s.bestStates = ck.BestStates
	}
	s.runID = ck.Metadata.RunID
	return nil
}

func (s *Solver) restoreOptimizers(states map[string]*checkpoints.OptimizerState) error {
	for key, state := range states {
		opt, err := s.optimizerForKey(key)
		if err != nil {
			return err
		}
		if err := opt.LoadState(state); err != nil {
			return fmt.Errorf("failed to restore optimizer %q: %v", key, err)
		}
	}
	return nil
}

func (s *Solver) optimizerForKey(key string) (optimizer.Optimizer, error) {
	switch {
	case key == genOptimizerKey:
		return s.opts.Generator, nil
	case key == discOptimizerKey:
		if s.opts.Discriminator == nil {
			return nil, fmt.Errorf("checkpoint carries a joint discriminator optimizer but none is configured")
		}
		return s.opts.Discriminator, nil
	case len(key) > len(discOptimizerPrefix) && key[:len(discOptimizerPrefix)] == discOptimizerPrefix:
		name := key[len(discOptimizerPrefix):]
		opt, ok := s.opts.Discriminators[name]
		if !ok {
			return nil, fmt.Errorf("checkpoint carries optimizer state for unknown discriminator %q", name)
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("unknown optimizer key %q in checkpoint", key)
	}
}

// Train runs the epoch loop from wherever the history says training stopped.
// Returns nil when all configured epochs have completed.
func (s *Solver) Train() error {
	for epoch, metrics := range s.history {
		s.log.Info("replaying metrics from previous run",
			zap.Int("epoch", epoch+1),
			zap.Any("metrics", metrics))
	}
	s.log.Info("model sizes",
		zap.Int("generator_params", NumParams(s.models.Generator)))
	for _, name := range s.models.Names() {
		if name == GeneratorKey {
			continue
		}
		m, _ := s.models.model(name)
		s.log.Info("discriminator size",
			zap.String("name", name),
			zap.Int("params", NumParams(m)))
	}

	for epoch := len(s.history); epoch < s.cfg.Epochs; epoch++ {
		if err := s.runEpoch(epoch); err != nil {
			return fmt.Errorf("epoch %d failed: %v", epoch+1, err)
		}
	}
	s.log.Info("training complete", zap.Int("epochs", s.cfg.Epochs))
	return nil
}

func (s *Solver) runEpoch(epoch int) error {
	s.log.Info("training epoch", zap.Int("epoch", epoch+1))
	s.models.TrainMode()
	s.loaders.Train.SetEpoch(epoch)
	trainLosses, err := s.runOneEpoch(epoch, s.loaders.Train, false)
	if err != nil {
		return err
	}

	metrics := make(map[string]float64, 2*len(trainLosses)+4)
	for k, v := range trainLosses {
		metrics["train_"+k] = v
	}

	var enhancedFiles []string
	crossValidRan := false
	if s.evalCoord.ShouldCrossValidate(epoch) {
		s.models.EvalMode()
		var validLosses map[string]float64
		if s.cfg.ValidEqualsTest && s.evalCoord.ShouldEvaluate(epoch) && !s.cfg.JointEvaluateAndEnhance {
			// Validation runs on the test set anyway, so enhance while we
			// are at it and score the saved outputs afterwards.
			validLosses, enhancedFiles, err = s.validLossesWithEnhancement(epoch)
		} else {
			s.loaders.Valid.Reset()
			validLosses, err = s.runOneEpoch(epoch, s.loaders.Valid, true)
		}
		if err != nil {
			return fmt.Errorf("cross validation failed: %v", err)
		}
		for k, v := range validLosses {
			metrics["valid_"+k] = v
		}
		crossValidRan = true
	}

	if crossValidRan {
		validLoss := metrics[validEvaluationLoss]
		bestLoss := validLoss
		for _, v := range PullMetric(s.history, validEvaluationLoss) {
			if v < bestLoss {
				bestLoss = v
			}
		}
		metrics[bestLossKey] = bestLoss
		// A tie counts as a new best: the most recent state wins.
		if validLoss <= bestLoss {
			s.log.Info("new best state",
				zap.Int("epoch", epoch+1),
				zap.Float64("valid_loss", validLoss))
			s.bestStates = s.models.Snapshot()
		}
	}

	if s.evalCoord.ShouldEvaluate(epoch) {
		s.models.EvalMode()
		lsd, visqol, err := s.evaluateEpoch(epoch, enhancedFiles)
		if err != nil {
			return fmt.Errorf("evaluation failed: %v", err)
		}
		metrics[averageLSDKey] = lsd
		metrics[averageViSQOLKey] = visqol
	}

	s.log.Info("epoch summary", zap.Int("epoch", epoch+1), zap.Any("metrics", metrics))
	if s.metrics != nil {
		if err := s.metrics.Log(epoch, metrics); err != nil {
			s.log.Warn("metrics sink rejected epoch metrics", zap.Error(err))
		}
	}

	s.history = append(s.history, metrics)

	if s.cfg.Rank == 0 {
		if s.cfg.HistoryFile != "" {
			if err := WriteHistory(s.cfg.HistoryFile, s.history); err != nil {
				return err
			}
		}
		if s.cfg.Checkpoint {
			if err := s.saver.Persist(s.serialize()); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluateEpoch runs the test-set evaluation, on the best-known weights when
// so configured. The live training weights are always restored afterwards.
func (s *Solver) evaluateEpoch(epoch int, enhancedFiles []string) (lsd, visqol float64, err error) {
	if s.cfg.EvaluateOnBest && len(s.bestStates) > 0 {
		swap, swapErr := swapIn(s.models, s.bestStates)
		if swapErr != nil {
			return 0, 0, swapErr
		}
		defer func() {
			if restoreErr := swap.Restore(); restoreErr != nil && err == nil {
				err = restoreErr
			}
		}()
	}
	return s.evalCoord.Evaluate(epoch, s.loaders.Test, s.models.Generator, enhancedFiles)
}

// runOneEpoch iterates one loader, composing losses per sample. In training
// mode it also runs the generator and discriminator optimization cycles; in
// cross validation it only accumulates metrics. Returned values are averages
// over the epoch, keyed by term name plus the total under evaluation_loss.
func (s *Solver) runOneEpoch(epoch int, loader *DataLoader, crossValid bool) (map[string]float64, error) {
	totals := make(map[string]float64)
	count := 0
	logEvery := loader.Len()
	if s.cfg.NumPrints > 0 && loader.Len() >= s.cfg.NumPrints {
		logEvery = loader.Len() / s.cfg.NumPrints
	}

	for {
		sample, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if sample == nil {
			break
		}

		result, totalGen, _, err := s.composeSample(sample)
		if err != nil {
			return nil, err
		}

		if !crossValid {
			s.opts.Generator.ZeroGrad()
			if err := totalGen.Backward(); err != nil {
				return nil, fmt.Errorf("generator backward failed: %v", err)
			}
			if err := s.opts.Generator.Step(); err != nil {
				return nil, fmt.Errorf("generator step failed: %v", err)
			}
			if s.cfg.Adversarial {
				if err := s.scheduler.Step(result.Discriminator); err != nil {
					return nil, err
				}
			}
		}

		accumulate(totals, result, totalGen)
		count++

		if logEvery > 0 && count%logEvery == 0 {
			s.log.Info("progress",
				zap.Int("epoch", epoch+1),
				zap.Int("batch", count),
				zap.Int("total", loader.Len()),
				zap.Bool("cross_valid", crossValid),
				zap.Float64("loss", totals[evaluationLossKey]/float64(count)))
		}
	}

	if count == 0 {
		return nil, fmt.Errorf("loader produced no samples")
	}
	for k := range totals {
		totals[k] /= float64(count)
	}
	return totals, nil
}

// composeSample runs the generator forward and composes the loss terms of
// one sample. The raw prediction is returned for callers that persist
// enhanced outputs.
func (s *Solver) composeSample(sample *Sample) (*LossResult, *tensor.Tensor, *tensor.Tensor, error) {
	pr, err := s.models.Generator.Forward(sample.LR)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generator forward failed: %v", err)
	}

	target := Representations{ReprTime: sample.HR}
	predicted := Representations{ReprTime: pr}
	if s.cfg.ReturnSpec {
		hrSpec, err := s.spectral.Transform(sample.HR)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("target spectral transform failed: %v", err)
		}
		prSpec, err := s.spectral.Transform(pr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("prediction spectral transform failed: %v", err)
		}
		target[ReprSpec] = hrSpec
		predicted[ReprSpec] = prSpec
	}

	result, err := s.composer.Compose(target, predicted)
	if err != nil {
		return nil, nil, nil, err
	}
	totalGen, err := result.TotalGenerator()
	if err != nil {
		return nil, nil, nil, err
	}
	return result, totalGen, pr, nil
}

// validLossesWithEnhancement computes cross-validation losses on the test
// set while persisting each enhanced output, so the evaluation pass can
// score the saved files without re-running the generator.
func (s *Solver) validLossesWithEnhancement(epoch int) (map[string]float64, []string, error) {
	if s.enhancer == nil {
		return nil, nil, fmt.Errorf("enhancement during validation requires an enhancer")
	}
	loader := s.loaders.Valid
	loader.Reset()

	totals := make(map[string]float64)
	var filenames []string
	count := 0
	for {
		sample, err := loader.Next()
		if err != nil {
			return nil, nil, err
		}
		if sample == nil {
			break
		}

		result, totalGen, pr, err := s.composeSample(sample)
		if err != nil {
			return nil, nil, err
		}

		hrLen := sample.HR.Shape[len(sample.HR.Shape)-1]
		matched, err := MatchSignal(pr.Detach(), hrLen)
		if err != nil {
			return nil, nil, err
		}
		filename := baseName(sample.LRPath)
		if err := s.enhancer.SaveWavs(matched, sample.LR, sample.HR, filename); err != nil {
			return nil, nil, fmt.Errorf("failed to save enhanced output %s: %v", filename, err)
		}
		if s.spectral != nil {
			lrSpec, err := s.spectral.Transform(sample.LR)
			if err != nil {
				return nil, nil, fmt.Errorf("low-resolution spectral transform failed: %v", err)
			}
			prSpec, err := s.spectral.Transform(matched)
			if err != nil {
				return nil, nil, fmt.Errorf("prediction spectral transform failed: %v", err)
			}
			hrSpec, err := s.spectral.Transform(sample.HR)
			if err != nil {
				return nil, nil, fmt.Errorf("target spectral transform failed: %v", err)
			}
			if err := s.enhancer.SaveSpecs(lrSpec, prSpec, hrSpec, filename); err != nil {
				return nil, nil, fmt.Errorf("failed to save spectrograms %s: %v", filename, err)
			}
		}
		filenames = append(filenames, filename)

		accumulate(totals, result, totalGen)
		count++
	}
	if count == 0 {
		return nil, nil, fmt.Errorf("validation loader produced no samples")
	}
	for k := range totals {
		totals[k] /= float64(count)
	}
	return totals, filenames, nil
}

// accumulate adds one batch's loss values into the running totals. Per-term
// keys carry a generator_/discriminator_ prefix; the combined generator loss
// is kept under evaluation_loss. Loss terms are scalar by construction, so
// Item cannot fail here.
func accumulate(totals map[string]float64, result *LossResult, totalGen *tensor.Tensor) {
	for k, t := range result.Generator {
		v, _ := t.Item()
		totals["generator_"+k] += float64(v)
	}
	for k, t := range result.Discriminator {
		v, _ := t.Item()
		totals["discriminator_"+k] += float64(v)
	}
	v, _ := totalGen.Item()
	totals[evaluationLossKey] += float64(v)
}

func baseName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// serialize projects the live training state into its durable form.
func (s *Solver) serialize() *checkpoints.Checkpoint {
	ck := &checkpoints.Checkpoint{
		Models:     s.models.Snapshot(),
		Optimizers: make(map[string]*checkpoints.OptimizerState),
		History:    s.history,
		BestStates: s.bestStates,
		Config:     s.configJSON,
		Metadata:   checkpoints.CheckpointMetadata{RunID: s.runID},
	}

	if state, err := s.opts.Generator.GetState(); err == nil {
		ck.Optimizers[genOptimizerKey] = state
	} else {
		s.log.Warn("failed to extract generator optimizer state", zap.Error(err))
	}

	if s.cfg.Adversarial {
		if s.cfg.OptimizerMode == SeparateOptimizers && s.cfg.DiscriminatorMode == MultipleDiscriminators {
			for name, opt := range s.opts.Discriminators {
				state, err := opt.GetState()
				if err != nil {
					s.log.Warn("failed to extract discriminator optimizer state",
						zap.String("name", name), zap.Error(err))
					continue
				}
				ck.Optimizers[discOptimizerPrefix+name] = state
			}
		} else if s.opts.Discriminator != nil {
			state, err := s.opts.Discriminator.GetState()
			if err != nil {
				s.log.Warn("failed to extract discriminator optimizer state", zap.Error(err))
			} else {
				ck.Optimizers[discOptimizerKey] = state
			}
		}
	}

	return ck
}

// History returns the metrics of all completed epochs.
func (s *Solver) History() []map[string]float64 {
	return s.history
}

// BestStates returns the best-known model snapshots.
func (s *Solver) BestStates() map[string]checkpoints.ModelState {
	return s.bestStates
}
