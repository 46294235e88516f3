package training

import (
	"fmt"
	"sort"

	"github.com/wavelift/wavelift/optimizer"
	"github.com/wavelift/wavelift/tensor"
)

// OptimizerSet binds the models to their optimizers according to the
// configured optimizer mode.
//
// Separate mode fills Discriminators with one optimizer per discriminator
// name; single and joint modes fill Discriminator with one optimizer over
// the (combined) discriminator parameters.
type OptimizerSet struct {
	Generator      optimizer.Optimizer
	Discriminator  optimizer.Optimizer
	Discriminators map[string]optimizer.Optimizer
}

// validate checks the discriminator-side optimizer arrangement against the
// configured mode. The generator optimizer is checked by the solver.
func (os *OptimizerSet) validate(cfg *Config, models *ModelSet) error {
	if !cfg.Adversarial {
		return nil
	}
	if cfg.OptimizerMode == SeparateOptimizers {
		if os.Discriminator != nil {
			return fmt.Errorf("separate optimizer mode must not carry a joint discriminator optimizer")
		}
		for name := range models.Discriminators {
			if _, ok := os.Discriminators[name]; !ok {
				return fmt.Errorf("no optimizer configured for discriminator %q", name)
			}
		}
		return nil
	}
	if os.Discriminator == nil {
		return fmt.Errorf("no discriminator optimizer configured")
	}
	if len(os.Discriminators) != 0 {
		return fmt.Errorf("joint optimizer mode must not carry per-discriminator optimizers")
	}
	return nil
}

// AdversarialScheduler executes the discriminator side of one batch: it
// routes each named discriminator loss through the configured optimizer
// arrangement with a zero-grad / backward / step cycle per optimizer.
type AdversarialScheduler struct {
	cfg  *Config
	opts *OptimizerSet
}

func NewAdversarialScheduler(cfg *Config, models *ModelSet, opts *OptimizerSet) (*AdversarialScheduler, error) {
	if err := opts.validate(cfg, models); err != nil {
		return nil, err
	}
	return &AdversarialScheduler{cfg: cfg, opts: opts}, nil
}

// Step consumes the per-discriminator losses of one batch. An empty loss map
// in adversarial mode is a hard error: it means the composer and the
// scheduler disagree about the experiment, and silently skipping the
// discriminator update would corrupt the run.
func (s *AdversarialScheduler) Step(discLosses map[string]*tensor.Tensor) error {
	if len(discLosses) == 0 {
		return fmt.Errorf("adversarial step invoked with no discriminator losses")
	}

	names := make([]string, 0, len(discLosses))
	for name := range discLosses {
		names = append(names, name)
	}
	sort.Strings(names)

	switch {
	case s.cfg.DiscriminatorMode == SingleDiscriminator:
		if len(discLosses) != 1 {
			return fmt.Errorf("single discriminator mode expects exactly one loss, got %d", len(discLosses))
		}
		return s.cycle(s.opts.Discriminator, discLosses[names[0]])

	case s.cfg.OptimizerMode == SeparateOptimizers:
		for _, name := range names {
			opt, ok := s.opts.Discriminators[name]
			if !ok {
				return fmt.Errorf("no optimizer for discriminator loss %q", name)
			}
			if err := s.cycle(opt, discLosses[name]); err != nil {
				return fmt.Errorf("discriminator %q step failed: %v", name, err)
			}
		}
		return nil

	default: // joint
		total := discLosses[names[0]]
		for _, name := range names[1:] {
			sum, err := tensor.AddAutograd(total, discLosses[name])
			if err != nil {
				return fmt.Errorf("failed to sum discriminator losses: %v", err)
			}
			total = sum
		}
		return s.cycle(s.opts.Discriminator, total)
	}
}

// cycle is one zero-grad / backward / step round on a single optimizer.
func (s *AdversarialScheduler) cycle(opt optimizer.Optimizer, loss *tensor.Tensor) error {
	opt.ZeroGrad()
	if err := loss.Backward(); err != nil {
		return fmt.Errorf("discriminator backward failed: %v", err)
	}
	return opt.Step()
}
