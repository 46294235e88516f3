package training

import (
	"fmt"
)

// LossKind names one term of the generator objective.
type LossKind string

const (
	LossL1         LossKind = "l1"
	LossL2         LossKind = "l2"
	LossSTFT       LossKind = "stft"
	LossPerceptual LossKind = "perceptual"
	LossMel        LossKind = "mel"
	LossSpectralL1 LossKind = "spectral_l1"
	LossSpectralL2 LossKind = "spectral_l2"
)

// DiscriminatorVariant names one adversarial discriminator configuration.
type DiscriminatorVariant string

const (
	DiscMelGAN DiscriminatorVariant = "melgan"
	DiscMSD    DiscriminatorVariant = "msd"
	DiscMPD    DiscriminatorVariant = "mpd"
	DiscHiFi   DiscriminatorVariant = "hifi" // composite: mpd + msd with a mel term
	DiscMBD    DiscriminatorVariant = "mbd"
	DiscSpec   DiscriminatorVariant = "spec"
	DiscSTFT   DiscriminatorVariant = "stft"
)

// DiscriminatorMode selects between a single discriminator and several
// active at once.
type DiscriminatorMode int

const (
	SingleDiscriminator DiscriminatorMode = iota
	MultipleDiscriminators
)

func (m DiscriminatorMode) String() string {
	switch m {
	case SingleDiscriminator:
		return "single"
	case MultipleDiscriminators:
		return "multiple"
	default:
		return "unknown"
	}
}

// OptimizerMode selects how discriminator optimizers are arranged: one per
// discriminator, or one joint optimizer stepping them all.
type OptimizerMode int

const (
	SeparateOptimizers OptimizerMode = iota
	JointOptimizer
)

func (m OptimizerMode) String() string {
	switch m {
	case SeparateOptimizers:
		return "separate"
	case JointOptimizer:
		return "joint"
	default:
		return "unknown"
	}
}

// Config is the immutable experiment configuration. It is fixed before the
// epoch loop begins and never mutated during the run.
type Config struct {
	// Objective.
	Losses              []LossKind
	Adversarial         bool
	Discriminators      []DiscriminatorVariant
	DiscriminatorMode   DiscriminatorMode
	OptimizerMode       OptimizerMode
	OnlyAdversarialLoss bool // suppress feature-matching terms
	OnlyFeaturesLoss    bool // suppress adversarial terms
	FeaturesLossLambda  float32
	MelSpecLossLambda   float32
	// MelSpecTransform feeds the "spec" discriminator mel-spectrograms
	// instead of the raw complex spectrogram representation.
	MelSpecTransform bool
	// ReturnSpec makes each batch carry a "spec" representation next to
	// "time"; required by the spectral losses and the stft discriminator.
	ReturnSpec bool

	// Schedule.
	Epochs          int
	CrossValid      bool
	CrossValidEvery int
	EvalEvery       int
	NumPrints       int // progress log lines per epoch

	// Evaluation behavior.
	ValidEqualsTest         bool
	JointEvaluateAndEnhance bool
	EvaluateOnBest          bool

	// Persistence.
	Checkpoint     bool
	CheckpointFile string
	BestFile       string
	HistoryFile    string
	SamplesDir     string

	// Resumption.
	Restart      bool
	ContinueFrom string
	ContinueBest bool
	KeepHistory  bool

	// Rank of this replica; only rank 0 persists checkpoints and history.
	Rank int
}

// HasLoss reports whether the given loss kind is enabled.
func (c *Config) HasLoss(kind LossKind) bool {
	for _, k := range c.Losses {
		if k == kind {
			return true
		}
	}
	return false
}

// HasDiscriminator reports whether the given variant is configured.
func (c *Config) HasDiscriminator(v DiscriminatorVariant) bool {
	for _, d := range c.Discriminators {
		if d == v {
			return true
		}
	}
	return false
}

// Validate checks the configuration for contradictions. All configuration
// errors are fatal and detected here, before any batch is processed.
func (c *Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.CrossValid && c.CrossValidEvery <= 0 {
		return fmt.Errorf("cross_valid_every must be positive when cross validation is enabled")
	}
	if c.EvalEvery <= 0 {
		return fmt.Errorf("eval_every must be positive")
	}

	if c.OnlyAdversarialLoss && c.OnlyFeaturesLoss {
		return fmt.Errorf("only_adversarial_loss and only_features_loss are mutually exclusive")
	}

	if c.Adversarial {
		if len(c.Discriminators) == 0 {
			return fmt.Errorf("adversarial mode enabled but no discriminator variants configured")
		}
		if c.DiscriminatorMode == SingleDiscriminator && len(c.Discriminators) != 1 {
			return fmt.Errorf("single discriminator mode requires exactly one variant, got %d", len(c.Discriminators))
		}
		if c.DiscriminatorMode == SingleDiscriminator && c.OptimizerMode == SeparateOptimizers {
			return fmt.Errorf("separate discriminator optimizers require multiple discriminator mode")
		}
	} else if len(c.Discriminators) > 0 {
		return fmt.Errorf("discriminator variants configured without adversarial mode")
	}

	if c.HasDiscriminator(DiscSTFT) && !c.ReturnSpec {
		return fmt.Errorf("stft discriminator requires the spec representation (return_spec)")
	}
	if c.HasDiscriminator(DiscSpec) && !c.MelSpecTransform && !c.ReturnSpec {
		return fmt.Errorf("spec discriminator requires either mel_spec_transform or return_spec")
	}
	if (c.HasLoss(LossSpectralL1) || c.HasLoss(LossSpectralL2)) && !c.ReturnSpec {
		return fmt.Errorf("spectral losses require the spec representation (return_spec)")
	}

	if c.Checkpoint && c.CheckpointFile == "" {
		return fmt.Errorf("checkpointing enabled but no checkpoint file configured")
	}

	return nil
}
