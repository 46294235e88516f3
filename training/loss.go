package training

import (
	"fmt"
	"sort"

	"github.com/wavelift/wavelift/tensor"
)

// Representation keys. Every batch carries "time"; "spec" is present when
// the experiment is configured with return_spec.
const (
	ReprTime = "time"
	ReprSpec = "spec"
)

// Representations maps a representation name to its tensor.
type Representations map[string]*tensor.Tensor

// LossResult holds the named loss terms of one batch: generator terms are
// summed into the single generator backward scalar, discriminator terms are
// routed to the adversarial scheduler keyed by discriminator name.
type LossResult struct {
	Generator     map[string]*tensor.Tensor
	Discriminator map[string]*tensor.Tensor
}

func newLossResult() *LossResult {
	return &LossResult{
		Generator:     make(map[string]*tensor.Tensor),
		Discriminator: make(map[string]*tensor.Tensor),
	}
}

// TotalGenerator sums all generator terms into one scalar, in deterministic
// key order.
func (r *LossResult) TotalGenerator() (*tensor.Tensor, error) {
	keys := make([]string, 0, len(r.Generator))
	for k := range r.Generator {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total *tensor.Tensor
	for _, k := range keys {
		if total == nil {
			total = r.Generator[k]
			continue
		}
		sum, err := tensor.AddAutograd(total, r.Generator[k])
		if err != nil {
			return nil, fmt.Errorf("failed to sum generator loss %q: %v", k, err)
		}
		total = sum
	}
	if total == nil {
		return nil, fmt.Errorf("no generator loss terms configured")
	}
	return total, nil
}

// Collaborators bundles the external subsystems the orchestrator consumes.
// Which of them must be non-nil depends on the configuration and is checked
// at construction.
type Collaborators struct {
	Mel        SpectralTransform
	Spectral   SpectralTransform
	MRSTFT     MultiResolutionSTFTLoss
	Perceptual PerceptualModel
	Enhancer   Enhancer
	Evaluator  Evaluator
	Metrics    MetricsSink
}

// LossComposer computes the configured loss terms for one batch.
//
// Detachment discipline: every discriminator pass feeding the discriminator's
// own loss consumes a detached prediction, so that loss can never push
// gradient into the generator; every pass feeding the generator's adversarial
// or feature terms consumes the attached prediction.
type LossComposer struct {
	cfg        *Config
	mel        SpectralTransform
	mrstft     MultiResolutionSTFTLoss
	perceptual PerceptualModel
	discs      map[string]Discriminator
	strategies []adversarialStrategy
}

// NewLossComposer validates that every collaborator required by the enabled
// loss set was provided, and builds the per-variant adversarial strategies.
// A missing collaborator is a configuration error raised here, never
// mid-batch.
func NewLossComposer(cfg *Config, models *ModelSet, collab Collaborators) (*LossComposer, error) {
	lc := &LossComposer{
		cfg:        cfg,
		mel:        collab.Mel,
		mrstft:     collab.MRSTFT,
		perceptual: collab.Perceptual,
		discs:      models.Discriminators,
	}

	if cfg.HasLoss(LossSTFT) && lc.mrstft == nil {
		return nil, fmt.Errorf("stft loss enabled but no multi-resolution stft collaborator provided")
	}
	if cfg.HasLoss(LossPerceptual) && lc.perceptual == nil {
		return nil, fmt.Errorf("perceptual loss enabled but no perceptual model provided")
	}
	if cfg.HasLoss(LossMel) && lc.mel == nil {
		return nil, fmt.Errorf("mel loss enabled but no mel-spectrogram transform provided")
	}

	for _, variant := range cfg.Discriminators {
		strategy, err := lc.buildStrategy(variant)
		if err != nil {
			return nil, err
		}
		lc.strategies = append(lc.strategies, strategy)
	}

	return lc, nil
}

func (lc *LossComposer) buildStrategy(variant DiscriminatorVariant) (adversarialStrategy, error) {
	requireDisc := func(names ...string) error {
		for _, name := range names {
			if _, ok := lc.discs[name]; !ok {
				return fmt.Errorf("variant %q enabled but discriminator %q was not constructed", variant, name)
			}
		}
		return nil
	}

	switch variant {
	case DiscMelGAN:
		if err := requireDisc("melgan"); err != nil {
			return nil, err
		}
		return &melganStrategy{}, nil
	case DiscMSD:
		if err := requireDisc("msd"); err != nil {
			return nil, err
		}
		return &leastSquaresStrategy{variant: "msd"}, nil
	case DiscMPD:
		if err := requireDisc("mpd"); err != nil {
			return nil, err
		}
		return &leastSquaresStrategy{variant: "mpd"}, nil
	case DiscSpec:
		if err := requireDisc("spec"); err != nil {
			return nil, err
		}
		if lc.cfg.MelSpecTransform && lc.mel == nil {
			return nil, fmt.Errorf("spec discriminator with mel_spec_transform requires a mel transform")
		}
		return &leastSquaresStrategy{variant: "spec", specInput: true}, nil
	case DiscHiFi:
		if err := requireDisc("mpd", "msd"); err != nil {
			return nil, err
		}
		if lc.mel == nil {
			return nil, fmt.Errorf("hifi variant requires a mel-spectrogram transform")
		}
		return &hifiStrategy{}, nil
	case DiscMBD:
		if err := requireDisc("mbd"); err != nil {
			return nil, err
		}
		if lc.mel == nil {
			return nil, fmt.Errorf("mbd variant requires a mel-spectrogram transform")
		}
		return &mbdStrategy{}, nil
	case DiscSTFT:
		if err := requireDisc("stft"); err != nil {
			return nil, err
		}
		return &stftStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown discriminator variant %q", variant)
	}
}

// Compose computes one scalar per enabled generator loss kind and, for
// adversarial kinds, one discriminator term per variant. Every term is
// checked for NaN/Inf as it is produced so the offending term is
// identifiable.
func (lc *LossComposer) Compose(target, predicted Representations) (*LossResult, error) {
	hrTime, ok := target[ReprTime]
	if !ok {
		return nil, fmt.Errorf("target is missing the time representation")
	}
	prTime, ok := predicted[ReprTime]
	if !ok {
		return nil, fmt.Errorf("prediction is missing the time representation")
	}

	result := newLossResult()

	addGenerator := func(name string, term *tensor.Tensor) error {
		if !tensor.IsFinite(term) {
			return fmt.Errorf("non-finite value in generator loss term %q", name)
		}
		result.Generator[name] = term
		return nil
	}

	for _, kind := range lc.cfg.Losses {
		switch kind {
		case LossL1:
			term, err := l1Loss(prTime, hrTime)
			if err != nil {
				return nil, fmt.Errorf("l1 loss failed: %v", err)
			}
			if err := addGenerator("l1", term); err != nil {
				return nil, err
			}
		case LossL2:
			term, err := mseLoss(prTime, hrTime)
			if err != nil {
				return nil, fmt.Errorf("l2 loss failed: %v", err)
			}
			if err := addGenerator("l2", term); err != nil {
				return nil, err
			}
		case LossSTFT:
			sc, mag, err := lc.mrstft.Compute(prTime, hrTime)
			if err != nil {
				return nil, fmt.Errorf("multi-resolution stft loss failed: %v", err)
			}
			term, err := tensor.AddAutograd(sc, mag)
			if err != nil {
				return nil, fmt.Errorf("stft loss failed: %v", err)
			}
			if err := addGenerator("stft", term); err != nil {
				return nil, err
			}
		case LossPerceptual:
			distances, err := lc.perceptual.Compute(prTime, hrTime)
			if err != nil {
				return nil, fmt.Errorf("perceptual loss failed: %v", err)
			}
			term, err := tensor.MeanAutograd(distances)
			if err != nil {
				return nil, fmt.Errorf("perceptual loss failed: %v", err)
			}
			if err := addGenerator("perceptual", term); err != nil {
				return nil, err
			}
		case LossMel:
			term, err := lc.melL1(prTime, hrTime)
			if err != nil {
				return nil, fmt.Errorf("mel loss failed: %v", err)
			}
			if err := addGenerator("mel", term); err != nil {
				return nil, err
			}
		case LossSpectralL1:
			hrSpec, prSpec, err := specReprs(target, predicted)
			if err != nil {
				return nil, err
			}
			term, err := l1Loss(prSpec, hrSpec)
			if err != nil {
				return nil, fmt.Errorf("spectral l1 loss failed: %v", err)
			}
			if err := addGenerator("spectral_l1", term); err != nil {
				return nil, err
			}
		case LossSpectralL2:
			// The spec representation is already the real/imag
			// decomposition, so a plain MSE is well defined on it.
			hrSpec, prSpec, err := specReprs(target, predicted)
			if err != nil {
				return nil, err
			}
			term, err := mseLoss(prSpec, hrSpec)
			if err != nil {
				return nil, fmt.Errorf("spectral l2 loss failed: %v", err)
			}
			if err := addGenerator("spectral_l2", term); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown loss kind %q", kind)
		}
	}

	if lc.cfg.Adversarial {
		for _, strategy := range lc.strategies {
			genTerms, discTerm, err := strategy.compute(lc, target, predicted)
			if err != nil {
				return nil, fmt.Errorf("adversarial loss %q failed: %v", strategy.name(), err)
			}
			for name, term := range genTerms {
				if err := addGenerator(name, term); err != nil {
					return nil, err
				}
			}
			if !tensor.IsFinite(discTerm) {
				return nil, fmt.Errorf("non-finite value in discriminator loss term %q", strategy.name())
			}
			result.Discriminator[strategy.name()] = discTerm
		}
	}

	return result, nil
}

// melL1 is the weighted L1 distance between mel-spectrograms.
func (lc *LossComposer) melL1(prTime, hrTime *tensor.Tensor) (*tensor.Tensor, error) {
	hrMel, err := lc.mel.Transform(hrTime)
	if err != nil {
		return nil, err
	}
	prMel, err := lc.mel.Transform(prTime)
	if err != nil {
		return nil, err
	}
	term, err := l1Loss(prMel, hrMel)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAutograd(term, lc.cfg.MelSpecLossLambda)
}

func specReprs(target, predicted Representations) (hrSpec, prSpec *tensor.Tensor, err error) {
	hrSpec, ok := target[ReprSpec]
	if !ok {
		return nil, nil, fmt.Errorf("target is missing the spec representation")
	}
	prSpec, ok = predicted[ReprSpec]
	if !ok {
		return nil, nil, fmt.Errorf("prediction is missing the spec representation")
	}
	return hrSpec, prSpec, nil
}

// l1Loss is mean(|a - b|).
func l1Loss(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(a, b)
	if err != nil {
		return nil, err
	}
	abs, err := tensor.AbsAutograd(diff)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(abs)
}

// mseLoss is mean((a - b)^2).
func mseLoss(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(a, b)
	if err != nil {
		return nil, err
	}
	sq, err := tensor.SquareAutograd(diff)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(sq)
}
