package training

import (
	"fmt"

	"github.com/wavelift/wavelift/tensor"
)

// adversarialStrategy computes the generator-side and discriminator-side
// terms of one discriminator variant. Implementations must follow the
// detachment discipline documented on LossComposer.
type adversarialStrategy interface {
	name() string
	compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error)
}

// logit returns the final activation of one discriminator scale.
func logit(scale []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(scale) == 0 {
		return nil, fmt.Errorf("discriminator scale produced no activations")
	}
	return scale[len(scale)-1], nil
}

// hingeReal is mean(relu(1 - x)): the real-side hinge term, also the
// generator's hinge objective on the fake logit.
func hingeReal(x *tensor.Tensor) (*tensor.Tensor, error) {
	neg, err := tensor.ScaleAutograd(x, -1)
	if err != nil {
		return nil, err
	}
	shifted, err := tensor.AddScalarAutograd(neg, 1)
	if err != nil {
		return nil, err
	}
	relu, err := tensor.ReLUAutograd(shifted)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(relu)
}

// hingeFake is mean(relu(1 + x)): the fake-side hinge term.
func hingeFake(x *tensor.Tensor) (*tensor.Tensor, error) {
	shifted, err := tensor.AddScalarAutograd(x, 1)
	if err != nil {
		return nil, err
	}
	relu, err := tensor.ReLUAutograd(shifted)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(relu)
}

// lsToOne is mean((x - 1)^2): the least-squares real term and the
// least-squares generator objective on the fake logit.
func lsToOne(x *tensor.Tensor) (*tensor.Tensor, error) {
	shifted, err := tensor.AddScalarAutograd(x, -1)
	if err != nil {
		return nil, err
	}
	sq, err := tensor.SquareAutograd(shifted)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(sq)
}

// lsToZero is mean(x^2): the least-squares fake term.
func lsToZero(x *tensor.Tensor) (*tensor.Tensor, error) {
	sq, err := tensor.SquareAutograd(x)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(sq)
}

func sumTerms(terms []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("no terms to sum")
	}
	total := terms[0]
	for _, t := range terms[1:] {
		sum, err := tensor.AddAutograd(total, t)
		if err != nil {
			return nil, err
		}
		total = sum
	}
	return total, nil
}

// melganStrategy implements the hinge objective over a multi-scale
// discriminator, with the MelGAN layer-count feature weighting.
type melganStrategy struct{}

func (s *melganStrategy) name() string { return "melgan" }

func (s *melganStrategy) compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error) {
	hr := target[ReprTime]
	pr := predicted[ReprTime]
	d := lc.discs["melgan"]

	// Discriminator loss: detached fake pass.
	fakeDet, err := d.Forward(pr.Detach())
	if err != nil {
		return nil, nil, err
	}
	real, err := d.Forward(hr)
	if err != nil {
		return nil, nil, err
	}
	var discTerms []*tensor.Tensor
	for i := range fakeDet {
		fakeLogit, err := logit(fakeDet[i])
		if err != nil {
			return nil, nil, err
		}
		realLogit, err := logit(real[i])
		if err != nil {
			return nil, nil, err
		}
		ft, err := hingeFake(fakeLogit)
		if err != nil {
			return nil, nil, err
		}
		rt, err := hingeReal(realLogit)
		if err != nil {
			return nil, nil, err
		}
		discTerms = append(discTerms, ft, rt)
	}
	discLoss, err := sumTerms(discTerms)
	if err != nil {
		return nil, nil, err
	}

	// Generator terms: attached fake pass.
	fake, err := d.Forward(pr)
	if err != nil {
		return nil, nil, err
	}
	genTerms := make(map[string]*tensor.Tensor)

	if !lc.cfg.OnlyFeaturesLoss {
		var advTerms []*tensor.Tensor
		for i := range fake {
			fakeLogit, err := logit(fake[i])
			if err != nil {
				return nil, nil, err
			}
			at, err := hingeReal(fakeLogit)
			if err != nil {
				return nil, nil, err
			}
			advTerms = append(advTerms, at)
		}
		adv, err := sumTerms(advTerms)
		if err != nil {
			return nil, nil, err
		}
		genTerms["adversarial_melgan"] = adv
	}

	if !lc.cfg.OnlyAdversarialLoss {
		if len(fake) == 0 {
			return nil, nil, fmt.Errorf("discriminator produced no scales")
		}
		// MelGAN feature weighting: 4/(layers per scale) averaged over
		// scales. Real feature maps are detached so the matching term
		// trains only the generator.
		weight := (4.0 / float32(len(fake[0]))) * (1.0 / float32(len(fake)))
		var featTerms []*tensor.Tensor
		for i := range fake {
			for j := 0; j < len(fake[i])-1; j++ {
				ft, err := l1Loss(fake[i][j], real[i][j].Detach())
				if err != nil {
					return nil, nil, err
				}
				featTerms = append(featTerms, ft)
			}
		}
		feat, err := sumTerms(featTerms)
		if err != nil {
			return nil, nil, err
		}
		feat, err = tensor.ScaleAutograd(feat, weight*lc.cfg.FeaturesLossLambda)
		if err != nil {
			return nil, nil, err
		}
		genTerms["features_melgan"] = feat
	}

	return genTerms, discLoss, nil
}

// leastSquaresStrategy implements the LSGAN objective used by the msd, mpd
// and spec discriminators. The spec variant consumes the spectral
// representation (or its mel transform) instead of the waveform.
type leastSquaresStrategy struct {
	variant   string
	specInput bool
}

func (s *leastSquaresStrategy) name() string { return s.variant }

func (s *leastSquaresStrategy) inputs(lc *LossComposer, target, predicted Representations) (hr, pr *tensor.Tensor, err error) {
	if !s.specInput {
		return target[ReprTime], predicted[ReprTime], nil
	}
	if lc.cfg.MelSpecTransform {
		hr, err = lc.mel.Transform(target[ReprTime])
		if err != nil {
			return nil, nil, err
		}
		pr, err = lc.mel.Transform(predicted[ReprTime])
		if err != nil {
			return nil, nil, err
		}
		return hr, pr, nil
	}
	return specReprs(target, predicted)
}

func (s *leastSquaresStrategy) compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error) {
	hr, pr, err := s.inputs(lc, target, predicted)
	if err != nil {
		return nil, nil, err
	}
	d := lc.discs[s.variant]

	discLoss, err := leastSquaresDiscLoss(d, hr, pr)
	if err != nil {
		return nil, nil, err
	}

	adv, feat, err := leastSquaresGenTerms(d, hr, pr)
	if err != nil {
		return nil, nil, err
	}

	genTerms := make(map[string]*tensor.Tensor)
	if !lc.cfg.OnlyFeaturesLoss {
		genTerms["adversarial_"+s.variant] = adv
	}
	if !lc.cfg.OnlyAdversarialLoss {
		scaled, err := tensor.ScaleAutograd(feat, lc.cfg.FeaturesLossLambda)
		if err != nil {
			return nil, nil, err
		}
		genTerms["features_"+s.variant] = scaled
	}
	return genTerms, discLoss, nil
}

// leastSquaresDiscLoss is sum over scales of mean((real-1)^2) + mean(fake^2),
// with the fake pass detached.
func leastSquaresDiscLoss(d Discriminator, hr, pr *tensor.Tensor) (*tensor.Tensor, error) {
	real, err := d.Forward(hr)
	if err != nil {
		return nil, err
	}
	fake, err := d.Forward(pr.Detach())
	if err != nil {
		return nil, err
	}
	var terms []*tensor.Tensor
	for i := range real {
		realLogit, err := logit(real[i])
		if err != nil {
			return nil, err
		}
		fakeLogit, err := logit(fake[i])
		if err != nil {
			return nil, err
		}
		rt, err := lsToOne(realLogit)
		if err != nil {
			return nil, err
		}
		ft, err := lsToZero(fakeLogit)
		if err != nil {
			return nil, err
		}
		terms = append(terms, rt, ft)
	}
	return sumTerms(terms)
}

// leastSquaresGenTerms runs the attached passes and returns the adversarial
// term (sum over scales of mean((fake-1)^2)) and the feature-matching term
// (L1 over intermediate feature maps, averaged over layers and scales, real
// side detached).
func leastSquaresGenTerms(d Discriminator, hr, pr *tensor.Tensor) (adv, feat *tensor.Tensor, err error) {
	real, err := d.Forward(hr)
	if err != nil {
		return nil, nil, err
	}
	fake, err := d.Forward(pr)
	if err != nil {
		return nil, nil, err
	}

	var advTerms []*tensor.Tensor
	var featTerms []*tensor.Tensor
	for i := range fake {
		fakeLogit, err := logit(fake[i])
		if err != nil {
			return nil, nil, err
		}
		at, err := lsToOne(fakeLogit)
		if err != nil {
			return nil, nil, err
		}
		advTerms = append(advTerms, at)

		layers := len(fake[i]) - 1
		if layers == 0 {
			continue
		}
		var scaleTerms []*tensor.Tensor
		for j := 0; j < layers; j++ {
			ft, err := l1Loss(fake[i][j], real[i][j].Detach())
			if err != nil {
				return nil, nil, err
			}
			scaleTerms = append(scaleTerms, ft)
		}
		scaleFeat, err := sumTerms(scaleTerms)
		if err != nil {
			return nil, nil, err
		}
		scaleFeat, err = tensor.ScaleAutograd(scaleFeat, 1.0/float32(layers))
		if err != nil {
			return nil, nil, err
		}
		featTerms = append(featTerms, scaleFeat)
	}

	adv, err = sumTerms(advTerms)
	if err != nil {
		return nil, nil, err
	}
	if len(featTerms) == 0 {
		return adv, tensor.FromScalar(0), nil
	}
	feat, err = sumTerms(featTerms)
	if err != nil {
		return nil, nil, err
	}
	feat, err = tensor.ScaleAutograd(feat, 1.0/float32(len(featTerms)))
	if err != nil {
		return nil, nil, err
	}
	return adv, feat, nil
}

// hifiStrategy is the composite LSGAN objective over the period (mpd) and
// scale (msd) discriminators, plus a mel-spectrogram reconstruction term.
// The mel term is part of the adversarial objective and stays active even
// when feature or adversarial terms are suppressed.
type hifiStrategy struct{}

func (s *hifiStrategy) name() string { return "hifi" }

func (s *hifiStrategy) compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error) {
	hr := target[ReprTime]
	pr := predicted[ReprTime]
	mpd := lc.discs["mpd"]
	msd := lc.discs["msd"]

	discPeriod, err := leastSquaresDiscLoss(mpd, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	discScale, err := leastSquaresDiscLoss(msd, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	discLoss, err := tensor.AddAutograd(discPeriod, discScale)
	if err != nil {
		return nil, nil, err
	}

	advP, featP, err := leastSquaresGenTerms(mpd, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	advS, featS, err := leastSquaresGenTerms(msd, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	mel, err := lc.melL1(pr, hr)
	if err != nil {
		return nil, nil, err
	}

	terms := []*tensor.Tensor{mel}
	if !lc.cfg.OnlyFeaturesLoss {
		terms = append(terms, advP, advS)
	}
	if !lc.cfg.OnlyAdversarialLoss {
		featP, err = tensor.ScaleAutograd(featP, lc.cfg.FeaturesLossLambda)
		if err != nil {
			return nil, nil, err
		}
		featS, err = tensor.ScaleAutograd(featS, lc.cfg.FeaturesLossLambda)
		if err != nil {
			return nil, nil, err
		}
		terms = append(terms, featP, featS)
	}
	total, err := sumTerms(terms)
	if err != nil {
		return nil, nil, err
	}

	return map[string]*tensor.Tensor{"adversarial_hifi": total}, discLoss, nil
}

// mbdStrategy is the LSGAN objective over the multi-band discriminator. Its
// generator term always carries all three components: adversarial, feature
// matching and mel reconstruction.
type mbdStrategy struct{}

func (s *mbdStrategy) name() string { return "mbd" }

func (s *mbdStrategy) compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error) {
	hr := target[ReprTime]
	pr := predicted[ReprTime]
	d := lc.discs["mbd"]

	discLoss, err := leastSquaresDiscLoss(d, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	adv, feat, err := leastSquaresGenTerms(d, hr, pr)
	if err != nil {
		return nil, nil, err
	}
	feat, err = tensor.ScaleAutograd(feat, lc.cfg.FeaturesLossLambda)
	if err != nil {
		return nil, nil, err
	}
	mel, err := lc.melL1(pr, hr)
	if err != nil {
		return nil, nil, err
	}
	total, err := sumTerms([]*tensor.Tensor{adv, feat, mel})
	if err != nil {
		return nil, nil, err
	}
	return map[string]*tensor.Tensor{"adversarial_mbd": total}, discLoss, nil
}

// stftStrategy is the hinge objective over the single-scale spectrogram
// discriminator. Its generator term combines the adversarial and feature
// components into one scalar.
type stftStrategy struct{}

func (s *stftStrategy) name() string { return "stft" }

func (s *stftStrategy) compute(lc *LossComposer, target, predicted Representations) (map[string]*tensor.Tensor, *tensor.Tensor, error) {
	hrSpec, prSpec, err := specReprs(target, predicted)
	if err != nil {
		return nil, nil, err
	}
	d := lc.discs["stft"]

	fakeDet, err := d.Forward(prSpec.Detach())
	if err != nil {
		return nil, nil, err
	}
	real, err := d.Forward(hrSpec)
	if err != nil {
		return nil, nil, err
	}
	if len(fakeDet) == 0 || len(real) == 0 {
		return nil, nil, fmt.Errorf("stft discriminator produced no scales")
	}
	fakeLogitDet, err := logit(fakeDet[0])
	if err != nil {
		return nil, nil, err
	}
	realLogit, err := logit(real[0])
	if err != nil {
		return nil, nil, err
	}
	ft, err := hingeFake(fakeLogitDet)
	if err != nil {
		return nil, nil, err
	}
	rt, err := hingeReal(realLogit)
	if err != nil {
		return nil, nil, err
	}
	discLoss, err := tensor.AddAutograd(ft, rt)
	if err != nil {
		return nil, nil, err
	}

	fake, err := d.Forward(prSpec)
	if err != nil {
		return nil, nil, err
	}
	var terms []*tensor.Tensor
	if !lc.cfg.OnlyFeaturesLoss {
		fakeLogit, err := logit(fake[0])
		if err != nil {
			return nil, nil, err
		}
		adv, err := hingeReal(fakeLogit)
		if err != nil {
			return nil, nil, err
		}
		terms = append(terms, adv)
	}
	if !lc.cfg.OnlyAdversarialLoss {
		layers := len(fake[0]) - 1
		if layers > 0 {
			var featTerms []*tensor.Tensor
			for j := 0; j < layers; j++ {
				t, err := l1Loss(fake[0][j], real[0][j].Detach())
				if err != nil {
					return nil, nil, err
				}
				featTerms = append(featTerms, t)
			}
			feat, err := sumTerms(featTerms)
			if err != nil {
				return nil, nil, err
			}
			feat, err = tensor.ScaleAutograd(feat, lc.cfg.FeaturesLossLambda/float32(layers))
			if err != nil {
				return nil, nil, err
			}
			terms = append(terms, feat)
		}
	}
	total, err := sumTerms(terms)
	if err != nil {
		return nil, nil, err
	}

	return map[string]*tensor.Tensor{"adversarial_stft": total}, discLoss, nil
}
