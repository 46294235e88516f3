package training

import (
	"fmt"
	"sort"

	"github.com/wavelift/wavelift/checkpoints"
	"github.com/wavelift/wavelift/tensor"
)

// Model is the minimal contract every trainable network satisfies.
type Model interface {
	// Parameters returns the trainable parameter tensors in a stable order.
	Parameters() []*tensor.Tensor
	// Train puts the model in training mode.
	Train()
	// Eval puts the model in evaluation mode.
	Eval()
}

// Generator enhances a low-resolution signal into a high-resolution one.
type Generator interface {
	Model
	Forward(lr *tensor.Tensor) (*tensor.Tensor, error)
}

// Discriminator scores a signal as real or generated. Forward returns one
// slice of layer activations per internal scale (sub-discriminator); the last
// activation of each scale is that scale's logit, the preceding ones are the
// intermediate feature maps used for feature matching.
type Discriminator interface {
	Model
	Forward(x *tensor.Tensor) ([][]*tensor.Tensor, error)
}

// SpectralTransform maps a time-domain signal to a spectral representation
// (complex spectrogram as a real/imag decomposition, or a mel-spectrogram).
type SpectralTransform interface {
	Transform(x *tensor.Tensor) (*tensor.Tensor, error)
}

// MultiResolutionSTFTLoss computes the spectral-convergence and magnitude
// terms across multiple STFT window/hop configurations.
type MultiResolutionSTFTLoss interface {
	Compute(pr, hr *tensor.Tensor) (sc, mag *tensor.Tensor, err error)
}

// PerceptualModel computes per-sample perceptual distances between a
// predicted and a target signal; the composer reduces them by mean.
type PerceptualModel interface {
	Compute(pr, hr *tensor.Tensor) (*tensor.Tensor, error)
}

// Enhancer persists enhanced outputs produced during validation, keyed by
// filename.
type Enhancer interface {
	SaveWavs(pr, lr, hr *tensor.Tensor, filename string) error
	SaveSpecs(lrSpec, prSpec, hrSpec *tensor.Tensor, filename string) error
}

// Evaluator produces enhanced outputs and derived quality metrics on the
// test set.
type Evaluator interface {
	// EvaluateSaved computes metrics from already-persisted enhanced outputs.
	EvaluateSaved(epoch int, filenames []string) (lsd, visqol float64, err error)
	// EvaluateAndEnhance enhances the test set and computes metrics in one
	// pass.
	EvaluateAndEnhance(epoch int, loader *DataLoader, gen Generator) (lsd, visqol float64, filenames []string, err error)
	// Enhance produces and persists enhanced outputs without computing
	// metrics.
	Enhance(loader *DataLoader, gen Generator) (filenames []string, err error)
}

// MetricsSink receives the aggregated scalar metrics of each epoch.
type MetricsSink interface {
	Log(epoch int, metrics map[string]float64) error
}

// GeneratorKey is the fixed ModelSet key of the generator.
const GeneratorKey = "generator"

// ModelSet is the named model registry: exactly one generator plus zero or
// more discriminators keyed by variant name.
type ModelSet struct {
	Generator      Generator
	Discriminators map[string]Discriminator
}

// Names returns all model names, generator first, discriminators sorted.
func (ms *ModelSet) Names() []string {
	names := []string{GeneratorKey}
	discs := make([]string, 0, len(ms.Discriminators))
	for name := range ms.Discriminators {
		discs = append(discs, name)
	}
	sort.Strings(discs)
	return append(names, discs...)
}

func (ms *ModelSet) model(name string) (Model, bool) {
	if name == GeneratorKey {
		return ms.Generator, ms.Generator != nil
	}
	d, ok := ms.Discriminators[name]
	return d, ok
}

// TrainMode puts every model in training mode.
func (ms *ModelSet) TrainMode() {
	ms.Generator.Train()
	for _, d := range ms.Discriminators {
		d.Train()
	}
}

// EvalMode puts every model in evaluation mode.
func (ms *ModelSet) EvalMode() {
	ms.Generator.Eval()
	for _, d := range ms.Discriminators {
		d.Eval()
	}
}

// Snapshot produces a deep, detached copy of every model's parameters.
// Later training must not mutate the returned states.
func (ms *ModelSet) Snapshot() map[string]checkpoints.ModelState {
	states := make(map[string]checkpoints.ModelState, 1+len(ms.Discriminators))
	for _, name := range ms.Names() {
		m, _ := ms.model(name)
		states[name] = snapshotModel(m)
	}
	return states
}

// Restore loads the given parameter states into the live models.
func (ms *ModelSet) Restore(states map[string]checkpoints.ModelState) error {
	for name, state := range states {
		m, ok := ms.model(name)
		if !ok {
			return fmt.Errorf("checkpoint contains state for unknown model %q", name)
		}
		if err := restoreModel(m, state); err != nil {
			return fmt.Errorf("failed to restore model %q: %v", name, err)
		}
	}
	return nil
}

// NumParams returns the total trainable parameter count of a model.
func NumParams(m Model) int {
	n := 0
	for _, p := range m.Parameters() {
		if p.RequiresGrad() {
			n += p.Numel()
		}
	}
	return n
}

func snapshotModel(m Model) checkpoints.ModelState {
	params := m.Parameters()
	state := checkpoints.ModelState{Params: make([]checkpoints.WeightTensor, len(params))}
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		state.Params[i] = checkpoints.WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: append([]int{}, p.Shape...),
			Data:  data,
		}
	}
	return state
}

func restoreModel(m Model, state checkpoints.ModelState) error {
	params := m.Parameters()
	if len(params) != len(state.Params) {
		return fmt.Errorf("parameter count mismatch: model has %d, state has %d", len(params), len(state.Params))
	}
	for i, w := range state.Params {
		src, err := tensor.NewTensor(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("invalid weight tensor %s: %v", w.Name, err)
		}
		if err := params[i].CopyFrom(src); err != nil {
			return fmt.Errorf("failed to load weight %s: %v", w.Name, err)
		}
	}
	return nil
}
