package training

import (
	"testing"

	"github.com/wavelift/wavelift/tensor"
)

// fakeDataset serves a fixed sample slice.
type fakeDataset struct {
	samples []*Sample
}

func (d *fakeDataset) Len() int { return len(d.samples) }

func (d *fakeDataset) Get(i int) (*Sample, error) { return d.samples[i], nil }

func makeSample(t *testing.T, lr, hr []float32, name string) *Sample {
	t.Helper()
	lrT, err := tensor.NewTensor([]int{len(lr)}, lr)
	if err != nil {
		t.Fatalf("Failed to create lr tensor: %v", err)
	}
	hrT, err := tensor.NewTensor([]int{len(hr)}, hr)
	if err != nil {
		t.Fatalf("Failed to create hr tensor: %v", err)
	}
	return &Sample{LR: lrT, HR: hrT, LRPath: name + ".wav", HRPath: name + ".wav"}
}

// scaleGenerator predicts pr = lr * w elementwise. Training it with hr == lr
// drives w toward one.
type scaleGenerator struct {
	w        *tensor.Tensor
	training bool
}

func newScaleGenerator(t *testing.T, init []float32) *scaleGenerator {
	t.Helper()
	w, err := tensor.NewTensor([]int{len(init)}, init)
	if err != nil {
		t.Fatalf("Failed to create generator weight: %v", err)
	}
	w.SetRequiresGrad(true)
	return &scaleGenerator{w: w}
}

func (g *scaleGenerator) Parameters() []*tensor.Tensor { return []*tensor.Tensor{g.w} }
func (g *scaleGenerator) Train()                       { g.training = true }
func (g *scaleGenerator) Eval()                        { g.training = false }

func (g *scaleGenerator) Forward(lr *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MulAutograd(lr, g.w)
}

// driftGenerator predicts pr = lr + p and bumps p by one every time it is
// put in training mode, so the validation loss is controlled per epoch.
type driftGenerator struct {
	p *tensor.Tensor
}

func newDriftGenerator(t *testing.T) *driftGenerator {
	t.Helper()
	p, err := tensor.NewTensor([]int{1}, []float32{0})
	if err != nil {
		t.Fatalf("Failed to create drift parameter: %v", err)
	}
	p.SetRequiresGrad(true)
	return &driftGenerator{p: p}
}

func (g *driftGenerator) Parameters() []*tensor.Tensor { return []*tensor.Tensor{g.p} }
func (g *driftGenerator) Train()                       { g.p.Data[0]++ }
func (g *driftGenerator) Eval()                        {}

func (g *driftGenerator) Forward(lr *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.AddAutograd(lr, g.p)
}

// shadowGenerator predicts pr = lr + 0*p: the parameter sits in the graph
// but never moves the output, so the loss stays constant while the weights
// drift every epoch. Input shape must match the parameter shape [1].
type shadowGenerator struct {
	p *tensor.Tensor
}

func newShadowGenerator(t *testing.T) *shadowGenerator {
	t.Helper()
	p, err := tensor.NewTensor([]int{1}, []float32{0})
	if err != nil {
		t.Fatalf("Failed to create shadow parameter: %v", err)
	}
	p.SetRequiresGrad(true)
	return &shadowGenerator{p: p}
}

func (g *shadowGenerator) Parameters() []*tensor.Tensor { return []*tensor.Tensor{g.p} }
func (g *shadowGenerator) Train()                       { g.p.Data[0]++ }
func (g *shadowGenerator) Eval()                        {}

func (g *shadowGenerator) Forward(lr *tensor.Tensor) (*tensor.Tensor, error) {
	zero, err := tensor.ScaleAutograd(g.p, 0)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(lr, zero)
}

// constDiscriminator emits a single scale holding one constant logit,
// regardless of input.
type constDiscriminator struct {
	logit float32
}

func (d *constDiscriminator) Parameters() []*tensor.Tensor { return nil }
func (d *constDiscriminator) Train()                       {}
func (d *constDiscriminator) Eval()                        {}

func (d *constDiscriminator) Forward(x *tensor.Tensor) ([][]*tensor.Tensor, error) {
	logit, err := tensor.Full([]int{1}, d.logit)
	if err != nil {
		return nil, err
	}
	return [][]*tensor.Tensor{{logit}}, nil
}

// linearDiscriminator emits one scale with one feature map (x*p) and one
// logit (x*p*p), so gradients flow into both its input and its parameter.
type linearDiscriminator struct {
	p *tensor.Tensor
}

func newLinearDiscriminator(t *testing.T, init []float32) *linearDiscriminator {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(init)}, init)
	if err != nil {
		t.Fatalf("Failed to create discriminator weight: %v", err)
	}
	p.SetRequiresGrad(true)
	return &linearDiscriminator{p: p}
}

func (d *linearDiscriminator) Parameters() []*tensor.Tensor { return []*tensor.Tensor{d.p} }
func (d *linearDiscriminator) Train()                       {}
func (d *linearDiscriminator) Eval()                        {}

func (d *linearDiscriminator) Forward(x *tensor.Tensor) ([][]*tensor.Tensor, error) {
	feat, err := tensor.MulAutograd(x, d.p)
	if err != nil {
		return nil, err
	}
	logit, err := tensor.MulAutograd(feat, d.p)
	if err != nil {
		return nil, err
	}
	return [][]*tensor.Tensor{{feat, logit}}, nil
}

// fakeEvaluator returns fixed quality metrics and records how it was called.
type fakeEvaluator struct {
	lsd    float64
	visqol float64

	savedCalls   [][]string
	enhanceCalls int
	jointCalls   int
	// observed records the first generator parameter value at each joint
	// evaluation, to verify which weights were live during evaluation.
	observed []float32
}

func (e *fakeEvaluator) EvaluateSaved(epoch int, filenames []string) (float64, float64, error) {
	e.savedCalls = append(e.savedCalls, filenames)
	return e.lsd, e.visqol, nil
}

func (e *fakeEvaluator) EvaluateAndEnhance(epoch int, loader *DataLoader, gen Generator) (float64, float64, []string, error) {
	e.jointCalls++
	if params := gen.Parameters(); len(params) > 0 {
		e.observed = append(e.observed, params[0].Data[0])
	}
	return e.lsd, e.visqol, []string{"joint"}, nil
}

func (e *fakeEvaluator) Enhance(loader *DataLoader, gen Generator) ([]string, error) {
	e.enhanceCalls++
	var names []string
	for {
		sample, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if sample == nil {
			return names, nil
		}
		names = append(names, baseName(sample.LRPath))
	}
}

// fakeEnhancer records the filenames of saved outputs, waveforms and
// spectrograms separately.
type fakeEnhancer struct {
	wavs  []string
	specs []string
}

func (e *fakeEnhancer) SaveWavs(pr, lr, hr *tensor.Tensor, filename string) error {
	e.wavs = append(e.wavs, filename)
	return nil
}

func (e *fakeEnhancer) SaveSpecs(lrSpec, prSpec, hrSpec *tensor.Tensor, filename string) error {
	e.specs = append(e.specs, filename)
	return nil
}

// fakeSink records every epoch's metrics.
type fakeSink struct {
	logged []map[string]float64
}

func (s *fakeSink) Log(epoch int, metrics map[string]float64) error {
	copied := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}
	s.logged = append(s.logged, copied)
	return nil
}

// identityTransform passes the signal through unchanged; stands in for a
// spectral or mel transform where the exact values do not matter.
type identityTransform struct{}

func (identityTransform) Transform(x *tensor.Tensor) (*tensor.Tensor, error) { return x, nil }

func timeReprs(t *testing.T, hr, pr []float32) (target, predicted Representations) {
	t.Helper()
	hrT, err := tensor.NewTensor([]int{len(hr)}, hr)
	if err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}
	prT, err := tensor.NewTensor([]int{len(pr)}, pr)
	if err != nil {
		t.Fatalf("Failed to create prediction: %v", err)
	}
	return Representations{ReprTime: hrT}, Representations{ReprTime: prT}
}
