// Command train runs the bandwidth-extension training loop on a synthetic
// sine dataset. It exists to exercise the full orchestration stack — config,
// logging, checkpointing, resumption — without real audio I/O; experiments
// with real models embed the solver directly.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wavelift/wavelift/logger"
	"github.com/wavelift/wavelift/optimizer"
	"github.com/wavelift/wavelift/tensor"
	"github.com/wavelift/wavelift/training"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetConfigName("train")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("wavelift")
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("run_name", "smoke")
	v.SetDefault("epochs", 5)
	v.SetDefault("losses", []string{"l1"})
	v.SetDefault("cross_valid", true)
	v.SetDefault("cross_valid_every", 1)
	v.SetDefault("eval_every", 1)
	v.SetDefault("num_prints", 5)
	v.SetDefault("learning_rate", 0.01)
	v.SetDefault("samples", 16)
	v.SetDefault("segment_length", 64)
	v.SetDefault("checkpoint", true)
	v.SetDefault("work_dir", "./runs")

	// A missing config file is fine: defaults plus environment cover the
	// smoke run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %v", err)
		}
	}

	log, err := logger.New(logger.Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		RunName:     v.GetString("run_name"),
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	workDir := filepath.Join(v.GetString("work_dir"), v.GetString("run_name"))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %v", err)
	}

	var losses []training.LossKind
	for _, name := range v.GetStringSlice("losses") {
		losses = append(losses, training.LossKind(name))
	}
	cfg := &training.Config{
		Losses:          losses,
		Epochs:          v.GetInt("epochs"),
		CrossValid:      v.GetBool("cross_valid"),
		CrossValidEvery: v.GetInt("cross_valid_every"),
		EvalEvery:       v.GetInt("eval_every"),
		NumPrints:       v.GetInt("num_prints"),
		Checkpoint:      v.GetBool("checkpoint"),
		CheckpointFile:  filepath.Join(workDir, "checkpoint.json"),
		BestFile:        filepath.Join(workDir, "best.json"),
		HistoryFile:     filepath.Join(workDir, "history.json"),
		SamplesDir:      filepath.Join(workDir, "samples"),
		Restart:         v.GetBool("restart"),
		ContinueFrom:    v.GetString("continue_from"),
		ContinueBest:    v.GetBool("continue_best"),
		KeepHistory:     v.GetBool("keep_history"),
	}

	segment := v.GetInt("segment_length")
	dataset, err := newSineDataset(v.GetInt("samples"), segment)
	if err != nil {
		return fmt.Errorf("failed to build dataset: %v", err)
	}

	gen, err := newFilterGenerator(segment)
	if err != nil {
		return err
	}
	models := &training.ModelSet{Generator: gen}

	opt, err := optimizer.NewAdam(optimizer.AdamConfig{
		LearningRate: float32(v.GetFloat64("learning_rate")),
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}, gen.Parameters())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.SamplesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create samples dir: %v", err)
	}
	collab := training.Collaborators{
		Evaluator: &dumpEvaluator{dir: cfg.SamplesDir},
		Enhancer:  &dumpEnhancer{dir: cfg.SamplesDir},
		Metrics:   &logSink{log: log},
	}
	loaders := training.Loaders{
		Train: training.NewDataLoader(dataset, true),
		Valid: training.NewDataLoader(dataset, false),
		Test:  training.NewDataLoader(dataset, false),
	}

	solver, err := training.NewSolver(cfg, models, &training.OptimizerSet{Generator: opt}, collab, loaders, log)
	if err != nil {
		return err
	}
	return solver.Train()
}

// sineDataset pairs band-limited inputs with their full-band targets: the
// low-resolution side carries only the fundamental, the high-resolution side
// adds a harmonic.
type sineDataset struct {
	samples []*training.Sample
}

func newSineDataset(n, segment int) (*sineDataset, error) {
	d := &sineDataset{}
	for i := 0; i < n; i++ {
		freq := 0.01 * float64(i+1)
		lr := make([]float32, segment)
		hr := make([]float32, segment)
		for t := 0; t < segment; t++ {
			base := math.Sin(2 * math.Pi * freq * float64(t))
			harmonic := 0.5 * math.Sin(4*math.Pi*freq*float64(t))
			lr[t] = float32(base)
			hr[t] = float32(base + harmonic)
		}
		lrT, err := tensor.NewTensor([]int{segment}, lr)
		if err != nil {
			return nil, err
		}
		hrT, err := tensor.NewTensor([]int{segment}, hr)
		if err != nil {
			return nil, err
		}
		d.samples = append(d.samples, &training.Sample{
			LR:     lrT,
			HR:     hrT,
			LRPath: fmt.Sprintf("sine_%03d_lr.wav", i),
			HRPath: fmt.Sprintf("sine_%03d_hr.wav", i),
		})
	}
	return d, nil
}

func (d *sineDataset) Len() int { return len(d.samples) }

func (d *sineDataset) Get(i int) (*training.Sample, error) { return d.samples[i], nil }

// filterGenerator learns a per-tap scale over the segment.
type filterGenerator struct {
	w *tensor.Tensor
}

func newFilterGenerator(segment int) (*filterGenerator, error) {
	w, err := tensor.Ones([]int{segment})
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	return &filterGenerator{w: w}, nil
}

func (g *filterGenerator) Parameters() []*tensor.Tensor { return []*tensor.Tensor{g.w} }
func (g *filterGenerator) Train()                       {}
func (g *filterGenerator) Eval()                        {}

func (g *filterGenerator) Forward(lr *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MulAutograd(lr, g.w)
}

// dumpEnhancer writes enhanced segments as JSON next to the run.
type dumpEnhancer struct {
	dir string
}

func (e *dumpEnhancer) SaveWavs(pr, lr, hr *tensor.Tensor, filename string) error {
	payload, err := json.Marshal(map[string][]float32{"pr": pr.Data, "lr": lr.Data, "hr": hr.Data})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.dir, filename+".json"), payload, 0o644)
}

func (e *dumpEnhancer) SaveSpecs(lrSpec, prSpec, hrSpec *tensor.Tensor, filename string) error {
	return nil
}

// dumpEvaluator scores enhanced segments with a plain RMSE stand-in for the
// spectral distance.
type dumpEvaluator struct {
	dir string
}

func (e *dumpEvaluator) EvaluateSaved(epoch int, filenames []string) (float64, float64, error) {
	var total float64
	count := 0
	for _, name := range filenames {
		data, err := os.ReadFile(filepath.Join(e.dir, name+".json"))
		if err != nil {
			return 0, 0, err
		}
		var payload map[string][]float32
		if err := json.Unmarshal(data, &payload); err != nil {
			return 0, 0, err
		}
		total += rmse(payload["pr"], payload["hr"])
		count++
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("no enhanced outputs to evaluate")
	}
	return total / float64(count), 0, nil
}

func (e *dumpEvaluator) EvaluateAndEnhance(epoch int, loader *training.DataLoader, gen training.Generator) (float64, float64, []string, error) {
	var total float64
	var names []string
	loader.Reset()
	for {
		sample, err := loader.Next()
		if err != nil {
			return 0, 0, nil, err
		}
		if sample == nil {
			break
		}
		pr, err := gen.Forward(sample.LR)
		if err != nil {
			return 0, 0, nil, err
		}
		total += rmse(pr.Data, sample.HR.Data)
		names = append(names, sample.LRPath)
	}
	if len(names) == 0 {
		return 0, 0, nil, fmt.Errorf("empty test set")
	}
	return total / float64(len(names)), 0, names, nil
}

func (e *dumpEvaluator) Enhance(loader *training.DataLoader, gen training.Generator) ([]string, error) {
	enhancer := &dumpEnhancer{dir: e.dir}
	var names []string
	for {
		sample, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if sample == nil {
			return names, nil
		}
		pr, err := gen.Forward(sample.LR)
		if err != nil {
			return nil, err
		}
		name := sample.LRPath
		if err := enhancer.SaveWavs(pr.Detach(), sample.LR, sample.HR, name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
}

func rmse(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// logSink forwards epoch metrics to the structured log.
type logSink struct {
	log *zap.Logger
}

func (s *logSink) Log(epoch int, metrics map[string]float64) error {
	fields := []zap.Field{zap.Int("epoch", epoch + 1)}
	for k, v := range metrics {
		fields = append(fields, zap.Float64(k, v))
	}
	s.log.Info("epoch metrics", fields...)
	return nil
}
