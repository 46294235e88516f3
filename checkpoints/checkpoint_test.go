package checkpoints

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		Models: map[string]ModelState{
			"generator": {Params: []WeightTensor{
				{Name: "w0", Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
				{Name: "b0", Shape: []int{2}, Data: []float32{0.5, -0.5}},
			}},
			"msd": {Params: []WeightTensor{
				{Name: "w0", Shape: []int{3}, Data: []float32{-1, 0, 1}},
			}},
		},
		Optimizers: map[string]*OptimizerState{
			"generator_optimizer": {
				Type:       "Adam",
				Parameters: map[string]interface{}{"learning_rate": 0.001},
				StepCount:  42,
				StateData: []OptimizerTensor{
					{Name: "m_0", Shape: []int{2, 2}, Data: []float32{0.1, 0.2, 0.3, 0.4}, StateType: "m"},
					{Name: "v_0", Shape: []int{2, 2}, Data: []float32{0.01, 0.02, 0.03, 0.04}, StateType: "v"},
				},
			},
		},
		History: []map[string]float64{
			{"total_loss": 1.5, "valid_evaluation_loss": 1.2},
			{"total_loss": 1.1, "valid_evaluation_loss": 0.9},
		},
		BestStates: map[string]ModelState{
			"generator": {Params: []WeightTensor{
				{Name: "w0", Shape: []int{2, 2}, Data: []float32{9, 9, 9, 9}},
				{Name: "b0", Shape: []int{2}, Data: []float32{9, 9}},
			}},
			"msd": {Params: []WeightTensor{
				{Name: "w0", Shape: []int{3}, Data: []float32{9, 9, 9}},
			}},
		},
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewSaver(filepath.Join(dir, "checkpoint.json"), filepath.Join(dir, "best.json"), nil)
	if err != nil {
		t.Fatalf("NewSaver failed: %v", err)
	}

	original := testCheckpoint()
	if err := saver.Persist(original); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	loaded, err := saver.Load(saver.CheckpointPath())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(loaded.Models, original.Models) {
		t.Errorf("Model states differ after round trip")
	}
	if !reflect.DeepEqual(loaded.History, original.History) {
		t.Errorf("History differs after round trip")
	}
	if !reflect.DeepEqual(loaded.BestStates, original.BestStates) {
		t.Errorf("Best states differ after round trip")
	}

	opt := loaded.Optimizers["generator_optimizer"]
	if opt.StepCount != 42 {
		t.Errorf("Expected step count 42, got %d", opt.StepCount)
	}
	if !reflect.DeepEqual(opt.StateData, original.Optimizers["generator_optimizer"].StateData) {
		t.Errorf("Optimizer state tensors differ after round trip")
	}

	if loaded.Epoch() != 2 {
		t.Errorf("Expected resume epoch 2, got %d", loaded.Epoch())
	}
	if loaded.Metadata.RunID == "" {
		t.Error("Expected run ID to be assigned on persist")
	}
}

func TestBestArtifacts(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewSaver(filepath.Join(dir, "checkpoint.json"), filepath.Join(dir, "best.json"), nil)
	if err != nil {
		t.Fatalf("NewSaver failed: %v", err)
	}

	ck := testCheckpoint()
	if err := saver.Persist(ck); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	for _, name := range []string{"generator", "msd"} {
		artifact, err := saver.LoadBestModel(name)
		if err != nil {
			t.Fatalf("LoadBestModel(%s) failed: %v", name, err)
		}
		if artifact.Model != name {
			t.Errorf("Expected model name %s, got %s", name, artifact.Model)
		}
		if !reflect.DeepEqual(artifact.State, ck.BestStates[name]) {
			t.Errorf("Best artifact for %s differs from checkpointed best state", name)
		}
	}

	// The artifacts must be loadable without the full checkpoint.
	if err := os.Remove(saver.CheckpointPath()); err != nil {
		t.Fatalf("Failed to remove checkpoint: %v", err)
	}
	if _, err := saver.LoadBestModel("generator"); err != nil {
		t.Errorf("Best artifact should load independently of the checkpoint: %v", err)
	}
}

func TestPersistAtomicity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	saver, err := NewSaver(path, filepath.Join(dir, "best.json"), nil)
	if err != nil {
		t.Fatalf("NewSaver failed: %v", err)
	}

	ck := testCheckpoint()
	if err := saver.Persist(ck); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	// Simulate a crash between temp-write and rename: a half-written temp
	// file is left behind but the canonical file was never touched.
	if err := os.WriteFile(path+".tmp", []byte(`{"models": {"gen`), 0o644); err != nil {
		t.Fatalf("Failed to write stale temp file: %v", err)
	}

	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Canonical checkpoint should remain loadable: %v", err)
	}
	if !reflect.DeepEqual(loaded.Models, ck.Models) {
		t.Errorf("Canonical checkpoint content corrupted by interrupted write")
	}

	// Retrying the persist after the simulated crash succeeds and replaces
	// the stale temp file.
	ck.History = append(ck.History, map[string]float64{"total_loss": 0.8})
	if err := saver.Persist(ck); err != nil {
		t.Fatalf("Persist retry failed: %v", err)
	}
	loaded, err = saver.Load(path)
	if err != nil {
		t.Fatalf("Load after retry failed: %v", err)
	}
	if loaded.Epoch() != 3 {
		t.Errorf("Expected epoch 3 after retried persist, got %d", loaded.Epoch())
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := os.WriteFile(path, []byte("not a checkpoint"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	saver, _ := NewSaver(path, "", nil)
	if _, err := saver.Load(path); err == nil {
		t.Error("Expected error when loading corrupt checkpoint")
	}
	if _, err := saver.Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error when loading missing checkpoint")
	}
}

func TestResolveResume(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "checkpoint.json")
	external := filepath.Join(dir, "external.json")
	if err := os.WriteFile(canonical, []byte("{}"), 0o644); err != nil {
		t.Fatalf("Failed to create canonical checkpoint: %v", err)
	}

	t.Run("Canonical checkpoint wins", func(t *testing.T) {
		d := ResolveResume(canonical, ResumeOptions{ContinueFrom: external, ContinueBest: true})
		if d.Path != canonical {
			t.Errorf("Expected canonical path, got %q", d.Path)
		}
		if d.LoadBest || !d.KeepHistory {
			t.Errorf("Canonical resume must keep history and load full state, got %+v", d)
		}
	})

	t.Run("Restart skips canonical", func(t *testing.T) {
		d := ResolveResume(canonical, ResumeOptions{Restart: true, ContinueFrom: external, ContinueBest: true, KeepHistory: false})
		if d.Path != external {
			t.Errorf("Expected external path, got %q", d.Path)
		}
		if !d.LoadBest {
			t.Error("ContinueBest should carry through to the decision")
		}
		if d.KeepHistory {
			t.Error("KeepHistory=false should discard history")
		}
	})

	t.Run("Missing canonical falls back to external", func(t *testing.T) {
		d := ResolveResume(filepath.Join(dir, "nope.json"), ResumeOptions{ContinueFrom: external, KeepHistory: true})
		if d.Path != external {
			t.Errorf("Expected external path, got %q", d.Path)
		}
	})

	t.Run("Fresh start", func(t *testing.T) {
		d := ResolveResume(filepath.Join(dir, "nope.json"), ResumeOptions{})
		if !d.Fresh() {
			t.Errorf("Expected fresh start, got %+v", d)
		}
	})
}
