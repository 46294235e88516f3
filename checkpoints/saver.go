package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	framework     = "wavelift"
	formatVersion = "1.0.0"

	// persistRetries bounds retry of transient I/O failures during persist.
	// Retrying is safe: nothing touches the canonical path until the final
	// rename.
	persistRetries = 3
)

// Saver persists checkpoints with all-or-nothing semantics: the full package
// is written to a temporary file and moved into place with a single rename,
// so the canonical path never holds a partially written checkpoint. Each
// best-known model state is additionally written to its own artifact next to
// bestFile, with the same temp-then-rename discipline.
type Saver struct {
	checkpointFile string
	bestFile       string
	log            *zap.Logger
}

// NewSaver creates a Saver writing the full checkpoint to checkpointFile and
// per-model best artifacts derived from bestFile's directory and name.
func NewSaver(checkpointFile, bestFile string, log *zap.Logger) (*Saver, error) {
	if checkpointFile == "" {
		return nil, fmt.Errorf("checkpoint file path cannot be empty")
	}
	if bestFile == "" {
		bestFile = filepath.Join(filepath.Dir(checkpointFile), "best.json")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Saver{
		checkpointFile: checkpointFile,
		bestFile:       bestFile,
		log:            log,
	}, nil
}

// CheckpointPath returns the canonical checkpoint path.
func (s *Saver) CheckpointPath() string {
	return s.checkpointFile
}

// BestModelPath returns the best-artifact path for one model name.
func (s *Saver) BestModelPath(modelName string) string {
	dir := filepath.Dir(s.bestFile)
	return filepath.Join(dir, modelName+"_"+filepath.Base(s.bestFile))
}

// Persist writes the checkpoint atomically, then derives one best artifact per
// model from its best state. Transient write failures are retried with
// exponential backoff before being surfaced.
func (s *Saver) Persist(ck *Checkpoint) error {
	if ck.Metadata.Framework == "" {
		ck.Metadata.Framework = framework
		ck.Metadata.Version = formatVersion
	}
	if ck.Metadata.RunID == "" {
		ck.Metadata.RunID = uuid.NewString()
	}
	ck.Metadata.CreatedAt = time.Now()

	payload, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	write := func() error {
		return writeAtomic(s.checkpointFile, payload)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistRetries)
	if err := backoff.Retry(write, policy); err != nil {
		return fmt.Errorf("failed to persist checkpoint to %s: %v", s.checkpointFile, err)
	}
	s.log.Debug("checkpoint saved", zap.String("path", s.checkpointFile))

	// Save only the latest best state of each model, independently loadable.
	for modelName, bestState := range ck.BestStates {
		artifact := BestArtifact{
			Model:    modelName,
			State:    bestState,
			Metadata: ck.Metadata,
		}
		data, err := json.Marshal(&artifact)
		if err != nil {
			return fmt.Errorf("failed to encode best artifact for %s: %v", modelName, err)
		}
		path := s.BestModelPath(modelName)
		write := func() error {
			return writeAtomic(path, data)
		}
		if err := backoff.Retry(write, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistRetries)); err != nil {
			return fmt.Errorf("failed to persist best artifact for %s: %v", modelName, err)
		}
		s.log.Debug("best model saved", zap.String("model", modelName), zap.String("path", path))
	}

	return nil
}

// BestArtifact is the per-model best snapshot written next to the full
// checkpoint so the best generator or a best discriminator can be loaded
// without the rest of the training state.
type BestArtifact struct {
	Model    string             `json:"model"`
	State    ModelState         `json:"state"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// Load reads a full checkpoint. Any decode failure is surfaced to the caller;
// no partial state is accepted.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %v", path, err)
	}
	return &ck, nil
}

// LoadBestModel reads the standalone best artifact for one model name.
func (s *Saver) LoadBestModel(modelName string) (*BestArtifact, error) {
	path := s.BestModelPath(modelName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read best artifact: %v", err)
	}

	var artifact BestArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode best artifact %s: %v", path, err)
	}
	return &artifact, nil
}

// writeAtomic writes data to a sibling temp file and renames it into place.
// Renaming is atomic on POSIX filesystems, so a crash mid-write leaves the
// destination either absent or fully intact, never half-written.
func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file into place: %v", err)
	}
	return nil
}
