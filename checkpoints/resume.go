package checkpoints

import (
	"os"
)

// ResumeDecision says where, if anywhere, training state should be restored
// from before the epoch loop starts.
type ResumeDecision struct {
	// Path of the checkpoint to load; empty means fresh start.
	Path string
	// LoadBest restores only the best-known model states instead of the
	// latest full state. Optimizer state is not restored on a best load.
	LoadBest bool
	// KeepHistory replays the loaded metric history so training resumes at
	// epoch len(history).
	KeepHistory bool
}

// Fresh reports whether no checkpoint should be loaded.
func (d ResumeDecision) Fresh() bool {
	return d.Path == ""
}

// ResumeOptions are the externally supplied resumption knobs.
type ResumeOptions struct {
	// Restart ignores an existing canonical checkpoint.
	Restart bool
	// ContinueFrom is an externally specified checkpoint path, consulted
	// only when the canonical checkpoint is not used.
	ContinueFrom string
	// ContinueBest loads only best model states from ContinueFrom.
	ContinueBest bool
	// KeepHistory preserves the loaded history when continuing from an
	// external checkpoint. The canonical checkpoint always keeps history.
	KeepHistory bool
}

// ResolveResume applies the fixed resumption precedence: (1) the canonical
// checkpoint, unless a restart was explicitly requested; (2) an externally
// specified checkpoint; (3) fresh start. The choice is deterministic — when
// both sources exist, the canonical checkpoint wins.
func ResolveResume(canonicalPath string, opts ResumeOptions) ResumeDecision {
	if canonicalPath != "" && !opts.Restart {
		if _, err := os.Stat(canonicalPath); err == nil {
			return ResumeDecision{Path: canonicalPath, KeepHistory: true}
		}
	}
	if opts.ContinueFrom != "" {
		return ResumeDecision{
			Path:        opts.ContinueFrom,
			LoadBest:    opts.ContinueBest,
			KeepHistory: opts.KeepHistory,
		}
	}
	return ResumeDecision{}
}
