package training

import (
	"encoding/json"
	"fmt"
	"os"
)

// PullMetric extracts one named metric from every epoch record that carries
// it, preserving epoch order. Epochs without the metric are skipped, so the
// result of an every-N evaluation cadence is still a dense series.
func PullMetric(history []map[string]float64, name string) []float64 {
	var out []float64
	for _, metrics := range history {
		if v, ok := metrics[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// WriteHistory overwrites the human-readable history file with the full
// metrics record. Called once per epoch; the file always reflects the whole
// run so far.
func WriteHistory(path string, history []map[string]float64) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %v", err)
	}
	return nil
}
