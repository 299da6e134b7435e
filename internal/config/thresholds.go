package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// thresholdsFile is the on-disk shape of a standalone thresholds override.
type thresholdsFile struct {
	HistoricAveragesThresholds map[string]float64 `yaml:"historic_averages_thresholds"`
}

// LoadThresholds reads a metric->confidence-threshold map from a YAML file.
// Thresholds must be probabilities in (0, 1).
func LoadThresholds(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f thresholdsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(f.HistoricAveragesThresholds) == 0 {
		return nil, fmt.Errorf("%s: historic_averages_thresholds is empty", path)
	}
	for metric, threshold := range f.HistoricAveragesThresholds {
		if threshold <= 0 || threshold >= 1 {
			return nil, fmt.Errorf("%s: threshold for %s must be within (0, 1), got %v", path, metric, threshold)
		}
	}
	return f.HistoricAveragesThresholds, nil
}
