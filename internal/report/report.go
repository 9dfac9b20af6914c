package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrNoResults = errors.New("no results.yml files found")

// Metric is one scored metric extracted from an evaluation run, with values
// pre-formatted for table output.
type Metric struct {
	Task   string
	Metric string
	Value  string
	Stderr string
}

// resultsFile mirrors the evaluation harness output layout:
// results.tasks.<task>.metrics.<metric>.scores.<metric>.{value, stats.stderr}
type resultsFile struct {
	Results struct {
		Tasks map[string]struct {
			Metrics map[string]struct {
				Scores map[string]struct {
					Value *float64 `yaml:"value"`
					Stats struct {
						Stderr *float64 `yaml:"stderr"`
					} `yaml:"stats"`
				} `yaml:"scores"`
			} `yaml:"metrics"`
		} `yaml:"tasks"`
	} `yaml:"results"`
}

// LoadRunMetrics walks runDir for artifacts/results.yml files and extracts
// every scored metric, deduplicated by (task, metric, value). Unreadable or
// malformed files are skipped with a warning.
func LoadRunMetrics(runDir string, logger *zap.Logger) ([]Metric, error) {
	log := logger.Named("report").Sugar()

	var files []string
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "results.yml" && filepath.Base(filepath.Dir(path)) == "artifacts" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", runDir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoResults, runDir)
	}

	var metrics []Metric
	seen := make(map[[3]string]bool)
	for _, path := range files {
		bs, err := os.ReadFile(path)
		if err != nil {
			log.Warnw("could not read results file, skipping", "path", path, "error", err)
			continue
		}
		var rf resultsFile
		if err := yaml.Unmarshal(bs, &rf); err != nil {
			log.Warnw("could not parse results file, skipping", "path", path, "error", err)
			continue
		}
		for taskName, task := range rf.Results.Tasks {
			for metricName, metric := range task.Metrics {
				score, ok := metric.Scores[metricName]
				if !ok || score.Value == nil {
					continue
				}
				m := Metric{
					Task:   taskName,
					Metric: metricName,
					Value:  fmt.Sprintf("%.4f", *score.Value),
					Stderr: "N/A",
				}
				if stderr := score.Stats.Stderr; stderr != nil && *stderr != 0.0 {
					m.Stderr = fmt.Sprintf("%.4f", *stderr)
				}
				key := [3]string{m.Task, m.Metric, m.Value}
				if seen[key] {
					continue
				}
				seen[key] = true
				metrics = append(metrics, m)
			}
		}
	}
	return metrics, nil
}
