package parsers

import (
	"context"
	"sync"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/logger"
)

// DatasetFiles names the CSV files of one dataset. Empty paths are skipped.
type DatasetFiles struct {
	Targets    string `mapstructure:"targets"`
	Candidates string `mapstructure:"candidates"`
	Balances   string `mapstructure:"balances"`
}

// FileResult reports the outcome of loading one file.
type FileResult struct {
	FilePath string
	Stats    *ParseStats
	Err      error
}

// LoadDataset reads the dataset files concurrently and merges them. The
// first file error is returned; per-file results are returned either way.
func (l *Loader) LoadDataset(ctx context.Context, files DatasetFiles) (models.Dataset, []FileResult, error) {
	var (
		data    models.Dataset
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []FileResult
	)

	record := func(path string, stats *ParseStats, err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, FileResult{FilePath: path, Stats: stats, Err: err})
	}

	run := func(path string, load func() (*ParseStats, error)) {
		if path == "" {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := load()
			record(path, stats, err)
		}()
	}

	run(files.Targets, func() (*ParseStats, error) {
		targets, stats, err := l.LoadTargets(ctx, files.Targets)
		mu.Lock()
		data.Targets = targets
		mu.Unlock()
		return stats, err
	})
	run(files.Candidates, func() (*ParseStats, error) {
		candidates, stats, err := l.LoadCandidates(ctx, files.Candidates)
		mu.Lock()
		data.Candidates = candidates
		mu.Unlock()
		return stats, err
	})
	run(files.Balances, func() (*ParseStats, error) {
		balances, stats, err := l.LoadBalances(ctx, files.Balances)
		mu.Lock()
		if balances != nil {
			data.Groups = balances.Groups
			data.Lines = balances.Lines
			data.ThreeWay = balances.ThreeWay
		}
		mu.Unlock()
		return stats, err
	})
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			return data, results, r.Err
		}
	}

	l.logger.WithFields(logger.Fields{
		"targets":    len(data.Targets),
		"candidates": len(data.Candidates),
		"groups":     len(data.Groups),
		"lines":      len(data.Lines),
		"three_way":  len(data.ThreeWay),
	}).Info("Dataset loaded")
	return data, results, nil
}
