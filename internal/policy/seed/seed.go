// Package seed loads treatment definitions from the configuration file and
// keeps the policy store in sync with it. Definitions are re-read on a
// bounded interval so adding or deactivating a treatment takes effect
// without a restart.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"leadflow/internal/policy"
	"leadflow/pkg/domain"
)

// Definition is one treatment entry in the YAML file.
type Definition struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	PriorSuccess int64  `yaml:"prior_success"`
	PriorFailure int64  `yaml:"prior_failure"`
	Active       bool   `yaml:"active"`
}

type file struct {
	Treatments []Definition `yaml:"treatments"`
}

// Load parses and validates the treatments file. Missing priors default to
// Beta(1, 1), the uniform prior.
func Load(path string) ([]policy.Treatment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read treatments file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse treatments file: %w", err)
	}

	seen := make(map[string]bool, len(f.Treatments))
	treatments := make([]policy.Treatment, 0, len(f.Treatments))
	for _, def := range f.Treatments {
		id, err := domain.ParseTreatmentID(def.ID)
		if err != nil {
			return nil, fmt.Errorf("treatments file: %w", err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("treatments file: duplicate treatment id %q", def.ID)
		}
		seen[def.ID] = true

		if def.PriorSuccess < 0 || def.PriorFailure < 0 {
			return nil, fmt.Errorf("treatments file: treatment %q has negative priors", def.ID)
		}
		if def.PriorSuccess == 0 {
			def.PriorSuccess = 1
		}
		if def.PriorFailure == 0 {
			def.PriorFailure = 1
		}

		treatments = append(treatments, policy.Treatment{
			ID:           id,
			Label:        def.Label,
			Active:       def.Active,
			SuccessCount: def.PriorSuccess,
			FailureCount: def.PriorFailure,
		})
	}
	return treatments, nil
}

// Refresher applies the treatments file to the store at startup and then on
// every interval tick. A bad file read mid-flight logs and keeps the
// previous definitions; it never tears the worker down.
type Refresher struct {
	path     string
	interval time.Duration
	store    policy.Store
	logger   *slog.Logger
}

func NewRefresher(path string, interval time.Duration, store policy.Store, logger *slog.Logger) *Refresher {
	return &Refresher{path: path, interval: interval, store: store, logger: logger}
}

// Run applies the file once, then re-applies on the interval until ctx is
// done. The initial apply is fatal on error: starting with no treatment set
// would starve the whole pipeline.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.apply(ctx); err != nil {
		return fmt.Errorf("initial treatment seed: %w", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.apply(ctx); err != nil {
				r.logger.Error("treatment refresh failed, keeping previous definitions", "error", err)
			}
		}
	}
}

func (r *Refresher) apply(ctx context.Context) error {
	treatments, err := Load(r.path)
	if err != nil {
		return err
	}
	for _, t := range treatments {
		if err := r.store.Register(ctx, t); err != nil {
			return fmt.Errorf("register treatment %s: %w", t.ID, err)
		}
	}
	r.logger.Debug("treatment definitions applied", "count", len(treatments))
	return nil
}
