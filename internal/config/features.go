package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
)

// featuresFile is the YAML layout of FEATURES_FILE. Every section is optional
// and replaces the corresponding default, except aliases, which are merged.
type featuresFile struct {
	Timezone        string              `yaml:"timezone"`
	Completeness    string              `yaml:"completeness"`
	MaxHistoryHours int                 `yaml:"max_history_hours"`
	Aliases         map[string]string   `yaml:"aliases"`
	Lags            []domain.LagSpec    `yaml:"lags"`
	FeatureSets     []domain.FeatureSet `yaml:"feature_sets"`
}

// LoadFeatures returns the default pipeline configuration with the overrides
// from the YAML file at path applied. An empty path yields the defaults.
func LoadFeatures(path string) (domain.PipelineConfig, error) {
	cfg, err := domain.DefaultPipelineConfig()
	if err != nil {
		return domain.PipelineConfig{}, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("read FEATURES_FILE: %w", err)
	}

	var f featuresFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return domain.PipelineConfig{}, fmt.Errorf("parse FEATURES_FILE %s: %w", path, err)
	}

	if err := f.apply(&cfg); err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("FEATURES_FILE %s: %w", path, err)
	}
	return cfg, nil
}

func (f featuresFile) apply(cfg *domain.PipelineConfig) error {
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		cfg.Location = loc
	}

	if f.Completeness != "" {
		c, err := parseCompleteness(f.Completeness)
		if err != nil {
			return err
		}
		cfg.Completeness = c
	}

	for header, name := range f.Aliases {
		if name == "" {
			return fmt.Errorf("alias %q maps to an empty column name", header)
		}
		cfg.Aliases[header] = name
	}

	if f.Lags != nil {
		for _, l := range f.Lags {
			if l.Column == "" {
				return errors.New("lag without column")
			}
			for _, h := range l.Hours {
				if h <= 0 {
					return fmt.Errorf("lag %s: hours must be positive, got %d", l.Column, h)
				}
			}
		}
		cfg.Lags = f.Lags
	}

	if f.FeatureSets != nil {
		seen := make(map[string]bool, len(f.FeatureSets))
		for _, s := range f.FeatureSets {
			if s.Name == "" {
				return errors.New("feature set without name")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate feature set %q", s.Name)
			}
			seen[s.Name] = true
			if len(s.Features) == 0 {
				return fmt.Errorf("feature set %q declares no features", s.Name)
			}
		}
		cfg.FeatureSets = f.FeatureSets
	}

	if f.MaxHistoryHours != 0 {
		cfg.MaxHistory = time.Duration(f.MaxHistoryHours) * time.Hour
	}
	// The grid must hold the longest lag plus the current hour.
	if need := maxLag(cfg.Lags) + 1; cfg.MaxHistory < time.Duration(need)*time.Hour {
		return fmt.Errorf("max_history_hours: need at least %d for the configured lags", need)
	}
	return nil
}

func maxLag(lags []domain.LagSpec) int {
	longest := 0
	for _, l := range lags {
		for _, h := range l.Hours {
			longest = max(longest, h)
		}
	}
	return longest
}

func parseCompleteness(v string) (domain.Completeness, error) {
	switch c := domain.Completeness(v); c {
	case domain.CompletenessPerFeatureSet, domain.CompletenessAllColumns:
		return c, nil
	default:
		return "", fmt.Errorf("unknown completeness policy %q: want %s or %s", v,
			domain.CompletenessPerFeatureSet, domain.CompletenessAllColumns)
	}
}
