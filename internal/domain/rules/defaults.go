package rules

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Seeder is the slice of Repository needed to install the default catalog.
type Seeder interface {
	UpsertDefault(ctx context.Context, r *Rule) (bool, error)
}

// ParseDefaults decodes and validates a YAML rule catalog.
func ParseDefaults(data []byte) ([]*Rule, error) {
	var docs []ruleDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}

	seen := make(map[string]bool, len(docs))
	out := make([]*Rule, 0, len(docs))
	for i, d := range docs {
		r, err := d.toRule()
		if err != nil {
			return nil, fmt.Errorf("default rule %d (%s): %w", i, d.Name, err)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("default rule %d (%s): %w", i, d.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("default rule %q is declared twice", r.Name)
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

// LoadDefaults reads the catalog at path, or the embedded catalog when path
// is empty.
func LoadDefaults(path string) ([]*Rule, error) {
	if path == "" {
		return ParseDefaults(defaultsYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read default rules %s: %w", path, err)
	}
	return ParseDefaults(data)
}

// SeedDefaults installs defs through repo, skipping names that already exist.
// It is safe to call on every startup and returns the number of rules
// created.
func SeedDefaults(ctx context.Context, repo Seeder, defs []*Rule, logger zerolog.Logger) (int, error) {
	log := logger.With().Str("component", "rule-seeder").Logger()

	created := 0
	for _, def := range defs {
		r := *def
		ok, err := repo.UpsertDefault(ctx, &r)
		if err != nil {
			return created, fmt.Errorf("seed rule %q: %w", def.Name, err)
		}
		if ok {
			created++
			log.Info().Str("rule", r.Name).Str("rule_id", r.ID.String()).Msg("default rule created")
		}
	}

	log.Info().Int("created", created).Int("total", len(defs)).Msg("default rules seeded")
	return created, nil
}
