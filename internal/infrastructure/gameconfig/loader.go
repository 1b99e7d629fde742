// Package gameconfig loads the static game rules from YAML. The embedded
// defaults are used unless a file path is configured.
package gameconfig

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/rules"
)

//go:embed defaults.yaml
var defaultRules []byte

type document struct {
	Points       points.Table             `yaml:"points"`
	Levels       []level.Definition       `yaml:"levels" validate:"required,min=1,dive"`
	Achievements []achievement.Definition `yaml:"achievements" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the embedded rules.
func Default() (rules.Rules, error) {
	return Parse(defaultRules)
}

// MustDefault is Default for tests and wiring that cannot fail.
func MustDefault() rules.Rules {
	r, err := Default()
	if err != nil {
		panic(fmt.Sprintf("gameconfig: embedded defaults are invalid: %v", err))
	}
	return r
}

// Load reads rules from path, or the embedded defaults when path is empty.
func Load(path string) (rules.Rules, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules.Rules{}, fmt.Errorf("read game rules %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a rules document.
func Parse(raw []byte) (rules.Rules, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return rules.Rules{}, fmt.Errorf("decode game rules: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return rules.Rules{}, fmt.Errorf("validate game rules: %w", err)
	}

	catalog, err := achievement.NewCatalog(doc.Achievements)
	if err != nil {
		return rules.Rules{}, fmt.Errorf("build achievement catalog: %w", err)
	}
	if doc.Points.Values == nil {
		doc.Points = points.DefaultTable()
	}
	return rules.New(doc.Points, level.Table(doc.Levels), catalog)
}
