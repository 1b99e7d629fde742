// Package achievement evaluates catalog-defined milestones against a
// learner's game stats.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type is the unique key of an achievement.
type Type string

// Special achievements have no requirements and are granted by bespoke
// triggers at the call site.
const (
	TypeNightOwl  Type = "night_owl"
	TypeEarlyBird Type = "early_bird"
)

// Operator compares a stat against a target.
type Operator string

const (
	OpEq  Operator = "eq"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpLt  Operator = "lt"
)

// Compare applies the operator to current and target.
func (o Operator) Compare(current, target float64) bool {
	switch o {
	case OpEq:
		return current == target
	case OpGte:
		return current >= target
	case OpLte:
		return current <= target
	case OpGt:
		return current > target
	case OpLt:
		return current < target
	default:
		return false
	}
}

// IsValid reports whether o is a known operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpGte, OpLte, OpGt, OpLt:
		return true
	}
	return false
}

// Requirement is one declarative predicate over a stat field.
type Requirement struct {
	StatField StatField `yaml:"stat_field" json:"stat_field" validate:"required"`
	Operator  Operator  `yaml:"operator" json:"operator" validate:"required,oneof=eq gte lte gt lt"`
	Target    float64   `yaml:"target" json:"target"`
}

// Definition is a catalog entry.
type Definition struct {
	Type         Type          `yaml:"type" json:"type" validate:"required"`
	Title        string        `yaml:"title" json:"title" validate:"required"`
	Description  string        `yaml:"description" json:"description"`
	Points       int           `yaml:"points" json:"points" validate:"min=0"`
	Category     string        `yaml:"category" json:"category"`
	Rarity       string        `yaml:"rarity" json:"rarity" validate:"omitempty,oneof=common uncommon rare epic legendary"`
	Requirements []Requirement `yaml:"requirements" json:"requirements,omitempty" validate:"dive"`
	IsHidden     bool          `yaml:"hidden" json:"is_hidden"`
}

// IsSpecial reports whether the achievement is event-driven.
func (d Definition) IsSpecial() bool {
	return len(d.Requirements) == 0
}

// Primary returns the requirement the generic evaluator checks: the first one.
func (d Definition) Primary() (Requirement, bool) {
	if len(d.Requirements) == 0 {
		return Requirement{}, false
	}
	return d.Requirements[0], true
}

// ──────────────────────────────────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────────────────────────────────

// Catalog is the immutable, ordered set of achievement definitions.
type Catalog struct {
	defs   []Definition
	byType map[Type]int
}

// NewCatalog indexes defs and rejects duplicates, unknown stat fields and
// unknown operators.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:   append([]Definition(nil), defs...),
		byType: make(map[Type]int, len(defs)),
	}
	for i, d := range c.defs {
		if d.Type == "" {
			return nil, fmt.Errorf("achievement #%d has no type", i)
		}
		if _, dup := c.byType[d.Type]; dup {
			return nil, fmt.Errorf("duplicate achievement type %q", d.Type)
		}
		for _, r := range d.Requirements {
			if !r.StatField.IsValid() {
				return nil, fmt.Errorf("achievement %q: unknown stat field %q", d.Type, r.StatField)
			}
			if !r.Operator.IsValid() {
				return nil, fmt.Errorf("achievement %q: unknown operator %q", d.Type, r.Operator)
			}
		}
		c.byType[d.Type] = i
	}
	return c, nil
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Get looks up a definition by type.
func (c *Catalog) Get(t Type) (Definition, bool) {
	i, ok := c.byType[t]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// UserAchievement records that a learner earned an achievement. At most one
// row exists per (UserID, AchievementType).
type UserAchievement struct {
	UserID          shared.UserID `json:"user_id"`
	AchievementType Type          `json:"achievement_type"`
	EarnedAt        time.Time     `json:"earned_at"`
}

// Repository persists earned achievements.
type Repository interface {
	ListEarned(ctx context.Context, userID shared.UserID) ([]UserAchievement, error)

	// Grant inserts the row or returns shared.ErrAlreadyEarned if it exists.
	Grant(ctx context.Context, ua *UserAchievement) error

	// ListUnpaid returns earned achievements without a matching
	// achievement_earned ledger entry, oldest first.
	ListUnpaid(ctx context.Context, limit int) ([]UserAchievement, error)
}

// EarnedSet indexes a learner's earned achievements by type.
func EarnedSet(earned []UserAchievement) map[Type]struct{} {
	set := make(map[Type]struct{}, len(earned))
	for _, ua := range earned {
		set[ua.AchievementType] = struct{}{}
	}
	return set
}
