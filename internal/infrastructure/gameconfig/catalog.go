package gameconfig

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
)

//go:embed sample_catalog.yaml
var sampleCatalog []byte

// Course is one catalog entry with its ordered lessons.
type Course struct {
	ID      string          `yaml:"id" validate:"required,max=128"`
	Title   string          `yaml:"title" validate:"required"`
	Lessons []CatalogLesson `yaml:"lessons" validate:"required,min=1,dive"`
}

// CatalogLesson is a lesson as written in the catalog file. Position
// defaults to the list order.
type CatalogLesson struct {
	ID       string        `yaml:"id" validate:"required,max=128"`
	Kind     progress.Kind `yaml:"kind" validate:"required"`
	Position int           `yaml:"position" validate:"min=0"`
}

type catalogDocument struct {
	Courses []Course `yaml:"courses" validate:"dive"`
}

// LoadCourses reads a catalog file, or the embedded sample when path is
// empty.
func LoadCourses(path string) ([]Course, error) {
	raw := sampleCatalog
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
	}
	return ParseCourses(raw)
}

// ParseCourses decodes and validates a catalog. Lesson ids must be unique
// across all courses.
func ParseCourses(raw []byte) ([]Course, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	seenCourses := make(map[string]struct{}, len(doc.Courses))
	seenLessons := make(map[string]string)
	for _, c := range doc.Courses {
		if _, dup := seenCourses[c.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate course %q", c.ID)
		}
		seenCourses[c.ID] = struct{}{}
		for _, l := range c.Lessons {
			if !l.Kind.IsValid() {
				return nil, fmt.Errorf("catalog: lesson %q has unknown kind %q", l.ID, l.Kind)
			}
			if other, dup := seenLessons[l.ID]; dup {
				return nil, fmt.Errorf("catalog: lesson %q appears in %q and %q", l.ID, other, c.ID)
			}
			seenLessons[l.ID] = c.ID
		}
	}
	return doc.Courses, nil
}

// DomainLessons converts the catalog entry to domain lessons.
func (c Course) DomainLessons() []progress.Lesson {
	out := make([]progress.Lesson, len(c.Lessons))
	for i, l := range c.Lessons {
		pos := l.Position
		if pos == 0 {
			pos = i + 1
		}
		out[i] = progress.Lesson{ID: l.ID, CourseID: c.ID, Kind: l.Kind, Position: pos}
	}
	return out
}
