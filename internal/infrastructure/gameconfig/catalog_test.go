package gameconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
)

func TestLoadCourses_Sample(t *testing.T) {
	courses, err := LoadCourses("")
	require.NoError(t, err)
	require.Len(t, courses, 2)

	lessons := courses[0].DomainLessons()
	require.Len(t, lessons, 4)
	assert.Equal(t, progress.Lesson{ID: "go-basics-intro", CourseID: "go-basics", Kind: progress.KindVideo, Position: 1}, lessons[0])
	assert.Equal(t, 4, lessons[3].Position)
}

func TestLoadCourses_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
courses:
  - id: c1
    title: One
    lessons:
      - { id: a, kind: quiz, position: 5 }
`), 0o600))

	courses, err := LoadCourses(path)
	require.NoError(t, err)
	assert.Equal(t, 5, courses[0].DomainLessons()[0].Position)

	_, err = LoadCourses(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read catalog")
}

func TestParseCourses_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind": `
courses:
  - { id: c1, title: T, lessons: [{ id: a, kind: podcast }] }`,
		"shared lesson": `
courses:
  - { id: c1, title: T, lessons: [{ id: a, kind: quiz }] }
  - { id: c2, title: U, lessons: [{ id: a, kind: quiz }] }`,
		"duplicate course": `
courses:
  - { id: c1, title: T, lessons: [{ id: a, kind: quiz }] }
  - { id: c1, title: U, lessons: [{ id: b, kind: quiz }] }`,
		"no lessons": `
courses:
  - { id: c1, title: T, lessons: [] }`,
		"malformed": `courses: [`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCourses([]byte(raw))
			assert.Error(t, err)
		})
	}
}
