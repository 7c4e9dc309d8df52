package store

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"liveattend/internal/attendance"
	"liveattend/internal/model"
)

// Seed is the roster fixture loaded into the memory backend.
type Seed struct {
	Classes []SeedClass `yaml:"classes"`
}

// SeedClass is a class with its enrolled students.
type SeedClass struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	InstructorID string        `yaml:"instructor_id"`
	Students     []SeedStudent `yaml:"students"`
}

// SeedStudent is one roster entry.
type SeedStudent struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// ParseSeed decodes a YAML roster fixture.
func ParseSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("store: decode seed: %w", err)
	}
	for i, c := range seed.Classes {
		if c.Name == "" || c.InstructorID == "" {
			return Seed{}, fmt.Errorf("store: seed class %d: name and instructor_id are required", i)
		}
		for j, st := range c.Students {
			if st.Name == "" {
				return Seed{}, fmt.Errorf("store: seed class %q student %d: name is required", c.Name, j)
			}
		}
	}
	return seed, nil
}

// LoadSeedFile reads a roster fixture from disk.
func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("store: open seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// Apply writes the fixture into m and returns the number of classes and
// students added.
func (s Seed) Apply(m *attendance.MemoryStore) (classes, students int) {
	for _, c := range s.Classes {
		class := m.AddClass(model.Class{ID: c.ID, Name: c.Name, InstructorID: c.InstructorID})
		classes++
		for _, st := range c.Students {
			m.AddStudent(model.Student{ID: st.ID, ClassID: class.ID, Name: st.Name, Email: st.Email})
			students++
		}
	}
	return classes, students
}
