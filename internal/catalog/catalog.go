package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when a requested environment profile is
// not present in the catalog.
var ErrProfileNotFound = errors.New("environment profile not found")

// Profile describes a selectable execution environment: the container image
// it runs and the resource ceilings applied to it.
type Profile struct {
	Name string `yaml:"name" json:"name"`
	// Image is the container image reference for this profile.
	Image string `yaml:"image" json:"image"`
	// CPULimit uses the Kubernetes-style notation, e.g. "500m" or "2".
	CPULimit string `yaml:"cpu_limit" json:"cpu_limit"`
	// MemoryLimit accepts human-readable sizes, e.g. "512m", "2g".
	MemoryLimit string `yaml:"memory_limit" json:"memory_limit"`
	// PidsLimit caps the number of processes inside the environment.
	PidsLimit int64 `yaml:"pids_limit" json:"pids_limit"`
	// BuildDir, when set, points at a directory with a Dockerfile used to
	// build Image on demand instead of pulling it.
	BuildDir string `yaml:"build_dir,omitempty" json:"build_dir,omitempty"`
}

// Catalog is the read-only registry of environment profiles. It is loaded
// once at startup and never mutated afterward.
type Catalog struct {
	profiles map[string]Profile
}

type catalogFile struct {
	Profiles []Profile `yaml:"profiles"`
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			Name:        "default",
			Image:       "ubuntu:24.04",
			CPULimit:    "1",
			MemoryLimit: "512m",
			PidsLimit:   128,
		},
		{
			Name:        "alpine",
			Image:       "alpine:latest",
			CPULimit:    "500m",
			MemoryLimit: "256m",
			PidsLimit:   64,
		},
	}
}

// Load reads the catalog from the given YAML file. An empty path yields the
// compiled-in default profiles.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(defaultProfiles())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("catalog %s defines no profiles", path)
	}
	return New(f.Profiles)
}

// New builds a catalog from the given profiles. Profile names must be
// unique and non-empty, and every profile needs an image reference.
func New(profiles []Profile) (*Catalog, error) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			return nil, errors.New("profile with empty name")
		}
		if p.Image == "" {
			return nil, fmt.Errorf("profile %q has no image", p.Name)
		}
		if _, dup := m[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		m[p.Name] = p
	}
	return &Catalog{profiles: m}, nil
}

// Get returns the named profile or ErrProfileNotFound.
func (c *Catalog) Get(name string) (Profile, error) {
	p, ok := c.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Has reports whether the named profile exists.
func (c *Catalog) Has(name string) bool {
	_, ok := c.profiles[name]
	return ok
}

// List returns all profiles sorted by name.
func (c *Catalog) List() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
