package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Has("default") {
		t.Error("expected built-in default profile")
	}
	p, err := c.Get("default")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if p.Image == "" {
		t.Error("default profile has no image")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `profiles:
  - name: dev
    image: ubuntu:24.04
    cpu_limit: 500m
    memory_limit: 1g
    pids_limit: 256
  - name: tiny
    image: alpine:latest
    cpu_limit: 250m
    memory_limit: 128m
    pids_limit: 32
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p, err := c.Get("dev")
	if err != nil {
		t.Fatalf("Get dev: %v", err)
	}
	if p.CPULimit != "500m" || p.MemoryLimit != "1g" || p.PidsLimit != 256 {
		t.Errorf("unexpected dev profile: %+v", p)
	}

	if list := c.List(); len(list) != 2 || list[0].Name != "dev" {
		t.Errorf("unexpected List result: %+v", list)
	}
}

func TestGet_NotFound(t *testing.T) {
	c, _ := Load("")
	_, err := c.Get("nope")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New([]Profile{{Name: "", Image: "x"}}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := New([]Profile{{Name: "a", Image: ""}}); err == nil {
		t.Error("expected error for missing image")
	}
	if _, err := New([]Profile{{Name: "a", Image: "x"}, {Name: "a", Image: "y"}}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte("profiles: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for catalog with no profiles")
	}
}
