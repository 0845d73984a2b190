package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string   `yaml:"name" toml:"name"`
	Port  int      `yaml:"port" toml:"port"`
	Paths []string `yaml:"paths" toml:"paths"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeFile(t, "c.yaml", "name: ${SAMPLE_NAME}\nport: 9000\npaths: [a, b]\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-env" || s.Port != 9000 || len(s.Paths) != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "c.toml", "name = \"t\"\nport = 7000\npaths = [\"x\"]\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "t" || s.Port != 7000 || s.Paths[0] != "x" {
		t.Errorf("got %+v", s)
	}
}

func TestLoadValidationFails(t *testing.T) {
	p := writeFile(t, "c.yml", "name: x\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	def := writeFile(t, "default.yaml", "port: 1\n")
	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if s.Port != 1 {
		t.Errorf("port = %d", s.Port)
	}

	s = sample{Port: 5}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), "", &s); err != nil {
		t.Fatalf("missing without default: %v", err)
	}
	if s.Port != 5 {
		t.Errorf("target should be untouched, got %+v", s)
	}
}
