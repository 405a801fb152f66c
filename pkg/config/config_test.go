package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscover_ExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	if _, err := Discover(path); err == nil {
		t.Fatal("expected an error for a nonexistent explicit path")
	}
	if err := os.WriteFile(path, []byte("definitions: defs\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Discover(path)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got != path {
		t.Fatalf("got %q, want %q", got, path)
	}
}

func TestDiscover_FindsFirstCandidateInCwd(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	if err := os.WriteFile("config.yaml", []byte("definitions: defs\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Discover("")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got != "config.yaml" {
		t.Fatalf("got %q", got)
	}
}

func TestDiscover_PrefersSergioYmlOverConfigYaml(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	for _, name := range []string{"config.yaml", "sergio.yml"} {
		if err := os.WriteFile(name, []byte("definitions: defs\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := Discover("")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got != "sergio.yml" {
		t.Fatalf("expected sergio.yml to win discovery order, got %q", got)
	}
}

func TestLoad_ResolvesRelativePathsAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sergio.yml")
	doc := "definitions: defs\nbackups: backups\nvariables:\n  region: us-east\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefinitionsDir != filepath.Join(dir, "defs") {
		t.Fatalf("got %q", cfg.DefinitionsDir)
	}
	if cfg.BackupsDir != filepath.Join(dir, "backups") {
		t.Fatalf("got %q", cfg.BackupsDir)
	}
	if cfg.Variables["region"] != "us-east" {
		t.Fatalf("got variables %+v", cfg.Variables)
	}
}

func TestLoad_AbsolutePathsPassThrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sergio.yml")
	doc := "definitions: /srv/defs\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefinitionsDir != "/srv/defs" {
		t.Fatalf("got %q", cfg.DefinitionsDir)
	}
}

// chdir switches to dir and returns a func restoring the original
// working directory.
func chdir(t *testing.T, dir string) func() {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	return func() { _ = os.Chdir(orig) }
}
