package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultStateRootFallsBackToHomeWithoutLocalDir(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)
	setWorkingDir(t, t.TempDir())

	got := DefaultStateRoot()
	want := filepath.Join(homeDir, ".healthintel")
	if got != want {
		t.Fatalf("unexpected root path: got=%q want=%q", got, want)
	}
}

func TestDefaultStateRootUsesLocalDirWhenPresent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workDir, ".healthintel"), 0o700); err != nil {
		t.Fatalf("mkdir local .healthintel: %v", err)
	}
	setWorkingDir(t, workDir)

	if got := DefaultStateRoot(); got != ".healthintel" {
		t.Fatalf("unexpected root path: got=%q want=%q", got, ".healthintel")
	}
}

func TestResolveStatePath(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)
	setWorkingDir(t, t.TempDir())

	cases := map[string]string{
		"":                          "",
		"~/data/x.db":               filepath.Join(homeDir, "data", "x.db"),
		".healthintel":              filepath.Join(homeDir, ".healthintel"),
		".healthintel/sessions.db":  filepath.Join(homeDir, ".healthintel", "sessions.db"),
		"./local/../sessions.db":    "sessions.db",
		"/var/lib/healthintel/s.db": "/var/lib/healthintel/s.db",
	}
	for input, want := range cases {
		if got := ResolveStatePath(input); got != want {
			t.Fatalf("ResolveStatePath(%q) = %q, want %q", input, got, want)
		}
	}
}
