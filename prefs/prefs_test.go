package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.toml")

	want := Prefs{Name: "Ana", LastRoom: "general"}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := Load(path)
	if got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if got != (Prefs{}) {
		t.Errorf("Load of missing file = %+v, want zero prefs", got)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(path, []byte("not = [valid"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got := Load(path)
	if got != (Prefs{}) {
		t.Errorf("Load of malformed file = %+v, want zero prefs", got)
	}
}

func TestDefaultPathResolution(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	got, err := resolvePath("")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	want := filepath.Join(home, ".config", "furuksong", "prefs.toml")
	if got != want {
		t.Errorf("resolvePath(%q) = %q, want %q", "", got, want)
	}
	if DefaultPath() != defaultPrefsPath {
		t.Errorf("DefaultPath = %q, want %q", DefaultPath(), defaultPrefsPath)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")

	if err := Save(path, Prefs{Name: "Ana", LastRoom: "general"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, Prefs{Name: "Ana", LastRoom: "music"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := Load(path); got.LastRoom != "music" {
		t.Errorf("LastRoom = %q, want %q", got.LastRoom, "music")
	}
}
