package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Nahida.txt")
	if err := os.WriteFile(path, []byte("  You are a calm librarian.\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p := Load(path)
	if p.Text != "You are a calm librarian." {
		t.Fatalf("Text = %q", p.Text)
	}
	if p.IsDefault() || p.LoadErr != nil {
		t.Fatalf("unexpected fallback: %+v", p)
	}
}

func TestLoadFallsBack(t *testing.T) {
	dir := t.TempDir()
	blank := filepath.Join(dir, "blank.txt")
	if err := os.WriteFile(blank, []byte("\n\t\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cases := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.txt")},
		{"directory", dir},
		{"blank file", blank},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Load(tc.path)
			if p.Text != DefaultText {
				t.Fatalf("Text = %q, want default", p.Text)
			}
			if !p.IsDefault() || p.LoadErr == nil {
				t.Fatalf("expected default persona with error, got %+v", p)
			}
		})
	}
}

func TestLoadMissingFileWrapsNotExist(t *testing.T) {
	p := Load(filepath.Join(t.TempDir(), "nope.txt"))
	if !errors.Is(p.LoadErr, os.ErrNotExist) {
		t.Fatalf("LoadErr = %v, want os.ErrNotExist", p.LoadErr)
	}
}
