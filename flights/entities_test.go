package flights

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	e := DefaultEntities()

	tests := []struct {
		code      string
		wantID    string
		wantKnown bool
	}{
		{"IAD", "29475437", true},
		{"blr", "29475359", true},
		{" lhr ", "29475430", true},
		{"SFO", "SFO", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			id, known := e.Resolve(tt.code)
			if id != tt.wantID || known != tt.wantKnown {
				t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.code, id, known, tt.wantID, tt.wantKnown)
			}
		})
	}
}

func TestLoadEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	data := []byte("entities:\n  sfo: \"27537542\"\n  IAD: \"override\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}

	e, err := LoadEntities(path)
	if err != nil {
		t.Fatalf("LoadEntities() error = %v", err)
	}

	if id, _ := e.Resolve("SFO"); id != "27537542" {
		t.Errorf("Resolve(SFO) = %q", id)
	}
	if id, _ := e.Resolve("IAD"); id != "override" {
		t.Errorf("Resolve(IAD) = %q, want file entry to win", id)
	}
	if id, _ := e.Resolve("DXB"); id != "29475431" {
		t.Errorf("Resolve(DXB) = %q, want built-in entry kept", id)
	}
	if e.Len() != 6 {
		t.Errorf("Len() = %d, want 6", e.Len())
	}
}

func TestLoadEntitiesMissingFile(t *testing.T) {
	if _, err := LoadEntities(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadEntities() expected error for missing file")
	}
}
