package claude

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(custom, []byte("\n  You are a pirate.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	blank := filepath.Join(dir, "blank.md")
	if err := os.WriteFile(blank, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"no path", "", DefaultSystemPrompt},
		{"custom file", custom, "You are a pirate."},
		{"blank file", blank, DefaultSystemPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSystemPrompt(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("unexpected prompt %q", got)
			}
		})
	}
}

func TestLoadSystemPrompt_MissingFile(t *testing.T) {
	_, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "missing.md"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTruncateSystemPrompt(t *testing.T) {
	short := "short prompt"
	if got := TruncateSystemPrompt(short, 100); got != short {
		t.Errorf("short prompt changed: %q", got)
	}

	long := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	got := TruncateSystemPrompt(long, 100)
	if !strings.HasPrefix(got, strings.Repeat("a", 60)+"\n\n[System prompt truncated") {
		t.Errorf("expected truncation at section break, got %q", got)
	}
}
