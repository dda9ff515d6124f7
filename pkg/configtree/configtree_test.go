package configtree

import "testing"

func sampleData() map[string]any {
	return map[string]any{
		"clientapp": map[string]any{
			"locking": map[string]any{
				"auto_lock_mode":    true,
				"auto_lock_period_s": 300,
			},
		},
		"server": map[string]any{
			"bind_address": "0.0.0.0",
			"bind_port":    8443,
		},
	}
}

func TestGetStringResolvesDottedPath(t *testing.T) {
	tree := New(sampleData())
	if got := tree.GetString("server.bind_address", ""); got != "0.0.0.0" {
		t.Fatalf("expected 0.0.0.0, got %q", got)
	}
}

func TestGetIntResolvesDottedPath(t *testing.T) {
	tree := New(sampleData())
	if got := tree.GetInt("server.bind_port", 0); got != 8443 {
		t.Fatalf("expected 8443, got %d", got)
	}
}

func TestGetBoolResolvesDottedPath(t *testing.T) {
	tree := New(sampleData())
	if got := tree.GetBool("clientapp.locking.auto_lock_mode", false); got != true {
		t.Fatalf("expected true, got %v", got)
	}
}

func TestGetFallsBackOnMissingPath(t *testing.T) {
	tree := New(sampleData())
	if got := tree.GetString("server.unknown", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := tree.GetInt("nope.nope", 7); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestSectionReturnsSubTree(t *testing.T) {
	tree := New(sampleData())
	section := tree.Section("clientapp.locking")
	if got := section.GetInt("auto_lock_period_s", 0); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
}

func TestSectionOnMissingPathIsEmptyNotNil(t *testing.T) {
	tree := New(sampleData())
	section := tree.Section("does.not.exist")
	if got := section.GetString("anything", "def"); got != "def" {
		t.Fatalf("expected default from an empty section, got %q", got)
	}
}

func TestRequireStringErrorsWhenAbsent(t *testing.T) {
	tree := New(sampleData())
	if _, err := tree.RequireString("server.missing"); err == nil {
		t.Fatal("expected an error for a missing required path")
	}
	if v, err := tree.RequireString("server.bind_address"); err != nil || v != "0.0.0.0" {
		t.Fatalf("expected 0.0.0.0/nil, got %q/%v", v, err)
	}
}
