package repos

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/baton-gw/baton/internal/common/logger"
)

func scanRoot(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(root, name, ".git"), 0o755); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}
	return root
}

func TestScanSortsAndIndexes(t *testing.T) {
	root := scanRoot(t, "zeta", "alpha", "mid")
	// Non-repo noise: a plain directory and a file.
	os.Mkdir(filepath.Join(root, "notes"), 0o755)
	os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644)

	inv, err := Scan(root, logger.NewNop())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	all := inv.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 repos, got %d", len(all))
	}
	wantNames := []string{"alpha", "mid", "zeta"}
	for i, r := range all {
		if r.Name != wantNames[i] {
			t.Errorf("repo %d: got %q, want %q", i, r.Name, wantNames[i])
		}
		if r.Index != i+1 {
			t.Errorf("repo %q: index %d, want %d", r.Name, r.Index, i+1)
		}
	}
}

func TestScanMissingRoot(t *testing.T) {
	if _, err := Scan("/does/not/exist", logger.NewNop()); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestLookupByIndexAndName(t *testing.T) {
	root := scanRoot(t, "alpha", "beta")
	inv, err := Scan(root, logger.NewNop())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if r, ok := inv.Lookup("2"); !ok || r.Name != "beta" {
		t.Errorf("Lookup(2): got %+v ok=%v", r, ok)
	}
	if r, ok := inv.Lookup("alpha"); !ok || r.Index != 1 {
		t.Errorf("Lookup(alpha): got %+v ok=%v", r, ok)
	}
	if _, ok := inv.Lookup("0"); ok {
		t.Error("index 0 must not resolve")
	}
	if _, ok := inv.Lookup("gamma"); ok {
		t.Error("unknown name must not resolve")
	}
}

func TestSingleDefaultsName(t *testing.T) {
	inv := Single("/srv/projects/widget", "")
	r, ok := inv.Lookup("1")
	if !ok || r.Name != "widget" || r.Path != "/srv/projects/widget" {
		t.Errorf("unexpected repo %+v ok=%v", r, ok)
	}
	if inv.Len() != 1 {
		t.Errorf("unexpected size %d", inv.Len())
	}
}

func TestAllReturnsCopy(t *testing.T) {
	inv := Single("/p", "p")
	inv.All()[0].Name = "mutated"
	if r, _ := inv.Lookup("1"); r.Name != "p" {
		t.Error("All must not expose internal state")
	}
}
