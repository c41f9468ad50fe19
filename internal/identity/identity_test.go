package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "speakers.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.All()) != 0 {
		t.Errorf("All = %v, want empty", s.All())
	}
	if _, ok := s.Lookup("x"); ok {
		t.Error("Lookup on empty store succeeded")
	}
}

func TestOpen_ParsesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speakers.yaml")
	content := `speakers:
  "111":
    tracker_id: "9001"
    name: Somchai
  "222":
    tracker_id: "9002"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok := s.Lookup("111")
	if !ok || got.TrackerID != "9001" || got.Name != "Somchai" {
		t.Errorf("Lookup(111) = %+v, %v", got, ok)
	}
	if len(s.All()) != 2 {
		t.Errorf("All has %d entries, want 2", len(s.All()))
	}
}

func TestOpen_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad yaml":        "speakers: [",
		"missing tracker":   "speakers:\n  \"1\":\n    name: x\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "speakers.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Open(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSet_PersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "speakers.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("111", Identity{TrackerID: "9001", Name: "Somchai"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("111", Identity{TrackerID: "9003"}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reloaded.Lookup("111")
	if !ok || got.TrackerID != "9003" {
		t.Errorf("reloaded Lookup = %+v, %v", got, ok)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the data file", len(entries))
	}
}

func TestSet_Validates(t *testing.T) {
	t.Parallel()

	s := NewMemory(nil)
	if err := s.Set("", Identity{TrackerID: "1"}); err == nil {
		t.Error("empty speaker accepted")
	}
	if err := s.Set("1", Identity{}); err == nil {
		t.Error("empty tracker id accepted")
	}
	if err := s.Set("1", Identity{TrackerID: "2"}); err != nil {
		t.Errorf("memory Set: %v", err)
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemory(map[string]Identity{"1": {TrackerID: "a"}})
	all := s.All()
	all["2"] = Identity{TrackerID: "b"}
	if _, ok := s.Lookup("2"); ok {
		t.Error("mutating All() leaked into the store")
	}
}
