package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	logx "sessiond/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, logx.Logger{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, dir
}

func TestSaveAssignsIDAndRoundtrips(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	modID := uuid.New()
	saved, err := s.Save(Preset{
		Name: "gaming",
		Modules: []ModuleConfig{
			{ModuleID: modID, Settings: map[string]string{"command": "steam"}},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID == uuid.Nil {
		t.Fatal("Save did not assign an id")
	}
	if saved.SchemaVersion != SchemaVersion {
		t.Fatalf("schema version = %d", saved.SchemaVersion)
	}

	got, err := s.Get(saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "gaming" || len(got.Modules) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got.Modules[0].ModuleID != modID || got.Modules[0].Settings["command"] != "steam" {
		t.Fatalf("module config lost in roundtrip: %+v", got.Modules[0])
	}
}

func TestSaveRequiresName(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if _, err := s.Save(Preset{}); err == nil {
		t.Fatal("nameless preset accepted")
	}
}

func TestModuleOrderIsPreserved(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	p := Preset{Name: "ordered"}
	for _, id := range ids {
		p.Modules = append(p.Modules, ModuleConfig{ModuleID: id})
	}
	saved, err := s.Save(p)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i, id := range ids {
		if got.Modules[i].ModuleID != id {
			t.Fatalf("module order changed: %+v", got.Modules)
		}
	}
}

func TestListSkipsBrokenFiles(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)
	if _, err := s.Save(Preset{Name: "keep"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(":::"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "keep" {
		t.Fatalf("List = %+v, want only keep", list)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	saved, err := s.Save(Preset{Name: "temp"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete twice = %v, want ErrNotFound", err)
	}
}
