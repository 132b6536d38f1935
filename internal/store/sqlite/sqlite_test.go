package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/tunnelctl/internal/profile"
)

func TestSQLiteSaveLoadReplace(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	got, err := db.LoadProfiles(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty store, got %v, %v", got, err)
	}

	first := []profile.Profile{
		profile.New("b", profile.Draft{Name: "web", Command: "ssh -N -L 8080:web:80 bastion"}),
		profile.New("a", profile.Draft{Name: "db", Command: "ssh -N -L 5432:db:5432 bastion"}),
	}
	first[1].Enabled = true
	if err := db.SaveProfiles(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = db.LoadProfiles(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != first[0] || got[1] != first[1] {
		t.Fatalf("unexpected profiles: %+v", got)
	}

	// a save replaces the previous list wholesale
	if err := db.SaveProfiles(ctx, first[1:]); err != nil {
		t.Fatalf("save2: %v", err)
	}
	got, _ = db.LoadProfiles(ctx)
	if len(got) != 1 || got[0].ID != "a" || !got[0].Enabled {
		t.Fatalf("unexpected profiles after replace: %+v", got)
	}
}

func TestSQLiteFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	db, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	p := profile.New("x", profile.Draft{Command: "ssh -N host"})
	if err := db.SaveProfiles(context.Background(), []profile.Profile{p}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()
	got, err := db2.LoadProfiles(context.Background())
	if err != nil || len(got) != 1 || got[0] != p {
		t.Fatalf("reopen: %+v, %v", got, err)
	}
}

func TestSQLiteEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
