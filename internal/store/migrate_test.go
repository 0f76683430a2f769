package store

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_ordersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_labels.sql": {Data: []byte("-- ten")},
		"m/002_users.sql":  {Data: []byte("-- two")},
		"m/001_init.sql":   {Data: []byte("-- one")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	migs, err := LoadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) != 3 || migs[0].Version != 1 || migs[1].Version != 2 || migs[2].Version != 10 {
		t.Fatalf("order: %+v", migs)
	}
	if migs[2].SQL != "-- ten" || migs[2].Name != "010_labels.sql" {
		t.Fatalf("contents: %+v", migs[2])
	}

	pending := Pending(migs, map[int]bool{1: true, 10: true})
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("pending: %+v", pending)
	}
}

func TestLoadMigrations_rejectsBadNames(t *testing.T) {
	for name, fsys := range map[string]fstest.MapFS{
		"no version": {"m/init.sql": {}},
		"zero":       {"m/000_init.sql": {}},
		"duplicate":  {"m/001_a.sql": {}, "m/1_b.sql": {}},
	} {
		if _, err := LoadMigrations(fsys, "m"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migs, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil || len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("embedded migrations: %+v %v", migs, err)
	}
}
