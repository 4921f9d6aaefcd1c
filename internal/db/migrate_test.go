package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	m := NewMigrator(nil, nil)

	migrations, err := LoadMigrations(m.source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected 001_init.sql first, got %+v", migrations)
	}
	for _, table := range []string{"departments", "queues", "appointments", "queue_events"} {
		if !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("initial migration does not create %s", table)
		}
	}
}

func TestLoadMigrations_OrderAndFiltering(t *testing.T) {
	source := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10")},
		"002_second.sql": {Data: []byte("SELECT 2")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0")},
		"abc_bad.sql":    {Data: []byte("SELECT 0")},
	}

	migrations, err := LoadMigrations(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 2 || migrations[1].Version != 10 {
		t.Fatalf("unexpected order: %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	source := fstest.MapFS{
		"003_a.sql":  {Data: []byte("SELECT 1")},
		"0003_b.sql": {Data: []byte("SELECT 2")},
	}
	if _, err := LoadMigrations(source); err == nil {
		t.Fatal("expected duplicate version error")
	}
}
