package migrator

import (
	"testing"
	"testing/fstest"

	"github.com/archon-research/chainguard/db/migrations"
)

func TestMigrationFiles_SortedSQLOnly(t *testing.T) {
	files := fstest.MapFS{
		"0002_b.sql":   {Data: []byte("SELECT 2;")},
		"0001_a.sql":   {Data: []byte("SELECT 1;")},
		"README.md":    {Data: []byte("docs")},
		"nested/x.sql": {Data: []byte("SELECT 3;")},
	}
	m := New(nil, files, nil)

	got, err := m.migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	want := []string{"0001_a.sql", "0002_b.sql"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}

func TestEmbeddedMigrations_CreateMigrationsTableFirst(t *testing.T) {
	m := New(nil, migrations.FS, nil)
	files, err := m.migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", files)
	}
	if files[0] != "0001_migrations_table.sql" {
		t.Errorf("expected migrations table first, got %s", files[0])
	}
}
