package migrate

import (
	"testing"

	"termbridge/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var v int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&v); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != 1 {
		t.Fatalf("schema version = %d, want 1", v)
	}
	if _, err := conn.Exec(`INSERT INTO packages(id,name,email,status,created_by,created_at) VALUES ('p-1','n','n@e.org','draft','alice','2026-03-01T12:00:00Z')`); err != nil {
		t.Fatalf("schema unusable: %v", err)
	}
}
