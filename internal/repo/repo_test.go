package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"termbridge/internal/db"
	"termbridge/internal/domain"
	"termbridge/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePackageCAS(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pkg := domain.Package{
		ID: "p-1", Name: "Dr Example", Email: "dr@example.org",
		Status: domain.PackageDraft, CreatedBy: "alice", CreatedAt: "2026-03-01T12:00:00Z",
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertPackage(ctx, tx, pkg) })

	pkg.Name = "renamed"
	inTx(t, r, func(tx *sql.Tx) error { return r.UpdatePackage(ctx, tx, pkg, 0) })

	// Replaying the same expected version must conflict, not overwrite.
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.UpdatePackage(ctx, tx, pkg, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if err := r.UpdatePackage(ctx, tx, domain.Package{ID: "missing", Name: "x", Email: "x@y.z", Status: domain.PackageDraft}, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	tx.Rollback()

	stored, err := r.GetPackage(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 1 || stored.Name != "renamed" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestFindResponseByUUIDContract(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.FindResponseByUUID(ctx, nil, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	resp := domain.Response{
		ID: "r-1", ProposalUUID: "u-1", Name: "cough",
		Status: domain.ProposalReceived, CreatedBy: "reviewer", CreatedAt: "2026-03-01T12:00:00Z",
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertResponse(ctx, tx, resp) })
	got, err := r.FindResponseByUUID(ctx, nil, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "r-1" {
		t.Fatalf("got %+v", got)
	}

	dup := resp
	dup.ID = "r-2"
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertResponse(ctx, tx, dup) })
	if _, err := r.FindResponseByUUID(ctx, nil, "u-1"); !errors.Is(err, ErrAmbiguousUUID) {
		t.Fatalf("err = %v, want ErrAmbiguousUUID", err)
	}
}

func TestListPackagesCursorPagination(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	times := []string{"2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z", "2026-03-01T12:00:00Z"}
	for i, ts := range times {
		pkg := domain.Package{
			ID: "p-" + string(rune('a'+i)), Name: "n", Email: "n@e.org",
			Status: domain.PackageDraft, CreatedBy: "alice", CreatedAt: ts,
		}
		inTx(t, r, func(tx *sql.Tx) error { return r.InsertPackage(ctx, tx, pkg) })
	}

	first, err := r.ListPackages(ctx, PackageFilters{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].ID != "p-c" || first[1].ID != "p-b" {
		t.Fatalf("first page = %+v", first)
	}

	rest, err := r.ListPackages(ctx, PackageFilters{
		Limit:           2,
		CursorCreatedAt: first[1].CreatedAt,
		CursorID:        first[1].ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].ID != "p-a" {
		t.Fatalf("second page = %+v", rest)
	}
}

func TestAPIKeyLookupByHash(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	raw := "inter-site-key"
	key := domain.APIKey{ID: "k-1", ActorID: "clinic-a", Name: "submitter", KeyHash: HashAPIKey(raw)}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got.ActorID != "clinic-a" {
		t.Fatalf("actor = %s", got.ActorID)
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey("wrong")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := r.DeleteAPIKey(ctx, "k-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey(raw)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key still resolves: %v", err)
	}
}
