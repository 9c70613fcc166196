package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"termbridge/internal/db"
	"termbridge/internal/dictionary"
	"termbridge/internal/domain"
	"termbridge/internal/events"
	"termbridge/internal/migrate"
	"termbridge/internal/repo"
)

type fakeSubmitter struct {
	subs []domain.Submission
	err  error
}

func (f *fakeSubmitter) Send(_ context.Context, s domain.Submission) error {
	if f.err != nil {
		return f.err
	}
	f.subs = append(f.subs, s)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSubmitter) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := repo.Repo{DB: conn}
	sub := &fakeSubmitter{}
	e := &Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{DB: conn, Now: func() time.Time { return fixed }},
		Dict:      dictionary.Local{Repo: r},
		Submitter: sub,
		SiteID:    "clinic-a",
		Now:       func() time.Time { return fixed },
	}
	return e, sub
}

func sampleDraft() PackageDraft {
	return PackageDraft{
		Name:  "Dr Example",
		Email: "dr@example.org",
		Concepts: []ConceptDraft{
			{Name: "night sweats", Comments: "seen in TB screening"},
		},
	}
}

func TestAddPackageDraftDoesNotSubmit(t *testing.T) {
	e, sub := newTestEngine(t)
	pkg, err := e.AddPackage(context.Background(), "alice", sampleDraft())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pkg.Status != domain.PackageDraft {
		t.Fatalf("status = %s, want draft", pkg.Status)
	}
	if pkg.Version != 0 {
		t.Fatalf("version = %d, want 0", pkg.Version)
	}
	if len(sub.subs) != 0 {
		t.Fatalf("draft save sent %d submissions, want 0", len(sub.subs))
	}
	if len(pkg.Concepts) != 1 || pkg.Concepts[0].UUID == "" {
		t.Fatalf("concept missing minted uuid: %+v", pkg.Concepts)
	}
}

func TestAddPackageValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	cases := []struct {
		name  string
		mut   func(*PackageDraft)
		field string
	}{
		{"missing name", func(d *PackageDraft) { d.Name = " " }, "name"},
		{"bad email", func(d *PackageDraft) { d.Email = "nope" }, "email"},
		{"no concepts", func(d *PackageDraft) { d.Concepts = nil }, "concepts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := sampleDraft()
			tc.mut(&d)
			_, err := e.AddPackage(context.Background(), "alice", d)
			var verr domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %s, want %s", verr.Field, tc.field)
			}
		})
	}
}

func TestAddPackageUnknownConceptRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	d := sampleDraft()
	d.Concepts[0].ConceptUUID = "no-such-concept"
	_, err := e.AddPackage(context.Background(), "alice", d)
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAddPackageResolvesConceptName(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Repo.UpsertConcept(context.Background(), domain.Concept{UUID: "c-1", Name: "Hemoglobin A1c"}); err != nil {
		t.Fatal(err)
	}
	d := sampleDraft()
	d.Concepts = []ConceptDraft{{ConceptUUID: "c-1"}}
	pkg, err := e.AddPackage(context.Background(), "alice", d)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pkg.Concepts[0].Name != "Hemoglobin A1c" {
		t.Fatalf("name = %q, want dictionary name", pkg.Concepts[0].Name)
	}
}

func TestDraftToTBSSubmitsExactlyOnce(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()
	pkg, err := e.AddPackage(ctx, "alice", sampleDraft())
	if err != nil {
		t.Fatal(err)
	}

	pkg, err = e.UpdatePackage(ctx, "alice", pkg.ID, PackageUpdate{
		Name: pkg.Name, Email: pkg.Email, Status: domain.PackageTBS,
		Concepts: []ConceptDraft{{Name: "night sweats"}},
		Version:  pkg.Version,
	})
	if err != nil {
		t.Fatalf("update to tbs: %v", err)
	}
	if len(sub.subs) != 1 {
		t.Fatalf("sent %d submissions, want 1", len(sub.subs))
	}
	if pkg.Status != domain.PackageSubmitted {
		t.Fatalf("status = %s, want submitted after ack", pkg.Status)
	}

	// A plain save of the now-submitted package must not resend.
	_, err = e.UpdatePackage(ctx, "alice", pkg.ID, PackageUpdate{
		Name: pkg.Name, Email: pkg.Email, Version: pkg.Version,
	})
	if err != nil {
		t.Fatalf("plain save: %v", err)
	}
	if len(sub.subs) != 1 {
		t.Fatalf("sent %d submissions after plain save, want 1", len(sub.subs))
	}
}

func TestCreateDirectlyInTBSSubmits(t *testing.T) {
	e, sub := newTestEngine(t)
	d := sampleDraft()
	d.Status = domain.PackageTBS
	pkg, err := e.AddPackage(context.Background(), "alice", d)
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.subs) != 1 {
		t.Fatalf("sent %d submissions, want 1", len(sub.subs))
	}
	if pkg.Status != domain.PackageSubmitted {
		t.Fatalf("status = %s, want submitted", pkg.Status)
	}
	got := sub.subs[0]
	if got.Name != d.Name || got.Email != d.Email || len(got.Proposals) != 1 {
		t.Fatalf("submission payload = %+v", got)
	}
	if got.Proposals[0].UUID != pkg.Concepts[0].UUID {
		t.Fatalf("wire uuid %s does not match stored %s", got.Proposals[0].UUID, pkg.Concepts[0].UUID)
	}
}

func TestSubmitFailureKeepsLocalSave(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()
	pkg, err := e.AddPackage(ctx, "alice", sampleDraft())
	if err != nil {
		t.Fatal(err)
	}

	sub.err = errors.New("reviewer unreachable")
	_, err = e.UpdatePackage(ctx, "alice", pkg.ID, PackageUpdate{
		Name: pkg.Name, Email: pkg.Email, Status: domain.PackageTBS,
		Concepts: []ConceptDraft{{Name: "night sweats"}},
		Version:  pkg.Version,
	})
	if err == nil {
		t.Fatal("want delivery error")
	}

	// The save committed: the package sits in tbs awaiting retry.
	stored, err := e.Repo.GetPackage(ctx, pkg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.PackageTBS {
		t.Fatalf("status = %s, want tbs", stored.Status)
	}

	sub.err = nil
	retried, err := e.SubmitPackage(ctx, "alice", pkg.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != domain.PackageSubmitted {
		t.Fatalf("status = %s, want submitted", retried.Status)
	}
	if len(sub.subs) != 1 {
		t.Fatalf("sent %d submissions, want 1", len(sub.subs))
	}
}

func TestSubmitPackageIdempotentRetry(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()
	d := sampleDraft()
	d.Status = domain.PackageTBS
	pkg, err := e.AddPackage(ctx, "alice", d)
	if err != nil {
		t.Fatal(err)
	}

	again, err := e.SubmitPackage(ctx, "alice", pkg.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Status != domain.PackageSubmitted || again.Version != pkg.Version {
		t.Fatalf("resubmit changed state: %+v vs %+v", again, pkg)
	}
	if len(sub.subs) != 2 {
		t.Fatalf("sent %d submissions, want 2", len(sub.subs))
	}
}

func TestSubmitDraftRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	pkg, err := e.AddPackage(ctx, "alice", sampleDraft())
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.SubmitPackage(ctx, "alice", pkg.ID)
	var terr domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
}

func TestUpdatePackageStaleVersion(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	pkg, err := e.AddPackage(ctx, "alice", sampleDraft())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdatePackage(ctx, "alice", pkg.ID, PackageUpdate{
		Name: "renamed", Email: pkg.Email,
		Concepts: []ConceptDraft{{Name: "night sweats"}},
		Version:  pkg.Version,
	}); err != nil {
		t.Fatal(err)
	}

	_, err = e.UpdatePackage(ctx, "bob", pkg.ID, PackageUpdate{
		Name: "stale write", Email: pkg.Email,
		Concepts: []ConceptDraft{{Name: "night sweats"}},
		Version:  pkg.Version,
	})
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestUpdateKeepsMintedUUIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	pkg, err := e.AddPackage(ctx, "alice", sampleDraft())
	if err != nil {
		t.Fatal(err)
	}
	first := pkg.Concepts[0].UUID

	pkg, err = e.UpdatePackage(ctx, "alice", pkg.ID, PackageUpdate{
		Name: pkg.Name, Email: pkg.Email,
		Concepts: []ConceptDraft{
			{Name: "night sweats", Comments: "rephrased"},
			{Name: "weight loss"},
		},
		Version: pkg.Version,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Concepts[0].UUID != first {
		t.Fatalf("edit reminted uuid: %s -> %s", first, pkg.Concepts[0].UUID)
	}
	if pkg.Concepts[1].UUID == "" || pkg.Concepts[1].UUID == first {
		t.Fatalf("new entry uuid bad: %s", pkg.Concepts[1].UUID)
	}
}

func TestCloseAndReopen(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	d := sampleDraft()
	d.Status = domain.PackageTBS
	pkg, err := e.AddPackage(ctx, "alice", d)
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := e.ReopenPackage(ctx, "alice", pkg.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.PackageDraft {
		t.Fatalf("status = %s, want draft", reopened.Status)
	}

	if _, err := e.ClosePackage(ctx, "alice", pkg.ID); err == nil {
		t.Fatal("close of draft package must fail")
	}
}

func receive(t *testing.T, e *Engine, p domain.ShareableProposal) domain.Response {
	t.Helper()
	resp, err := e.ReceiveProposal(context.Background(), "reviewer", "Dr Example", "dr@example.org", p)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return resp
}

func TestReceiveNewProposal(t *testing.T) {
	e, _ := newTestEngine(t)
	resp := receive(t, e, domain.ShareableProposal{UUID: "u-1", Name: "night sweats", Comments: "from screening"})
	if resp.Status != domain.ProposalReceived {
		t.Fatalf("status = %s, want received", resp.Status)
	}
	if resp.Version != 0 {
		t.Fatalf("version = %d, want 0", resp.Version)
	}
	if resp.ProposalUUID != "u-1" || resp.ID == "u-1" {
		t.Fatalf("identity wrong: %+v", resp)
	}
}

func TestResubmitReturnedReopens(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	resp := receive(t, e, domain.ShareableProposal{UUID: "u-1", Name: "night sweats"})

	resp, err := e.ApplyDecision(ctx, "reviewer", resp.ID, domain.DecisionReturn, "needs a clearer definition")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != domain.ProposalReturned {
		t.Fatalf("status = %s, want returned", resp.Status)
	}

	again := receive(t, e, domain.ShareableProposal{UUID: "u-1", Name: "nocturnal sweating", Comments: "clarified per feedback"})
	if again.ID != resp.ID {
		t.Fatalf("resubmission created a new row: %s vs %s", again.ID, resp.ID)
	}
	if again.Status != domain.ProposalReceived {
		t.Fatalf("status = %s, want received", again.Status)
	}
	if again.Version != resp.Version+1 {
		t.Fatalf("version = %d, want %d", again.Version, resp.Version+1)
	}
	if again.Name != "nocturnal sweating" {
		t.Fatalf("name not refreshed: %s", again.Name)
	}
	want := "needs a clearer definition\nclarified per feedback"
	if again.Comments != want {
		t.Fatalf("comments = %q, want %q", again.Comments, want)
	}

	if _, err := e.Repo.FindResponseByUUID(ctx, nil, "u-1"); err != nil {
		t.Fatalf("uuid lookup after resubmit: %v", err)
	}
}

func TestResubmitTerminalRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	resp := receive(t, e, domain.ShareableProposal{UUID: "u-1", Name: "night sweats"})
	resp, err := e.ApplyDecision(ctx, "reviewer", resp.ID, domain.DecisionApprove, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.ReceiveProposal(ctx, "reviewer", "Dr Example", "dr@example.org",
		domain.ShareableProposal{UUID: "u-1", Name: "night sweats"})
	var terr domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}

	stored, err := e.Repo.GetResponse(ctx, resp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != resp.Version || stored.Status != domain.ProposalApproved {
		t.Fatalf("terminal row was touched: %+v", stored)
	}
}

func TestReviewTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// approve straight from received
	a := receive(t, e, domain.ShareableProposal{UUID: "u-1", Name: "one"})
	if _, err := e.ApplyDecision(ctx, "reviewer", a.ID, domain.DecisionApprove, ""); err != nil {
		t.Fatalf("approve from received: %v", err)
	}

	// approve after begin review
	b := receive(t, e, domain.ShareableProposal{UUID: "u-2", Name: "two"})
	b, err := e.BeginReview(ctx, "reviewer", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.ProposalUnderReview {
		t.Fatalf("status = %s, want under_review", b.Status)
	}
	b, err = e.ApplyDecision(ctx, "reviewer", b.ID, domain.DecisionApprove, "good addition")
	if err != nil {
		t.Fatal(err)
	}

	// a decision on a terminal row fails and leaves it untouched
	_, err = e.ApplyDecision(ctx, "reviewer", b.ID, domain.DecisionReject, "")
	var terr domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	stored, err := e.Repo.GetResponse(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.ProposalApproved || stored.Version != b.Version {
		t.Fatalf("terminal row was touched: %+v", stored)
	}
}

func TestReceiveSubmissionPerProposalCommit(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	got, err := e.ReceiveSubmission(ctx, "reviewer", domain.Submission{
		Name:  "Dr Example",
		Email: "dr@example.org",
		Proposals: []domain.ShareableProposal{
			{UUID: "u-1", Name: "one"},
			{UUID: "", Name: "broken"},
			{UUID: "u-3", Name: "three"},
		},
	})
	if err == nil {
		t.Fatal("want error from proposal without uuid")
	}
	if len(got) != 1 {
		t.Fatalf("committed %d before failure, want 1", len(got))
	}
	if _, err := e.Repo.FindResponseByUUID(ctx, nil, "u-1"); err != nil {
		t.Fatalf("first proposal must survive the failure: %v", err)
	}
}

func TestAmbiguousUUIDSurfaces(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"r-1", "r-2"} {
		if err := e.Repo.InsertResponse(ctx, tx, domain.Response{
			ID: id, ProposalUUID: "dup", Name: "x", Status: domain.ProposalReceived,
			CreatedBy: "reviewer", CreatedAt: now,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = e.ReceiveProposal(ctx, "reviewer", "Dr Example", "dr@example.org",
		domain.ShareableProposal{UUID: "dup", Name: "x"})
	if !errors.Is(err, repo.ErrAmbiguousUUID) {
		t.Fatalf("err = %v, want ErrAmbiguousUUID", err)
	}
}

func TestNowWithoutClockDoesNotMutateEngine(t *testing.T) {
	e := &Engine{}
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			if ts := e.now(); ts == "" {
				t.Error("empty timestamp")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if e.Now != nil {
		t.Fatal("now() wrote to the shared engine")
	}
}

func TestAppendComments(t *testing.T) {
	if got := appendComments("", "new"); got != "new" {
		t.Fatalf("got %q", got)
	}
	if got := appendComments("old", ""); got != "old" {
		t.Fatalf("got %q", got)
	}
	if got := appendComments("old", "new"); got != "old\nnew" {
		t.Fatalf("got %q", got)
	}
	if got := appendComments("old\nnew", "new"); got != "old\nnew" {
		t.Fatalf("repeat appended: %q", got)
	}
}
