package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"termbridge/internal/dictionary"
	"termbridge/internal/domain"
	"termbridge/internal/events"
	"termbridge/internal/repo"
)

// Submitter delivers a serialized package to the reviewer site. The local
// save has always committed before Send is called, so a failed delivery
// leaves a retryable package behind rather than losing work.
type Submitter interface {
	Send(ctx context.Context, sub domain.Submission) error
}

// Engine owns all state changes. Every operation runs in its own
// transaction; outbound delivery happens strictly after commit.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Dict      dictionary.Service
	Submitter Submitter
	SiteID    string
	Now       func() time.Time
}

func (e *Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// ConceptDraft is one proposed concept as entered by the proposer.
type ConceptDraft struct {
	ConceptUUID string
	Name        string
	Comments    string
}

// PackageDraft carries the fields of a new package.
type PackageDraft struct {
	Name        string
	Email       string
	Description string
	Status      domain.PackageStatus
	Concepts    []ConceptDraft
}

// PackageUpdate carries a full rewrite of an existing package. Version is
// the version the caller last read; the update fails with ErrVersionConflict
// when the stored row has moved on.
type PackageUpdate struct {
	Name        string
	Email       string
	Description string
	Status      domain.PackageStatus
	Concepts    []ConceptDraft
	Version     int
}

func (e *Engine) resolveConcepts(ctx context.Context, packageID string, drafts []ConceptDraft, existing []domain.ProposedConcept) ([]domain.ProposedConcept, error) {
	// Proposal uuids are minted once and survive edits: a draft naming a
	// concept already in the package keeps that row's uuid.
	byConcept := map[string]domain.ProposedConcept{}
	byName := map[string]domain.ProposedConcept{}
	for _, c := range existing {
		if c.ConceptUUID != "" {
			byConcept[c.ConceptUUID] = c
		}
		byName[c.Name] = c
	}
	out := make([]domain.ProposedConcept, 0, len(drafts))
	for i, d := range drafts {
		pc := domain.ProposedConcept{
			PackageID:   packageID,
			ConceptUUID: d.ConceptUUID,
			Name:        strings.TrimSpace(d.Name),
			Comments:    d.Comments,
			Position:    i,
		}
		if d.ConceptUUID != "" {
			c, err := e.Dict.Lookup(ctx, d.ConceptUUID)
			if err != nil {
				return nil, err
			}
			if pc.Name == "" {
				pc.Name = c.Name
			}
		}
		if pc.Name == "" {
			return nil, domain.ValidationError{Field: "concepts", Reason: fmt.Sprintf("entry %d needs a name or a concept uuid", i)}
		}
		if prev, ok := byConcept[pc.ConceptUUID]; ok && pc.ConceptUUID != "" {
			pc.ID, pc.UUID = prev.ID, prev.UUID
		} else if prev, ok := byName[pc.Name]; ok {
			pc.ID, pc.UUID = prev.ID, prev.UUID
		} else {
			pc.ID = uuid.NewString()
			pc.UUID = uuid.NewString()
		}
		out = append(out, pc)
	}
	return out, nil
}

func validateDraft(name, email string, count int) error {
	if strings.TrimSpace(name) == "" {
		return domain.ValidationError{Field: "name", Reason: "required"}
	}
	if !strings.Contains(email, "@") {
		return domain.ValidationError{Field: "email", Reason: "valid address required"}
	}
	if count == 0 {
		return domain.ValidationError{Field: "concepts", Reason: "at least one proposed concept required"}
	}
	return nil
}

// AddPackage validates and persists a new package. When the caller creates
// it directly in tbs, delivery to the reviewer happens after the save; a
// delivery failure is returned alongside the saved package and never undoes
// the save.
func (e *Engine) AddPackage(ctx context.Context, actorID string, draft PackageDraft) (domain.Package, error) {
	status := draft.Status
	if status == "" {
		status = domain.PackageDraft
	}
	if status != domain.PackageDraft && status != domain.PackageTBS {
		return domain.Package{}, domain.TransitionError{From: string(domain.PackageDraft), To: string(status)}
	}
	if err := validateDraft(draft.Name, draft.Email, len(draft.Concepts)); err != nil {
		return domain.Package{}, err
	}

	pkg := domain.Package{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(draft.Name),
		Email:       strings.TrimSpace(draft.Email),
		Description: draft.Description,
		Status:      status,
		CreatedBy:   actorID,
		CreatedAt:   e.now(),
		Version:     0,
	}
	concepts, err := e.resolveConcepts(ctx, pkg.ID, draft.Concepts, nil)
	if err != nil {
		return domain.Package{}, err
	}
	pkg.Concepts = concepts

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Package{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPackage(ctx, tx, pkg); err != nil {
		return domain.Package{}, fmt.Errorf("insert package: %w", err)
	}
	if err := e.Repo.ReplacePackageConcepts(ctx, tx, pkg.ID, pkg.Concepts); err != nil {
		return domain.Package{}, fmt.Errorf("write concepts: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "package.created", "package", pkg.ID, actorID, events.EventPayload{
		"name": pkg.Name, "status": string(pkg.Status), "concepts": len(pkg.Concepts),
	}); err != nil {
		return domain.Package{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Package{}, fmt.Errorf("commit: %w", err)
	}

	if domain.SubmissionDue(domain.PackageDraft, pkg.Status) {
		return e.deliver(ctx, actorID, pkg)
	}
	return pkg, nil
}

// UpdatePackage rewrites a package's fields and concept list and applies a
// status change under the package state machine. Moving draft -> tbs
// triggers delivery after the save commits.
func (e *Engine) UpdatePackage(ctx context.Context, actorID, id string, upd PackageUpdate) (domain.Package, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Package{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := e.Repo.GetPackageTx(ctx, tx, id)
	if err != nil {
		return domain.Package{}, err
	}
	next := upd.Status
	if next == "" {
		next = old.Status
	}
	if !domain.CanTransitionPackage(old.Status, next) {
		return domain.Package{}, domain.TransitionError{From: string(old.Status), To: string(next)}
	}
	if old.Status != domain.PackageDraft && old.Status != domain.PackageTBS {
		// Content is frozen once submitted; only the status may move.
		if upd.Name != old.Name || upd.Email != old.Email || len(upd.Concepts) > 0 {
			return domain.Package{}, domain.TransitionError{From: string(old.Status), To: string(old.Status)}
		}
		upd.Name, upd.Email, upd.Description = old.Name, old.Email, old.Description
	}
	if err := validateDraft(upd.Name, upd.Email, len(upd.Concepts)+len(old.Concepts)); err != nil {
		return domain.Package{}, err
	}

	pkg := old
	pkg.Name = strings.TrimSpace(upd.Name)
	pkg.Email = strings.TrimSpace(upd.Email)
	pkg.Description = upd.Description
	pkg.Status = next
	pkg.ChangedBy = actorID
	pkg.ChangedAt = e.now()
	if len(upd.Concepts) > 0 {
		pkg.Concepts, err = e.resolveConcepts(ctx, pkg.ID, upd.Concepts, old.Concepts)
		if err != nil {
			return domain.Package{}, err
		}
	}

	if err := e.Repo.UpdatePackage(ctx, tx, pkg, upd.Version); err != nil {
		return domain.Package{}, err
	}
	pkg.Version = upd.Version + 1
	if len(upd.Concepts) > 0 {
		if err := e.Repo.ReplacePackageConcepts(ctx, tx, pkg.ID, pkg.Concepts); err != nil {
			return domain.Package{}, fmt.Errorf("write concepts: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "package.updated", "package", pkg.ID, actorID, events.EventPayload{
		"status": string(pkg.Status), "version": pkg.Version,
	}); err != nil {
		return domain.Package{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Package{}, fmt.Errorf("commit: %w", err)
	}

	if domain.SubmissionDue(old.Status, pkg.Status) {
		return e.deliver(ctx, actorID, pkg)
	}
	return pkg, nil
}

// SubmitPackage retries delivery of a package that is tbs or already
// submitted. Resending a submitted package is safe: the reviewer reconciles
// on proposal uuids and will not duplicate anything.
func (e *Engine) SubmitPackage(ctx context.Context, actorID, id string) (domain.Package, error) {
	pkg, err := e.Repo.GetPackage(ctx, id)
	if err != nil {
		return domain.Package{}, err
	}
	if pkg.Status != domain.PackageTBS && pkg.Status != domain.PackageSubmitted {
		return pkg, domain.TransitionError{From: string(pkg.Status), To: string(domain.PackageSubmitted)}
	}
	return e.deliver(ctx, actorID, pkg)
}

// deliver sends the package and, on acknowledgement, flips tbs -> submitted.
func (e *Engine) deliver(ctx context.Context, actorID string, pkg domain.Package) (domain.Package, error) {
	if e.Submitter == nil {
		return pkg, fmt.Errorf("deliver package %s: no reviewer configured", pkg.ID)
	}
	sub := domain.Submission{
		Name:        pkg.Name,
		Email:       pkg.Email,
		Description: pkg.Description,
	}
	for _, c := range pkg.Concepts {
		sub.Proposals = append(sub.Proposals, domain.ShareableProposal{
			UUID:     c.UUID,
			Name:     c.Name,
			Comments: c.Comments,
			Status:   domain.ProposalReceived,
		})
	}
	if err := e.Submitter.Send(ctx, sub); err != nil {
		// The package stays tbs and keeps its saved content.
		return pkg, fmt.Errorf("deliver package %s: %w", pkg.ID, err)
	}
	if pkg.Status != domain.PackageTBS {
		return pkg, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pkg, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	pkg.Status = domain.PackageSubmitted
	pkg.ChangedBy = actorID
	pkg.ChangedAt = e.now()
	if err := e.Repo.UpdatePackage(ctx, tx, pkg, pkg.Version); err != nil {
		return pkg, err
	}
	pkg.Version++
	if err := e.Events.Append(ctx, tx, "package.submitted", "package", pkg.ID, actorID, events.EventPayload{
		"proposals": len(pkg.Concepts),
	}); err != nil {
		return pkg, err
	}
	if err := tx.Commit(); err != nil {
		return pkg, fmt.Errorf("commit: %w", err)
	}
	return pkg, nil
}

// ClosePackage archives a submitted package.
func (e *Engine) ClosePackage(ctx context.Context, actorID, id string) (domain.Package, error) {
	return e.movePackage(ctx, actorID, id, domain.PackageClosed, "package.closed")
}

// ReopenPackage drops a submitted package back to draft so returned
// proposals can be amended and resubmitted.
func (e *Engine) ReopenPackage(ctx context.Context, actorID, id string) (domain.Package, error) {
	return e.movePackage(ctx, actorID, id, domain.PackageDraft, "package.reopened")
}

func (e *Engine) movePackage(ctx context.Context, actorID, id string, next domain.PackageStatus, evtType string) (domain.Package, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Package{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	pkg, err := e.Repo.GetPackageTx(ctx, tx, id)
	if err != nil {
		return domain.Package{}, err
	}
	if pkg.Status == next {
		return pkg, nil
	}
	if !domain.CanTransitionPackage(pkg.Status, next) {
		return pkg, domain.TransitionError{From: string(pkg.Status), To: string(next)}
	}
	prev := pkg.Status
	pkg.Status = next
	pkg.ChangedBy = actorID
	pkg.ChangedAt = e.now()
	if err := e.Repo.UpdatePackage(ctx, tx, pkg, pkg.Version); err != nil {
		return pkg, err
	}
	pkg.Version++
	if err := e.Events.Append(ctx, tx, evtType, "package", pkg.ID, actorID, events.EventPayload{
		"from": string(prev), "to": string(next),
	}); err != nil {
		return pkg, err
	}
	if err := tx.Commit(); err != nil {
		return pkg, fmt.Errorf("commit: %w", err)
	}
	return pkg, nil
}

// ReceiveSubmission reconciles every proposal of an incoming submission on
// the reviewer side. Each proposal commits in its own transaction, so a bad
// entry late in the list never unwinds the ones before it.
func (e *Engine) ReceiveSubmission(ctx context.Context, actorID string, sub domain.Submission) ([]domain.Response, error) {
	if len(sub.Proposals) == 0 {
		return nil, domain.ValidationError{Field: "proposals", Reason: "at least one proposal required"}
	}
	var out []domain.Response
	for _, p := range sub.Proposals {
		resp, err := e.ReceiveProposal(ctx, actorID, sub.Name, sub.Email, p)
		if err != nil {
			return out, fmt.Errorf("proposal %s: %w", p.UUID, err)
		}
		out = append(out, resp)
	}
	return out, nil
}

// ReceiveProposal reconciles one incoming proposal against the response
// table, keyed solely on the proposal uuid. An unknown uuid creates a fresh
// received response at version 0. A known uuid is a resubmission: the name
// is refreshed, comments are appended, and a returned response reopens to
// received. Terminal responses reject the write. Two rows sharing one uuid
// is a data fault and surfaces as repo.ErrAmbiguousUUID, never a guess.
func (e *Engine) ReceiveProposal(ctx context.Context, actorID, sourceName, sourceEmail string, p domain.ShareableProposal) (domain.Response, error) {
	if strings.TrimSpace(p.UUID) == "" {
		return domain.Response{}, domain.ValidationError{Field: "uuid", Reason: "required"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.Response{}, domain.ValidationError{Field: "name", Reason: "required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Response{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	found, err := e.Repo.FindResponseByUUID(ctx, tx, p.UUID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		resp := domain.Response{
			ID:           uuid.NewString(),
			ProposalUUID: p.UUID,
			Name:         p.Name,
			Comments:     p.Comments,
			Status:       domain.ProposalReceived,
			SourceName:   sourceName,
			SourceEmail:  sourceEmail,
			CreatedBy:    actorID,
			CreatedAt:    e.now(),
			Version:      0,
		}
		if err := e.Repo.InsertResponse(ctx, tx, resp); err != nil {
			return domain.Response{}, fmt.Errorf("insert response: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "proposal.received", "response", resp.ID, actorID, events.EventPayload{
			"proposal_uuid": p.UUID, "name": p.Name,
		}); err != nil {
			return domain.Response{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Response{}, fmt.Errorf("commit: %w", err)
		}
		return resp, nil
	case err != nil:
		return domain.Response{}, err
	}

	if domain.Terminal(found.Status) {
		return found, domain.TransitionError{From: string(found.Status), To: string(domain.ProposalReceived)}
	}
	resp := found
	if found.Status == domain.ProposalReturned {
		resp.Status = domain.ProposalReceived
	}
	resp.Name = p.Name
	resp.Comments = appendComments(found.Comments, p.Comments)
	resp.SourceName = sourceName
	resp.SourceEmail = sourceEmail
	resp.ChangedBy = actorID
	resp.ChangedAt = e.now()
	if err := e.Repo.UpdateResponse(ctx, tx, resp, found.Version); err != nil {
		return domain.Response{}, err
	}
	resp.Version = found.Version + 1
	if err := e.Events.Append(ctx, tx, "proposal.resubmitted", "response", resp.ID, actorID, events.EventPayload{
		"proposal_uuid": p.UUID, "status": string(resp.Status), "version": resp.Version,
	}); err != nil {
		return domain.Response{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Response{}, fmt.Errorf("commit: %w", err)
	}
	return resp, nil
}

// BeginReview marks a received response as actively under review.
func (e *Engine) BeginReview(ctx context.Context, actorID, id string) (domain.Response, error) {
	return e.moveResponse(ctx, actorID, id, domain.ProposalUnderReview, "", "review.started")
}

// ApplyDecision records a reviewer verdict on a response. The comment, if
// any, is appended to the running comment log.
func (e *Engine) ApplyDecision(ctx context.Context, actorID, id string, decision domain.Decision, comment string) (domain.Response, error) {
	next, ok := domain.StatusForDecision(decision)
	if !ok {
		return domain.Response{}, domain.ValidationError{Field: "decision", Reason: "must be approve, reject or return"}
	}
	return e.moveResponse(ctx, actorID, id, next, comment, "review."+string(next))
}

func (e *Engine) moveResponse(ctx context.Context, actorID, id string, next domain.ProposalStatus, comment, evtType string) (domain.Response, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Response{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	found, err := e.Repo.GetResponseTx(ctx, tx, id)
	if err != nil {
		return domain.Response{}, err
	}
	if !domain.CanTransitionProposal(found.Status, next) {
		return found, domain.TransitionError{From: string(found.Status), To: string(next)}
	}
	resp := found
	resp.Status = next
	resp.Comments = appendComments(found.Comments, comment)
	resp.ChangedBy = actorID
	resp.ChangedAt = e.now()
	if err := e.Repo.UpdateResponse(ctx, tx, resp, found.Version); err != nil {
		return domain.Response{}, err
	}
	resp.Version = found.Version + 1
	if err := e.Events.Append(ctx, tx, evtType, "response", resp.ID, actorID, events.EventPayload{
		"proposal_uuid": resp.ProposalUUID, "from": string(found.Status), "to": string(next),
	}); err != nil {
		return domain.Response{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Response{}, fmt.Errorf("commit: %w", err)
	}
	return resp, nil
}

// appendComments keeps the full history: new text is appended, never
// overwritten, and an exact repeat of the latest entry is dropped.
func appendComments(existing, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	parts := strings.Split(existing, "\n")
	if parts[len(parts)-1] == addition {
		return existing
	}
	return existing + "\n" + addition
}
