package domain

import "fmt"

// PackageStatus is the proposer-side lifecycle of a proposal package.
type PackageStatus string

const (
	PackageDraft     PackageStatus = "draft"
	PackageTBS       PackageStatus = "tbs"
	PackageSubmitted PackageStatus = "submitted"
	PackageClosed    PackageStatus = "closed"
)

// ProposalStatus is the reviewer-assigned lifecycle of one proposal.
type ProposalStatus string

const (
	ProposalReceived    ProposalStatus = "received"
	ProposalUnderReview ProposalStatus = "under_review"
	ProposalApproved    ProposalStatus = "approved"
	ProposalRejected    ProposalStatus = "rejected"
	ProposalReturned    ProposalStatus = "returned"
)

// Decision is a reviewer's verdict on a response.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionReturn  Decision = "return"
)

// ShareableProposal is the wire shape of one proposed concept. The uuid is
// minted once at creation and is the only identity that survives the trip
// between sites; local ids on either side never leave their database.
type ShareableProposal struct {
	UUID     string         `json:"uuid"`
	Name     string         `json:"name"`
	Comments string         `json:"comments,omitempty"`
	Status   ProposalStatus `json:"status" enum:"received,under_review,approved,rejected,returned"`
}

// ProposedConcept is one entry of a package on the proposer side.
type ProposedConcept struct {
	ID          string `json:"id"`
	PackageID   string `json:"package_id"`
	UUID        string `json:"uuid"`
	ConceptUUID string `json:"concept_uuid,omitempty"`
	Name        string `json:"name"`
	Comments    string `json:"comments,omitempty"`
	Position    int    `json:"position"`
}

// Package is the proposer-side aggregate grouping proposed concepts that are
// submitted together.
type Package struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Description string            `json:"description,omitempty"`
	Status      PackageStatus     `json:"status" enum:"draft,tbs,submitted,closed"`
	Concepts    []ProposedConcept `json:"concepts"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	ChangedBy   string            `json:"changed_by,omitempty"`
	ChangedAt   string            `json:"changed_at,omitempty" format:"date-time"`
	Version     int               `json:"version"`
}

// Response is the reviewer-side record tracking one proposal's review
// outcome. ProposalUUID is the reconciliation key; ID is meaningless outside
// the reviewer database.
type Response struct {
	ID           string         `json:"id"`
	ProposalUUID string         `json:"proposal_uuid"`
	Name         string         `json:"name"`
	Comments     string         `json:"comments,omitempty"`
	Status       ProposalStatus `json:"status" enum:"received,under_review,approved,rejected,returned"`
	SourceName   string         `json:"source_name,omitempty"`
	SourceEmail  string         `json:"source_email,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	ChangedBy    string         `json:"changed_by,omitempty"`
	ChangedAt    string         `json:"changed_at,omitempty" format:"date-time"`
	Version      int            `json:"version"`
}

// Submission is the serialized package sent from proposer to reviewer.
type Submission struct {
	Name        string              `json:"name"`
	Email       string              `json:"email"`
	Description string              `json:"description,omitempty"`
	Proposals   []ShareableProposal `json:"proposals"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Concept is a validated entry of the local dictionary cache.
type Concept struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Datatype    string `json:"datatype,omitempty"`
	Description string `json:"description,omitempty"`
}

// APIKey authenticates site-to-site and automation callers.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidationError reports a malformed draft before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports a status change the state machine does not allow.
// The record is left untouched.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// CanTransitionPackage reports whether a package may move from old to new.
// The machine only moves forward; submitted -> draft is the explicit
// reviewer-return reopen and the sole regression.
func CanTransitionPackage(old, next PackageStatus) bool {
	if old == next {
		return true
	}
	switch old {
	case PackageDraft:
		return next == PackageTBS
	case PackageTBS:
		return next == PackageSubmitted
	case PackageSubmitted:
		return next == PackageClosed || next == PackageDraft
	}
	return false
}

// SubmissionDue reports whether saving a package with the given status change
// must trigger submission: exactly the draft -> tbs edge, so saves of an
// already-submitted package never resubmit.
func SubmissionDue(old, next PackageStatus) bool {
	return old == PackageDraft && next == PackageTBS
}

// CanTransitionProposal reports whether a response may move from old to new.
// approved and rejected are terminal; returned reopens to received when the
// proposer resubmits the same uuid.
func CanTransitionProposal(old, next ProposalStatus) bool {
	switch old {
	case ProposalReceived:
		return next == ProposalUnderReview || next == ProposalApproved ||
			next == ProposalRejected || next == ProposalReturned
	case ProposalUnderReview:
		return next == ProposalApproved || next == ProposalRejected || next == ProposalReturned
	case ProposalReturned:
		return next == ProposalReceived
	}
	return false
}

// StatusForDecision maps a reviewer decision to the status it produces.
func StatusForDecision(d Decision) (ProposalStatus, bool) {
	switch d {
	case DecisionApprove:
		return ProposalApproved, true
	case DecisionReject:
		return ProposalRejected, true
	case DecisionReturn:
		return ProposalReturned, true
	}
	return "", false
}

// Terminal reports whether a proposal status accepts no further writes.
func Terminal(s ProposalStatus) bool {
	return s == ProposalApproved || s == ProposalRejected
}
