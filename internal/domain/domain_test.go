package domain

import "testing"

func TestPackageTransitions(t *testing.T) {
	cases := []struct {
		from, to PackageStatus
		ok       bool
	}{
		{PackageDraft, PackageDraft, true},
		{PackageDraft, PackageTBS, true},
		{PackageDraft, PackageSubmitted, false},
		{PackageDraft, PackageClosed, false},
		{PackageTBS, PackageSubmitted, true},
		{PackageTBS, PackageDraft, false},
		{PackageSubmitted, PackageClosed, true},
		{PackageSubmitted, PackageDraft, true}, // reviewer-return reopen
		{PackageSubmitted, PackageTBS, false},
		{PackageClosed, PackageDraft, false},
	}
	for _, c := range cases {
		if got := CanTransitionPackage(c.from, c.to); got != c.ok {
			t.Errorf("CanTransitionPackage(%s,%s)=%v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestSubmissionDueOnlyOnDraftToTBS(t *testing.T) {
	if !SubmissionDue(PackageDraft, PackageTBS) {
		t.Fatalf("draft->tbs should trigger submission")
	}
	for _, c := range []struct{ from, to PackageStatus }{
		{PackageDraft, PackageDraft},
		{PackageTBS, PackageTBS},
		{PackageSubmitted, PackageSubmitted},
		{PackageTBS, PackageSubmitted},
	} {
		if SubmissionDue(c.from, c.to) {
			t.Errorf("SubmissionDue(%s,%s) should be false", c.from, c.to)
		}
	}
}

func TestProposalTransitions(t *testing.T) {
	cases := []struct {
		from, to ProposalStatus
		ok       bool
	}{
		{ProposalReceived, ProposalUnderReview, true},
		{ProposalReceived, ProposalApproved, true},
		{ProposalReceived, ProposalRejected, true},
		{ProposalReceived, ProposalReturned, true},
		{ProposalUnderReview, ProposalApproved, true},
		{ProposalUnderReview, ProposalReceived, false},
		{ProposalReturned, ProposalReceived, true},
		{ProposalReturned, ProposalApproved, false},
		{ProposalApproved, ProposalApproved, false},
		{ProposalApproved, ProposalReturned, false},
		{ProposalRejected, ProposalReceived, false},
	}
	for _, c := range cases {
		if got := CanTransitionProposal(c.from, c.to); got != c.ok {
			t.Errorf("CanTransitionProposal(%s,%s)=%v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStatusForDecision(t *testing.T) {
	if s, ok := StatusForDecision(DecisionApprove); !ok || s != ProposalApproved {
		t.Fatalf("approve -> %s", s)
	}
	if s, ok := StatusForDecision(DecisionReject); !ok || s != ProposalRejected {
		t.Fatalf("reject -> %s", s)
	}
	if s, ok := StatusForDecision(DecisionReturn); !ok || s != ProposalReturned {
		t.Fatalf("return -> %s", s)
	}
	if _, ok := StatusForDecision(Decision("escalate")); ok {
		t.Fatalf("unknown decision accepted")
	}
}
