package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default("amani-clinic", RoleProposer)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Site.ID != "amani-clinic" || cfg.Site.Role != RoleProposer {
		t.Fatalf("unexpected site fields: %+v", cfg.Site)
	}
	if cfg.Reviewer.URL == "" {
		t.Fatalf("default proposer config needs reviewer url")
	}
}

func TestValidateRejectsBadRole(t *testing.T) {
	cfg := Default("site", RoleReviewer)
	cfg.Site.Role = "curator"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected role error")
	}
}

func TestValidateRequiresReviewerURLForProposer(t *testing.T) {
	cfg := Default("site", RoleProposer)
	cfg.Reviewer.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected reviewer url error")
	}
	cfg.Site.Role = RoleReviewer
	if err := cfg.Validate(); err != nil {
		t.Fatalf("reviewer site should not need a reviewer url: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	raw := []byte(`site:
  id: central-dictionary
  role: reviewer
webhooks:
  - url: http://proposer.example.org/hooks/termbridge
    events: [review.approved, review.rejected, review.returned]
`)
	cfg, err := FromYAML(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 1 || len(cfg.Webhooks[0].Events) != 3 {
		t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
	}
}

func TestFromYAMLRejectsEmptyWebhookURL(t *testing.T) {
	raw := []byte(`site:
  id: s
  role: reviewer
webhooks:
  - events: [review.approved]
`)
	if _, err := FromYAML(raw); err == nil {
		t.Fatalf("expected webhook url error")
	}
}
