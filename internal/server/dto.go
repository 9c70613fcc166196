package server

import (
	"fmt"
	"strings"

	"termbridge/internal/domain"
	"termbridge/internal/engine"
)

type ConceptEntryRequest struct {
	ConceptUUID *string `json:"concept_uuid,omitempty"`
	Name        *string `json:"name,omitempty"`
	Comments    *string `json:"comments,omitempty"`
}

type CreatePackageRequest struct {
	Name        string                `json:"name"`
	Email       string                `json:"email"`
	Description *string               `json:"description,omitempty"`
	Status      string                `json:"status,omitempty" enum:",draft,tbs"`
	Concepts    []ConceptEntryRequest `json:"concepts"`
}

type UpdatePackageRequest struct {
	Name        string                `json:"name"`
	Email       string                `json:"email"`
	Description *string               `json:"description,omitempty"`
	Status      string                `json:"status,omitempty"`
	Concepts    []ConceptEntryRequest `json:"concepts,omitempty"`
	Version     int                   `json:"version"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approve,reject,return"`
	Comment  string `json:"comment,omitempty"`
}

type UpsertConceptRequest struct {
	Name        string `json:"name"`
	Datatype    string `json:"datatype,omitempty"`
	Description string `json:"description,omitempty"`
}

type ProposedConceptResponse struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	ConceptUUID string `json:"concept_uuid,omitempty"`
	Name        string `json:"name"`
	Comments    string `json:"comments,omitempty"`
	Position    int    `json:"position"`
}

type PackageResponse struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Email       string                    `json:"email"`
	Description string                    `json:"description,omitempty"`
	Status      string                    `json:"status"`
	Concepts    []ProposedConceptResponse `json:"concepts"`
	CreatedBy   string                    `json:"created_by"`
	CreatedAt   string                    `json:"created_at"`
	ChangedBy   string                    `json:"changed_by,omitempty"`
	ChangedAt   string                    `json:"changed_at,omitempty"`
	Version     int                       `json:"version"`
}

type ReviewResponse struct {
	ID           string `json:"id"`
	ProposalUUID string `json:"proposal_uuid"`
	Name         string `json:"name"`
	Comments     string `json:"comments,omitempty"`
	Status       string `json:"status"`
	SourceName   string `json:"source_name,omitempty"`
	SourceEmail  string `json:"source_email,omitempty"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
	ChangedBy    string `json:"changed_by,omitempty"`
	ChangedAt    string `json:"changed_at,omitempty"`
	Version      int    `json:"version"`
}

type ConceptResponse struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Datatype    string `json:"datatype,omitempty"`
	Description string `json:"description,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type StatusResponse struct {
	SiteID    string         `json:"site_id"`
	Packages  map[string]int `json:"packages"`
	Responses map[string]int `json:"responses"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type paginatedPackages struct {
	Items      []PackageResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedResponses struct {
	Items      []ReviewResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func conceptDrafts(in []ConceptEntryRequest) []engine.ConceptDraft {
	out := make([]engine.ConceptDraft, 0, len(in))
	for _, c := range in {
		out = append(out, engine.ConceptDraft{
			ConceptUUID: stringOrEmpty(c.ConceptUUID),
			Name:        stringOrEmpty(c.Name),
			Comments:    stringOrEmpty(c.Comments),
		})
	}
	return out
}

func packageResponse(p domain.Package) PackageResponse {
	concepts := make([]ProposedConceptResponse, 0, len(p.Concepts))
	for _, c := range p.Concepts {
		concepts = append(concepts, ProposedConceptResponse{
			ID:          c.ID,
			UUID:        c.UUID,
			ConceptUUID: c.ConceptUUID,
			Name:        c.Name,
			Comments:    c.Comments,
			Position:    c.Position,
		})
	}
	return PackageResponse{
		ID:          p.ID,
		Name:        p.Name,
		Email:       p.Email,
		Description: p.Description,
		Status:      string(p.Status),
		Concepts:    concepts,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		ChangedBy:   p.ChangedBy,
		ChangedAt:   p.ChangedAt,
		Version:     p.Version,
	}
}

func mapPackages(items []domain.Package) []PackageResponse {
	res := make([]PackageResponse, 0, len(items))
	for _, p := range items {
		res = append(res, packageResponse(p))
	}
	return res
}

func reviewResponse(r domain.Response) ReviewResponse {
	return ReviewResponse{
		ID:           r.ID,
		ProposalUUID: r.ProposalUUID,
		Name:         r.Name,
		Comments:     r.Comments,
		Status:       string(r.Status),
		SourceName:   r.SourceName,
		SourceEmail:  r.SourceEmail,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		ChangedBy:    r.ChangedBy,
		ChangedAt:    r.ChangedAt,
		Version:      r.Version,
	}
}

func mapResponses(items []domain.Response) []ReviewResponse {
	res := make([]ReviewResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reviewResponse(r))
	}
	return res
}

func conceptResponse(c domain.Concept) ConceptResponse {
	return ConceptResponse{
		UUID:        c.UUID,
		Name:        c.Name,
		Datatype:    c.Datatype,
		Description: c.Description,
	}
}

func mapConcepts(items []domain.Concept) []ConceptResponse {
	res := make([]ConceptResponse, 0, len(items))
	for _, c := range items {
		res = append(res, conceptResponse(c))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
