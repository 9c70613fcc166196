package dictionary

import (
	"context"
	"errors"

	"termbridge/internal/domain"
	"termbridge/internal/repo"
)

// Service resolves concept references against the authoritative dictionary.
// The core only needs lookup and search; storage and indexing of the
// dictionary itself live elsewhere.
type Service interface {
	Lookup(ctx context.Context, uuid string) (domain.Concept, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Concept, error)
}

// Local serves concepts from the site's imported dictionary cache.
type Local struct {
	Repo repo.Repo
}

func (l Local) Lookup(ctx context.Context, uuid string) (domain.Concept, error) {
	c, err := l.Repo.GetConcept(ctx, uuid)
	if errors.Is(err, repo.ErrNotFound) {
		return c, domain.ValidationError{Field: "concept_uuid", Reason: "unknown concept " + uuid}
	}
	return c, err
}

func (l Local) Search(ctx context.Context, query string, limit int) ([]domain.Concept, error) {
	return l.Repo.SearchConcepts(ctx, query, limit)
}
