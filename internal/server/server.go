package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"termbridge/internal/config"
	"termbridge/internal/domain"
	"termbridge/internal/engine"
	"termbridge/internal/repo"
	"termbridge/internal/transport"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Site     *config.Config
	BasePath string
	Auth     AuthConfig

	// Ctx bounds background work such as the webhook dispatcher; when it is
	// canceled the dispatcher goroutine exits. Nil means context.Background.
	Ctx context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"version conflict"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"email\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the termbridge API. Which surfaces
// are mounted depends on the site role: a proposer gets the package API, a
// reviewer gets the inbox and review API, a both-site gets everything.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Termbridge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerConcepts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if proposerSide(cfg.Site) {
		registerPackages(group, cfg.Engine)
	}
	if reviewerSide(cfg.Site) {
		registerInbox(group, cfg.Engine)
		registerResponses(group, cfg.Engine)
	}
	registerOpenAPI(router, api, basePath)

	dispatchCtx := cfg.Ctx
	if dispatchCtx == nil {
		dispatchCtx = context.Background()
	}
	startWebhookDispatcher(dispatchCtx, cfg.Engine, cfg.Site)

	return router, nil
}

func proposerSide(site *config.Config) bool {
	return site == nil || site.Site.Role != config.RoleReviewer
}

func reviewerSide(site *config.Config) bool {
	return site == nil || site.Site.Role != config.RoleProposer
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": verr.Field})
	}
	var terr domain.TransitionError
	if errors.As(err, &terr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": terr.From, "to": terr.To})
	}
	var derr *transport.Error
	if errors.As(err, &derr) {
		return newAPIError(http.StatusBadGateway, "delivery_failed", err.Error(), nil)
	}
	switch {
	case errors.Is(err, repo.ErrVersionConflict):
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrAmbiguousUUID):
		return newAPIError(http.StatusInternalServerError, "data_integrity", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "delivery_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Termbridge API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Site status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		packages, err := e.Repo.CountPackagesByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		responses, err := e.Repo.CountResponsesByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			SiteID:    e.SiteID,
			Packages:  packages,
			Responses: responses,
		}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerPackages(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-package",
		Method:        http.MethodPost,
		Path:          "/packages",
		Summary:       "Create proposal package",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePackageRequest `json:"body"`
	}) (*struct {
		Body PackageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pkg, err := e.AddPackage(ctx, actorID, engine.PackageDraft{
			Name:        input.Body.Name,
			Email:       input.Body.Email,
			Description: stringOrEmpty(input.Body.Description),
			Status:      domain.PackageStatus(input.Body.Status),
			Concepts:    conceptDrafts(input.Body.Concepts),
		})
		if err != nil {
			// A delivery failure still saved the package; surface both.
			var derr *transport.Error
			if errors.As(err, &derr) && pkg.ID != "" {
				return nil, newAPIError(http.StatusBadGateway, "delivery_failed", err.Error(), map[string]any{"package_id": pkg.ID, "status": string(pkg.Status)})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body PackageResponse `json:"body"`
		}{Body: packageResponse(pkg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-packages",
		Method:      http.MethodGet,
		Path:        "/packages",
		Summary:     "List proposal packages",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedPackages `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListPackages(ctx, repo.PackageFilters{
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPackages{Items: []PackageResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapPackages(items)
		return &struct {
			Body paginatedPackages `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-package",
		Method:      http.MethodGet,
		Path:        "/packages/{id}",
		Summary:     "Get proposal package",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PackageResponse `json:"body"`
	}, error) {
		pkg, err := e.Repo.GetPackage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PackageResponse `json:"body"`
		}{Body: packageResponse(pkg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-package",
		Method:      http.MethodPatch,
		Path:        "/packages/{id}",
		Summary:     "Update proposal package",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdatePackageRequest `json:"body"`
	}) (*struct {
		Body PackageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pkg, err := e.UpdatePackage(ctx, actorID, input.ID, engine.PackageUpdate{
			Name:        input.Body.Name,
			Email:       input.Body.Email,
			Description: stringOrEmpty(input.Body.Description),
			Status:      domain.PackageStatus(input.Body.Status),
			Concepts:    conceptDrafts(input.Body.Concepts),
			Version:     input.Body.Version,
		})
		if err != nil {
			var derr *transport.Error
			if errors.As(err, &derr) && pkg.ID != "" {
				return nil, newAPIError(http.StatusBadGateway, "delivery_failed", err.Error(), map[string]any{"package_id": pkg.ID, "status": string(pkg.Status)})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body PackageResponse `json:"body"`
		}{Body: packageResponse(pkg)}, nil
	})

	registerPackageAction(api, "submit-package", "submit", "Send or resend a package to the reviewer", e.SubmitPackage)
	registerPackageAction(api, "close-package", "close", "Archive a submitted package", e.ClosePackage)
	registerPackageAction(api, "reopen-package", "reopen", "Reopen a submitted package as draft", e.ReopenPackage)
}

func registerPackageAction(api huma.API, opID, action, summary string, fn func(context.Context, string, string) (domain.Package, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/packages/{id}/" + action,
		Summary:     summary,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PackageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pkg, err := fn(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PackageResponse `json:"body"`
		}{Body: packageResponse(pkg)}, nil
	})
}

func registerInbox(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "receive-submission",
		Method:        http.MethodPost,
		Path:          "/inbox/submissions",
		Summary:       "Receive a proposal submission",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body domain.Submission `json:"body"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		responses, err := e.ReceiveSubmission(ctx, actorID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: mapResponses(responses)}, nil
	})
}

func registerResponses(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-responses",
		Method:      http.MethodGet,
		Path:        "/responses",
		Summary:     "List proposal responses",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedResponses `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListResponses(ctx, repo.ResponseFilters{
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedResponses{Items: []ReviewResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapResponses(items)
		return &struct {
			Body paginatedResponses `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-response",
		Method:      http.MethodGet,
		Path:        "/responses/{id}",
		Summary:     "Get proposal response",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		resp, err := e.Repo.GetResponse(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(resp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "begin-review",
		Method:      http.MethodPost,
		Path:        "/responses/{id}/review",
		Summary:     "Mark a response under review",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.BeginReview(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(resp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-response",
		Method:      http.MethodPost,
		Path:        "/responses/{id}/decision",
		Summary:     "Record a review decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.ApplyDecision(ctx, actorID, input.ID, domain.Decision(input.Body.Decision), input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(resp)}, nil
	})
}

func registerConcepts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "search-concepts",
		Method:      http.MethodGet,
		Path:        "/concepts",
		Summary:     "Search the dictionary cache",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []ConceptResponse `json:"body"`
	}, error) {
		items, err := e.Dict.Search(ctx, input.Query, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ConceptResponse `json:"body"`
		}{Body: mapConcepts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-concept",
		Method:      http.MethodGet,
		Path:        "/concepts/{uuid}",
		Summary:     "Get a dictionary concept",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct {
		Body ConceptResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetConcept(ctx, input.UUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConceptResponse `json:"body"`
		}{Body: conceptResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-concept",
		Method:      http.MethodPut,
		Path:        "/concepts/{uuid}",
		Summary:     "Import or update a dictionary concept",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UUID string               `path:"uuid"`
		Body UpsertConceptRequest `json:"body"`
	}) (*struct {
		Body ConceptResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		c := domain.Concept{
			UUID:        input.UUID,
			Name:        input.Body.Name,
			Datatype:    input.Body.Datatype,
			Description: input.Body.Description,
		}
		if err := e.Repo.UpsertConcept(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConceptResponse `json:"body"`
		}{Body: conceptResponse(c)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
