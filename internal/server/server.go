package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"openeconomy/internal/app"
	"openeconomy/internal/domain"
	"openeconomy/internal/metrics"
	"openeconomy/internal/migrate"
	"openeconomy/internal/model"
	"openeconomy/internal/reasoning"
	"openeconomy/internal/repo"
	"openeconomy/internal/scenario"
)

// PermRunsWrite allows executing scenarios through the API.
const PermRunsWrite = "runs.write"

// Config for the HTTP API handler.
type Config struct {
	Workspace *app.Workspace
	// Metrics is served at <base>/metrics when set.
	Metrics  *metrics.Collector
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"unknown rule: compute_profit"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"registry.write\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type service struct {
	ws     *app.Workspace
	logger *zap.Logger
}

// New returns an HTTP handler exposing the OpenEconomy API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Workspace == nil {
		return nil, errors.New("server: workspace required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("OpenEconomy API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{ws: cfg.Workspace, logger: logger}
	registerDocs(router, basePath)
	registerHealth(group, s)
	registerRuns(group, s)
	registerLabels(group, s)
	registerEvents(group, s)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle(path.Join(basePath, "metrics"), cfg.Metrics.Handler())
	}

	return router, nil
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

func (s *service) fail(err error) huma.StatusError {
	se := handleError(err)
	if se != nil && se.GetStatus() >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	return se
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var nf model.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case errors.Is(err, model.ErrDuplicate), errors.Is(err, scenario.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "unsupported reference kind"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "compile formula"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "evaluate formula"):
		return newAPIError(http.StatusUnprocessableEntity, "evaluation_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(ApiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>OpenEconomy API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		version, err := migrate.Version(ctx, s.ws.Repo.DB)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", SchemaVersion: version}}, nil
	})
}

type runPath struct {
	RunID string `path:"run_id" doc:"Run id, or latest"`
}

func (s *service) load(ctx context.Context, runID string) (app.LoadedRun, error) {
	if runID == "latest" {
		return s.ws.Latest(ctx)
	}
	return s.ws.Load(ctx, runID)
}

func registerRuns(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List stored runs, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body RunList `json:"body"`
	}, error) {
		runs, err := s.ws.Repo.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body RunList `json:"body"`
		}{Body: RunList{Items: runs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Execute a scenario and store the run",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Scenario string `json:"scenario" minLength:"1" doc:"Scenario document (YAML)"`
		}
	}) (*struct {
		Body RunRecordResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, PermRunsWrite)
		if err != nil {
			return nil, s.fail(err)
		}
		res, err := s.ws.Execute(ctx, []byte(input.Body.Scenario), principal.ActorID)
		if errors.Is(err, model.ErrNotFound) {
			// An act naming a missing rule or constraint is a bad document, not a missing resource.
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
		}
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body RunRecordResponse `json:"body"`
		}{Body: runRecordResponse(res.Run, res.Record)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Run with its execution record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body RunRecordResponse `json:"body"`
	}, error) {
		loaded, err := s.load(ctx, input.RunID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body RunRecordResponse `json:"body"`
		}{Body: runRecordResponse(loaded.Run, loaded.Record)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-report",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/report",
		Summary:     "Reasoning report rendered with current labels",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body reasoning.Report `json:"body"`
	}, error) {
		loaded, err := s.load(ctx, input.RunID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body reasoning.Report `json:"body"`
		}{Body: loaded.View().Report()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-text",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/text",
		Summary:     "Human readable execution record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		loaded, err := s.load(ctx, input.RunID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(loaded.Record.HumanReadable(loaded.Spec) + "\n"),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "explain-entry",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/entries/{entry_id}/explain",
		Summary:     "Explain one record entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID   string `path:"run_id"`
		EntryID string `path:"entry_id" doc:"<act id>:<rule id>"`
	}) (*struct {
		Body ExplainResponse `json:"body"`
	}, error) {
		loaded, err := s.load(ctx, input.RunID)
		if err != nil {
			return nil, s.fail(err)
		}
		text, err := loaded.View().ExplainEntry(input.EntryID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body ExplainResponse `json:"body"`
		}{Body: ExplainResponse{EntryID: input.EntryID, Text: text}}, nil
	})
}

func registerLabels(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "rename-label",
		Method:      http.MethodPost,
		Path:        "/labels/{kind}/{id}",
		Summary:     "Rename a parameter, rule, constraint or metric",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind" enum:"parameter,rule,constraint,metric"`
		ID   string `path:"id"`
		Body RenameRequest
	}) (*struct {
		Body domain.LabelOverride `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, PermRegistryWrite)
		if err != nil {
			return nil, s.fail(err)
		}
		override, err := s.ws.Rename(ctx, input.Body.RunID, domain.ReferenceKind(input.Kind), input.ID, input.Body.Label, principal.ActorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.LabelOverride `json:"body"`
		}{Body: override}, nil
	})
}

func registerEvents(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"run,parameter,rule,constraint,metric"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := s.ws.Repo.LatestEvents(ctx, limit+1, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
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
