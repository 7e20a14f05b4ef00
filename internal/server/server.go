package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/logger"
	"portcall/internal/repo"
)

// ActorHeader carries the identity recorded on every write. There is no authentication.
const ActorHeader = "X-Actor-Id"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"OUTSIDE_TIME_WINDOW"`
	Message string         `json:"message" example:"task can only start inside its time window"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"codes\":[\"CRANE_OVERLAP\"]}"`
}

type actorKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the port-call API.
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	log := logger.OrNop(cfg.Engine.Logger).Named("http")
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(observeRequests(cfg.Engine, log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(ActorHeader))
			ctx := context.WithValue(r.Context(), actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Port Call API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerMetrics(router, cfg.Engine)
	registerHealth(group)
	registerVisits(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// observeRequests records one histogram sample per request under its route pattern.
func observeRequests(e engine.Engine, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			e.Metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), time.Since(start))
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
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

// handleError maps engine errors onto the API envelope. Anything unexpected is logged and
// answered without detail.
func handleError(e engine.Engine, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var rule *domain.RuleError
	if errors.As(err, &rule) {
		status := http.StatusUnprocessableEntity
		if rule.Code == domain.CodeInvalidExecutionCode || rule.Code == domain.CodeInvalidTaskCode {
			status = http.StatusBadRequest
		}
		return newAPIError(status, rule.Code, rule.Error(), nil)
	}
	var f *domain.Failure
	if errors.As(err, &f) {
		switch f.Kind {
		case domain.FailureNotFound:
			return newAPIError(http.StatusNotFound, "not_found", f.Message, nil)
		case domain.FailureInvalid:
			return newAPIError(http.StatusBadRequest, "bad_request", f.Message, nil)
		case domain.FailureDuplicate:
			return newAPIError(http.StatusConflict, "duplicate", f.Message, nil)
		case domain.FailureVersionConflict:
			return newAPIError(http.StatusConflict, "version_conflict", f.Message, nil)
		case domain.FailureBlocked:
			return newAPIError(http.StatusConflict, "revision_blocked", f.Message, map[string]any{
				"codes":   f.Codes,
				"reports": f.Reports,
			})
		}
	}
	logger.OrNop(e.Logger).Named("http").Error("request failed", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// actorIDFromContext returns the caller identity, required on every write.
func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if actor, _ := ctx.Value(actorKey{}).(string); actor != "" {
		return actor, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", ActorHeader+" header required", nil)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerMetrics(r chi.Router, e engine.Engine) {
	if e.Metrics == nil {
		return
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(e.Metrics.Registry, promhttp.HandlerOpts{}))
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Port Call API Docs</title>
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
      Identify yourself on writes with the %s header.
    </p>
  </body>
</html>`, specURL, ActorHeader)
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

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerVisits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-visit",
		Method:        http.MethodPost,
		Path:          "/visits",
		Summary:       "Register a planned visit",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterVisitRequest `json:"body"`
	}) (*struct {
		Body domain.Visit `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.RegisterVisit(ctx, engine.RegisterVisitOptions{
			ID:               input.Body.ID,
			VesselID:         input.Body.VesselID,
			PlannedArrival:   input.Body.PlannedArrival,
			PlannedDeparture: input.Body.PlannedDeparture,
			DockID:           input.Body.DockID,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body domain.Visit `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-visits",
		Method:      http.MethodGet,
		Path:        "/visits",
		Summary:     "List planned visits",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Visit `json:"body"`
	}, error) {
		items, err := e.ListVisits(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body []domain.Visit `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-visit",
		Method:      http.MethodGet,
		Path:        "/visits/{visit_id}",
		Summary:     "Get a planned visit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VisitID string `path:"visit_id"`
	}) (*struct {
		Body domain.Visit `json:"body"`
	}, error) {
		v, err := e.GetVisit(ctx, input.VisitID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body domain.Visit `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-categories",
		Method:      http.MethodGet,
		Path:        "/task-categories",
		Summary:     "List task categories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TaskCategory `json:"body"`
	}, error) {
		items, err := e.ListTaskCategories(ctx)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body []domain.TaskCategory `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

type executionBody struct {
	Body domain.ExecutionSnapshot `json:"body"`
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-execution",
		Method:        http.MethodPost,
		Path:          "/executions",
		Summary:       "Open the execution record of a visit",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateExecutionRequest `json:"body"`
	}) (*executionBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.CreateExecution(ctx, engine.CreateExecutionOptions{
			VisitID:       input.Body.VisitID,
			ActualArrival: input.Body.ActualArrival,
			CreatorID:     actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &executionBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/executions",
		Summary:     "List visit executions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"InProgress,Completed"`
		VesselID string `query:"vessel_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedExecutions `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListExecutions(ctx, repo.ExecutionFilters{
			Status:          input.Status,
			VesselID:        input.VesselID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		resp := paginatedExecutions{Items: []domain.ExecutionSnapshot{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt.UTC().Format(time.RFC3339), last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedExecutions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{execution}",
		Summary:     "Get a visit execution by id or code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Execution string `path:"execution"`
	}) (*executionBody, error) {
		snap, err := e.GetExecution(ctx, input.Execution)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &executionBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-execution-berth",
		Method:      http.MethodPut,
		Path:        "/executions/{execution}/berth",
		Summary:     "Record berth time and dock",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Execution string           `path:"execution"`
		Body      BerthDockRequest `json:"body"`
	}) (*executionBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.UpdateBerthAndDock(ctx, engine.BerthDockOptions{
			ExecutionID: input.Execution,
			BerthTime:   input.Body.BerthTime,
			DockID:      input.Body.DockID,
			Note:        input.Body.Note,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &executionBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-executed-operations",
		Method:      http.MethodPut,
		Path:        "/executions/{execution}/operations",
		Summary:     "Record executed operations",
		Description: "Entries are merged by planned operation id; the facts are mirrored onto every plan holding the visit.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Execution string                    `path:"execution"`
		Body      ExecutedOperationsRequest `json:"body"`
	}) (*executionBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.UpdateExecutedOperations(ctx, engine.ExecutedOperationsOptions{
			ExecutionID: input.Execution,
			Operations:  executedOperations(input.Body.Operations),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &executionBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{code}/complete",
		Summary:     "Complete a visit execution",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Code string                   `path:"code" example:"VVE2025000042"`
		Body CompleteExecutionRequest `json:"body"`
	}) (*executionBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.CompleteExecution(ctx, engine.CompleteExecutionOptions{
			Code:          input.Code,
			UnberthTime:   input.Body.UnberthTime,
			LeavePortTime: input.Body.LeavePortTime,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &executionBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-audit",
		Method:      http.MethodGet,
		Path:        "/executions/{execution}/audit",
		Summary:     "Audit log of a visit execution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Execution string `path:"execution"`
	}) (*struct {
		Body []domain.ExecutionAuditEntry `json:"body"`
	}, error) {
		items, err := e.ExecutionAudit(ctx, input.Execution)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body []domain.ExecutionAuditEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

type taskBody struct {
	Body domain.TaskSnapshot `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Schedule a complementary task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			CategoryCode: input.Body.Category,
			StaffID:      input.Body.StaffID,
			Start:        input.Body.Start,
			End:          input.Body.End,
			ExecutionID:  input.Body.ExecutionID,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &taskBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List complementary tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Execution string `query:"execution" doc:"Execution id or code"`
		Status    string `query:"status" enum:"Scheduled,InProgress,Completed"`
		StaffID   string `query:"staff_id"`
		Category  string `query:"category"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			ExecutionID:     input.Execution,
			Status:          input.Status,
			StaffID:         input.StaffID,
			CategoryCode:    strings.ToUpper(input.Category),
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		resp := paginatedTasks{Items: []domain.TaskSnapshot{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt.UTC().Format(time.RFC3339), last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{code}",
		Summary:     "Get a complementary task by code",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code" example:"MOOR[1]"`
	}) (*taskBody, error) {
		snap, err := e.GetTask(ctx, pathValue(input.Code))
		if err != nil {
			return nil, handleError(e, err)
		}
		return &taskBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{code}",
		Summary:     "Update a complementary task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Code string            `path:"code"`
		Body UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.UpdateTask(ctx, engine.UpdateTaskOptions{
			Code:         pathValue(input.Code),
			CategoryCode: input.Body.Category,
			StaffID:      input.Body.StaffID,
			Start:        input.Body.Start,
			End:          input.Body.End,
			ExecutionID:  input.Body.ExecutionID,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &taskBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{code}/status",
		Summary:     "Change the status of a complementary task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Code string            `path:"code"`
		Body TaskStatusRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.ChangeTaskStatus(ctx, engine.ChangeTaskStatusOptions{
			Code:    pathValue(input.Code),
			Status:  input.Body.Status,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &taskBody{Body: snap}, nil
	})
}

type planBody struct {
	Body domain.PlanSnapshot `json:"body"`
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-plan",
		Method:        http.MethodPost,
		Path:          "/plans",
		Summary:       "Import a generated operation plan",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ImportPlanRequest `json:"body"`
	}) (*planBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.ImportPlan(ctx, domain.PlanSnapshot{
			ID:         input.Body.ID,
			Algorithm:  input.Body.Algorithm,
			TotalDelay: input.Body.TotalDelay,
			Status:     domain.PlanStatus(input.Body.Status),
			PlanDate:   input.Body.PlanDate,
			Author:     actorID,
			Operations: operations(input.Body.Operations),
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return &planBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List operation plans",
	}, func(ctx context.Context, input *struct {
		Date  string `query:"date" doc:"Plan date, YYYY-MM-DD"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.PlanSnapshot `json:"body"`
	}, error) {
		items, err := e.ListPlans(ctx, input.Date, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body []domain.PlanSnapshot `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}",
		Summary:     "Get an operation plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*planBody, error) {
		snap, err := e.GetPlan(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &planBody{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revise-plan-visit",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/visits/{visit_ref}/revision",
		Summary:     "Revise a visit's operations",
		Description: "Replaces the visit's operations. Revisions with blocking conflicts are rejected with 409 and leave the plan unchanged.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		PlanID   string            `path:"plan_id"`
		VisitRef string            `path:"visit_ref"`
		Body     RevisePlanRequest `json:"body"`
	}) (*struct {
		Body ReviseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ReviseOptions{
			PlanID:     input.PlanID,
			VisitRef:   input.VisitRef,
			Operations: operations(input.Body.Operations),
			Reason:     input.Body.ReasonForChange,
			Author:     actorID,
		}
		if input.Body.Status != nil {
			status := domain.PlanStatus(*input.Body.Status)
			opts.Status = &status
		}
		res, err := e.ReviseForVisit(ctx, opts)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body ReviseResponse `json:"body"`
		}{Body: ReviseResponse{Plan: res.Plan, Warnings: nonNilSlice(res.Warnings)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-plan-revision",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/visits/{visit_ref}/revision/preview",
		Summary:     "Detect conflicts of a revision without saving it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID   string                 `path:"plan_id"`
		VisitRef string                 `path:"visit_ref"`
		Body     PreviewRevisionRequest `json:"body"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		reports, err := e.PreviewRevision(ctx, engine.ReviseOptions{
			PlanID:     input.PlanID,
			VisitRef:   input.VisitRef,
			Operations: operations(input.Body.Operations),
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		blocking := false
		for _, r := range reports {
			if r.Severity == domain.SeverityBlocking {
				blocking = true
			}
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: PreviewResponse{Reports: nonNilSlice(reports), Blocking: blocking}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-audit",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/audit",
		Summary:     "Revision audit log of a plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID   string `path:"plan_id"`
		VisitRef string `query:"visit_ref"`
	}) (*struct {
		Body []domain.PlanAuditEntry `json:"body"`
	}, error) {
		items, err := e.PlanAudit(ctx, input.PlanID, input.VisitRef)
		if err != nil {
			return nil, handleError(e, err)
		}
		return &struct {
			Body []domain.PlanAuditEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"execution,task,plan,visit"`
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
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
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

// pathValue undoes percent-encoding left on task codes such as MOOR%5B1%5D.
func pathValue(raw string) string {
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
