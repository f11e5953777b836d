package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/engine/capacity"
	"crewline/internal/notify"
	"crewline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	Auth       AuthConfig
	Dispatcher *notify.Dispatcher
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"capacity_exceeded"`
	Message string         `json:"message" example:"seats limit reached (5 of 5 used)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"used\":5,\"limit\":5}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Crewline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
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

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Crewline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTenants(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine, cfg.Dispatcher)
	registerBids(group, cfg.Engine, cfg.Dispatcher)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	if cfg.Dispatcher != nil {
		cfg.Dispatcher.Start()
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var le capacity.LimitError
	if errors.As(err, &le) {
		return newAPIError(http.StatusPaymentRequired, "capacity_exceeded", err.Error(),
			map[string]any{"resource": le.Resource, "used": le.Used, "limit": le.Limit})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var se engine.InvalidStateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), nil)
	}
	var fe engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusPaymentRequired:
		return "capacity_exceeded"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusPaymentRequired,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
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

func registerTenants(api huma.API, e engine.Engine) {
	type TenantPath struct {
		TenantID string `path:"tenant_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create tenant",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTenantRequest `json:"body"`
	}) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor := engine.Actor{ID: p.ActorID, Name: p.Name, Email: p.Email, Superuser: p.Superuser}
		t, err := e.CreateTenant(ctx, input.Body.ID, input.Body.Name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}",
		Summary:     "Get tenant",
	}, func(ctx context.Context, input *TenantPath) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTenant(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tenant `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		ts, err := e.Repo.ListTenants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Tenant `json:"body"`
		}{Body: ts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quota",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/quota",
		Summary:     "Get tenant quota",
	}, func(ctx context.Context, input *TenantPath) (*struct {
		Body domain.Quota `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		q, err := e.Repo.GetQuota(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quota `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-quota",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/quota",
		Summary:     "Set tenant quota",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantPath
		Body QuotaRequest `json:"body"`
	}) (*struct {
		Body domain.Quota `json:"body"`
	}, error) {
		actor, authErr := actorForTenant(ctx, e, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.Superuser && !actor.Role.AtLeast(domain.RoleOrgAdmin) {
			return nil, handleError(engine.ForbiddenError{Msg: "setting quotas requires at least the org_admin role"})
		}
		q := domain.Quota{
			TenantID:           input.TenantID,
			SeatsLimit:         input.Body.SeatsLimit,
			PublicListingLimit: input.Body.PublicListingLimit,
		}
		if err := e.Repo.UpsertQuota(ctx, q); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quota `json:"body"`
		}{Body: q}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	type TenantPath struct {
		TenantID string `path:"tenant_id"`
	}
	type memberPath struct {
		TenantID string `path:"tenant_id"`
		Email    string `path:"email"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "invite-member",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/members",
		Summary:       "Invite member",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantPath
		Body InviteMemberRequest `json:"body"`
	}) (*struct {
		Body domain.Membership `json:"body"`
	}, error) {
		actor, authErr := actorForTenant(ctx, e, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		m, err := e.InviteMember(ctx, input.TenantID, input.Body.Email, input.Body.Name, role, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Membership `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/members",
		Summary:     "List members",
	}, func(ctx context.Context, input *TenantPath) (*struct {
		Body []domain.Membership `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		ms, err := e.Repo.ListMemberships(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Membership `json:"body"`
		}{Body: ms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-member",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/members/{email}/activate",
		Summary:     "Activate member",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *memberPath) (*struct {
		Body domain.Membership `json:"body"`
	}, error) {
		actor, authErr := actorForTenant(ctx, e, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ActivateMember(ctx, input.TenantID, input.Email, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Membership `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-member",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/members/{email}/deactivate",
		Summary:     "Deactivate member",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *memberPath) (*struct {
		Body domain.Membership `json:"body"`
	}, error) {
		actor, authErr := actorForTenant(ctx, e, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.DeactivateMember(ctx, input.TenantID, input.Email, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Membership `json:"body"`
		}{Body: m}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" || input.Body.Email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and email are required", nil)
		}
		if input.Body.ProfileType != domain.ProfileContractor && input.Body.ProfileType != domain.ProfileStaff {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown profile type", nil)
		}
		u := domain.User{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Email:       input.Body.Email,
			ProfileType: input.Body.ProfileType,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine, d *notify.Dispatcher) {
	type WorkOrderPath struct {
		WorkOrderID string `path:"work_order_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-work-order",
		Method:        http.MethodPost,
		Path:          "/workorders",
		Summary:       "Create work order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actor, authErr := actorForTenant(ctx, e, input.Body.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.Superuser && !actor.Role.AtLeast(domain.RoleManager) {
			return nil, handleError(engine.ForbiddenError{Msg: "creating work orders requires at least the manager role"})
		}
		w, err := e.CreateWorkOrder(ctx, engine.WorkOrderCreateOptions{
			ID:          input.Body.ID,
			TenantID:    input.Body.TenantID,
			ProjectID:   input.Body.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			DueDate:     input.Body.DueDate,
			Budget:      input.Body.Budget,
			Currency:    input.Body.Currency,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/workorders/{work_order_id}",
		Summary:     "Get work order",
	}, func(ctx context.Context, input *WorkOrderPath) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkOrder(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/workorders",
		Summary:     "List work orders",
	}, func(ctx context.Context, input *struct {
		TenantID   string `query:"tenant_id"`
		Status     string `query:"status"`
		Visibility string `query:"visibility"`
		ExecutorID string `query:"executor_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.WorkOrder `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		ws, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
			TenantID:   input.TenantID,
			Status:     input.Status,
			Visibility: input.Visibility,
			ExecutorID: input.ExecutorID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkOrder `json:"body"`
		}{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order",
		Method:      http.MethodPatch,
		Path:        "/workorders/{work_order_id}",
		Summary:     "Update work order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderPath
		Body UpdateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actor, authErr := workOrderActor(ctx, e, input.WorkOrderID)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApplyTransition(ctx, input.WorkOrderID, input.Body.change(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		notifyTransition(ctx, e, d, res)
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: res.WorkOrder}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-work-order",
		Method:      http.MethodPatch,
		Path:        "/workorders/{work_order_id}/publish",
		Summary:     "Publish or unpublish work order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderPath
		Body PublishRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actor, authErr := workOrderActor(ctx, e, input.WorkOrderID)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetVisibility(ctx, input.WorkOrderID, input.Body.change(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-order-events",
		Method:      http.MethodGet,
		Path:        "/workorders/{work_order_id}/events",
		Summary:     "Work order event log",
	}, func(ctx context.Context, input *WorkOrderPath) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorkOrder(ctx, input.WorkOrderID); err != nil {
			return nil, handleError(err)
		}
		evts, err := e.Repo.ListEvents(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

// notifyTransition fans lifecycle signals out to the hooks. Fire and forget:
// lookup failures are logged and the response is never affected.
func notifyTransition(ctx context.Context, e engine.Engine, d *notify.Dispatcher, res engine.TransitionResult) {
	if d == nil {
		return
	}
	w := res.WorkOrder
	payload := map[string]any{"work_order_id": w.ID, "status": w.Status}
	if res.NotifyExecutor && w.ExecutorEmail != "" {
		d.Notify(domain.EventTaskAssigned, []string{w.ExecutorEmail}, payload)
	}
	if res.DecisionOutcome == "" && !res.ReportFiled {
		return
	}
	tenantID := ""
	if w.TenantID != nil {
		tenantID = *w.TenantID
	}
	recipients, err := managerEmails(ctx, e, tenantID)
	if err != nil {
		log.Printf("notify: list managers for %s: %v", w.ID, err)
		return
	}
	event := domain.EventStatusChanged
	switch res.DecisionOutcome {
	case engine.DecisionAccept:
		event = domain.EventTaskAccepted
	case engine.DecisionReject:
		event = domain.EventTaskRejected
	}
	d.Notify(event, recipients, payload)
}

func managerEmails(ctx context.Context, e engine.Engine, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, nil
	}
	ms, err := e.Repo.ListMemberships(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, m := range ms {
		if m.Status == domain.MemberActive && m.Role.AtLeast(domain.RoleManager) {
			emails = append(emails, m.Email)
		}
	}
	return emails, nil
}

// workOrderActor resolves the caller's role from the work order's tenant.
func workOrderActor(ctx context.Context, e engine.Engine, workOrderID string) (engine.Actor, huma.StatusError) {
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return engine.Actor{}, handleError(err)
	}
	tenantID := ""
	if w.TenantID != nil {
		tenantID = *w.TenantID
	}
	return actorForTenant(ctx, e, tenantID)
}

func registerBids(api huma.API, e engine.Engine, d *notify.Dispatcher) {
	type WorkOrderPath struct {
		WorkOrderID string `path:"work_order_id"`
	}
	type BidPath struct {
		WorkOrderID string `path:"work_order_id"`
		BidID       string `path:"bid_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "submit-bid",
		Method:        http.MethodPost,
		Path:          "/workorders/{work_order_id}/bids",
		Summary:       "Submit bid",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderPath
		Body SubmitBidRequest `json:"body"`
	}) (*struct {
		Body domain.Bid `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor := engine.Actor{ID: p.ActorID, Name: p.Name, Email: p.Email, Superuser: p.Superuser}
		b, err := e.SubmitBid(ctx, input.WorkOrderID, p.ActorID, engine.BidSubmission{
			CoverMessage:   input.Body.CoverMessage,
			ProposedBudget: input.Body.ProposedBudget,
			ETADays:        input.Body.ETADays,
			Attachments:    input.Body.Attachments,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bid `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/workorders/{work_order_id}/bids",
		Summary:     "List bids",
	}, func(ctx context.Context, input *WorkOrderPath) (*struct {
		Body []domain.Bid `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorkOrder(ctx, input.WorkOrderID); err != nil {
			return nil, handleError(err)
		}
		bs, err := e.Repo.ListBidsForWorkOrder(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Bid `json:"body"`
		}{Body: bs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-bid",
		Method:      http.MethodPatch,
		Path:        "/workorders/{work_order_id}/bids/{bid_id}",
		Summary:     "Accept, reject or withdraw a bid",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		BidPath
		Body BidActionRequest `json:"body"`
	}) (*struct {
		Body AcceptBidResponse `json:"body"`
	}, error) {
		actor, authErr := workOrderActor(ctx, e, input.WorkOrderID)
		if authErr != nil {
			return nil, authErr
		}
		switch input.Body.Action {
		case "accept":
			res, err := e.AcceptBid(ctx, input.WorkOrderID, input.BidID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			if d != nil && res.NotifyExecutor && res.Bid.ContractorEmail != "" {
				d.Notify(domain.EventBidAccepted, []string{res.Bid.ContractorEmail},
					map[string]any{"work_order_id": res.WorkOrder.ID, "status": res.WorkOrder.Status})
			}
			return &struct {
				Body AcceptBidResponse `json:"body"`
			}{Body: AcceptBidResponse{WorkOrder: res.WorkOrder, Bid: res.Bid, Membership: res.Membership}}, nil
		case "reject":
			b, err := e.RejectBid(ctx, input.WorkOrderID, input.BidID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body AcceptBidResponse `json:"body"`
			}{Body: AcceptBidResponse{Bid: b}}, nil
		case "withdraw":
			b, err := e.WithdrawBid(ctx, input.BidID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body AcceptBidResponse `json:"body"`
			}{Body: AcceptBidResponse{Bid: b}}, nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown action %q", input.Body.Action), nil)
		}
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-bid",
		Method:        http.MethodDelete,
		Path:          "/workorders/{work_order_id}/bids/{bid_id}",
		Summary:       "Delete bid",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *BidPath) (*struct{}, error) {
		actor, authErr := workOrderActor(ctx, e, input.WorkOrderID)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteBid(ctx, input.BidID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Delete API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development JWT",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := issueJWT(cfg.JWTSecret, input.Body.ActorID, input.Body.Email, input.Body.Name, input.Body.Superuser, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]struct{}{
		path.Join(basePath, "health"):         {},
		path.Join(basePath, "auth/dev/login"): {},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, ok := open[route]; ok {
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
    <title>Crewline API Docs</title>
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
