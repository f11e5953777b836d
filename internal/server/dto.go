package server

import (
	"crewline/internal/domain"
	"crewline/internal/engine"
)

type CreateTenantRequest struct {
	ID   string `json:"id" example:"acme"`
	Name string `json:"name" example:"Acme Facilities"`
}

type QuotaRequest struct {
	SeatsLimit         int `json:"seats_limit" minimum:"0"`
	PublicListingLimit int `json:"public_listing_limit" minimum:"0"`
}

type InviteMemberRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role" enum:"viewer,executor,manager,org_admin,owner"`
}

type CreateUserRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email" format:"email"`
	ProfileType string `json:"profile_type" enum:"contractor,staff"`
}

type CreateWorkOrderRequest struct {
	ID          string   `json:"id,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}

// UpdateWorkOrderRequest mirrors the lifecycle change surface: at most one
// rule-bearing field per request, plus plain field edits.
type UpdateWorkOrderRequest struct {
	ExecutorID  *string  `json:"executor_id,omitempty"`
	Decision    string   `json:"decision,omitempty" enum:",accept,reject"`
	Status      *string  `json:"status,omitempty"`
	ReportLink  *string  `json:"report_link,omitempty"`
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
}

func (r UpdateWorkOrderRequest) change() engine.Change {
	return engine.Change{
		ExecutorID:  r.ExecutorID,
		Decision:    r.Decision,
		Status:      r.Status,
		ReportLink:  r.ReportLink,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		DueDate:     r.DueDate,
		Budget:      r.Budget,
	}
}

type PublishRequest struct {
	Visibility        string   `json:"visibility" enum:"private,public"`
	PublicDescription *string  `json:"public_description,omitempty"`
	Budget            *float64 `json:"budget,omitempty"`
	Currency          *string  `json:"currency,omitempty"`
	Skills            []string `json:"skills,omitempty"`
	AllowInstantClaim *bool    `json:"allow_instant_claim,omitempty"`
}

func (r PublishRequest) change() engine.PublicationChange {
	return engine.PublicationChange{
		Visibility:        r.Visibility,
		PublicDescription: r.PublicDescription,
		Budget:            r.Budget,
		Currency:          r.Currency,
		Skills:            r.Skills,
		AllowInstantClaim: r.AllowInstantClaim,
	}
}

type SubmitBidRequest struct {
	CoverMessage   string   `json:"cover_message"`
	ProposedBudget float64  `json:"proposed_budget" minimum:"0"`
	ETADays        *int     `json:"eta_days,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

// BidActionRequest drives the bid review endpoint.
type BidActionRequest struct {
	Action string `json:"action" enum:"accept,reject,withdraw"`
}

type AcceptBidResponse struct {
	WorkOrder  domain.WorkOrder  `json:"work_order"`
	Bid        domain.Bid        `json:"bid"`
	Membership domain.Membership `json:"membership"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type DevLoginRequest struct {
	ActorID   string `json:"actor_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Superuser bool   `json:"superuser,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
