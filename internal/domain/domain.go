package domain

// Work order lifecycle statuses.
const (
	StatusToDo     = "ToDo"
	StatusAssigned = "Assigned"
	StatusAtWork   = "AtWork"
	StatusDone     = "Done"
	StatusPending  = "Pending"
	StatusIssues   = "Issues"
	StatusFixed    = "Fixed"
	StatusAgreed   = "Agreed"
)

// Public listing statuses.
const (
	PublicOpen     = "open"
	PublicInReview = "in_review"
	PublicAssigned = "assigned"
	PublicClosed   = "closed"
)

// Visibility values.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Bid statuses.
const (
	BidSubmitted = "submitted"
	BidWithdrawn = "withdrawn"
	BidAccepted  = "accepted"
	BidRejected  = "rejected"
)

// User profile types.
const (
	ProfileContractor = "contractor"
	ProfileStaff      = "staff"
)

// Membership statuses.
const (
	MemberActive  = "active"
	MemberInvited = "invited"
)

// Event actions appended to a work order's log.
const (
	EventWorkCreated     = "WORK_CREATED"
	EventTaskAssigned    = "TASK_ASSIGNED"
	EventTaskAccepted    = "TASK_ACCEPTED"
	EventTaskRejected    = "TASK_REJECTED"
	EventExecutorRemoved = "EXECUTOR_REMOVED"
	EventStatusChanged   = "STATUS_CHANGED"
	EventBidAccepted     = "BID_ACCEPTED"
	EventPublished       = "WORK_PUBLISHED"
	EventUnpublished     = "WORK_UNPUBLISHED"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	switch s {
	case StatusToDo, StatusAssigned, StatusAtWork, StatusDone,
		StatusPending, StatusIssues, StatusFixed, StatusAgreed:
		return true
	}
	return false
}

// StatusRequiresExecutor reports whether a status implies an assigned
// executor. ToDo is the only status that requires the executor to be empty.
func StatusRequiresExecutor(s string) bool {
	switch s {
	case StatusAssigned, StatusAtWork, StatusDone, StatusPending,
		StatusIssues, StatusFixed, StatusAgreed:
		return true
	}
	return false
}

type WorkOrder struct {
	ID                 string   `json:"id"`
	TenantID           *string  `json:"tenant_id,omitempty"`
	ProjectID          *string  `json:"project_id,omitempty"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Status             string   `json:"status" enum:"ToDo,Assigned,AtWork,Done,Pending,Issues,Fixed,Agreed"`
	Priority           *int     `json:"priority,omitempty"`
	DueDate            *string  `json:"due_date,omitempty" format:"date-time"`
	Visibility         string   `json:"visibility" enum:"private,public"`
	PublicStatus       string   `json:"public_status" enum:"open,in_review,assigned,closed"`
	PublicDescription  string   `json:"public_description,omitempty"`
	Budget             *float64 `json:"budget,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	Skills             []string `json:"skills,omitempty"`
	AllowInstantClaim  bool     `json:"allow_instant_claim"`
	ApplicationCount   int      `json:"application_count"`
	ExecutorID         string   `json:"executor_id,omitempty"`
	ExecutorName       string   `json:"executor_name,omitempty"`
	ExecutorEmail      string   `json:"executor_email,omitempty"`
	AuthorID           string   `json:"author_id"`
	AuthorName         string   `json:"author_name,omitempty"`
	AcceptedBidID      *string  `json:"accepted_bid_id,omitempty"`
	ContractorPayment  *float64 `json:"contractor_payment,omitempty"`
	ReportLink         string   `json:"report_link,omitempty"`
	ClosingDocumentURL string   `json:"closing_document_url,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// HasExecutor reports whether any executor identity field is set.
func (w WorkOrder) HasExecutor() bool {
	return w.ExecutorID != "" || w.ExecutorName != "" || w.ExecutorEmail != ""
}

type Bid struct {
	ID              string   `json:"id"`
	WorkOrderID     string   `json:"work_order_id"`
	TenantID        *string  `json:"tenant_id,omitempty"`
	ContractorID    string   `json:"contractor_id"`
	ContractorName  string   `json:"contractor_name,omitempty"`
	ContractorEmail string   `json:"contractor_email,omitempty"`
	CoverMessage    string   `json:"cover_message"`
	ProposedBudget  float64  `json:"proposed_budget"`
	ETADays         *int     `json:"eta_days,omitempty"`
	Attachments     []string `json:"attachments,omitempty"`
	Status          string   `json:"status" enum:"submitted,withdrawn,accepted,rejected"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
}

type Membership struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	Status    string `json:"status" enum:"active,invited"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Quota holds the capacity limits derived from a tenant's subscription. The
// subscription subsystem owns these values; they are only read here.
type Quota struct {
	TenantID           string `json:"tenant_id"`
	SeatsLimit         int    `json:"seats_limit"`
	PublicListingLimit int    `json:"public_listing_limit"`
}

// User backs the identity/profile lookup collaborator.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	ProfileType string `json:"profile_type" enum:"contractor,staff"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Event is one record in a work order's append-only log. IDs are assigned in
// commit order.
type Event struct {
	ID          int64          `json:"id"`
	WorkOrderID string         `json:"work_order_id"`
	Action      string         `json:"action"`
	Author      string         `json:"author"`
	AuthorID    string         `json:"author_id"`
	TS          string         `json:"ts" format:"date-time"`
	Details     map[string]any `json:"details,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
