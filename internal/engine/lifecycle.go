package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// Change is a requested mutation of a work order. Exactly one lifecycle rule
// fires per change, chosen by precedence: executor cleared, executor assigned,
// decision, manual status edit, report link. Plain field edits apply alongside
// whichever rule fires.
type Change struct {
	ExecutorID *string
	Decision   string
	Status     *string
	ReportLink *string

	Name        *string
	Description *string
	Priority    *int
	DueDate     *string
	Budget      *float64
}

// TransitionResult carries the updated work order plus notification signals
// the caller may act on. Signals are derived, never persisted.
type TransitionResult struct {
	WorkOrder       domain.WorkOrder
	NotifyExecutor  bool
	DecisionOutcome string
	ReportFiled     bool
}

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// ApplyTransition mutates a work order under one lifecycle rule, appending
// the matching log entries in the same transaction as the row update.
func (e Engine) ApplyTransition(ctx context.Context, id string, change Change, actor Actor) (TransitionResult, error) {
	if change.Decision != "" && change.Decision != DecisionAccept && change.Decision != DecisionReject {
		return TransitionResult{}, ValidationError{fmt.Sprintf("unknown decision %q", change.Decision)}
	}
	if change.Status != nil && !domain.ValidStatus(*change.Status) {
		return TransitionResult{}, ValidationError{fmt.Sprintf("unknown status %q", *change.Status)}
	}

	// Resolve the assignee before opening the transaction; the directory
	// lookup uses its own connection and must not wait behind ours.
	var assignee domain.User
	if change.ExecutorID != nil && *change.ExecutorID != "" {
		u, err := e.Users.ResolveUser(ctx, *change.ExecutorID)
		if errors.Is(err, repo.ErrNotFound) {
			return TransitionResult{}, ValidationError{fmt.Sprintf("unknown executor %q", *change.ExecutorID)}
		}
		if err != nil {
			return TransitionResult{}, fmt.Errorf("resolve executor: %w", err)
		}
		assignee = u
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return TransitionResult{}, err
	}

	applyFieldEdits(&w, change)

	var res TransitionResult
	switch {
	case change.ExecutorID != nil && *change.ExecutorID == "":
		err = e.clearExecutor(ctx, tx, &w, actor)

	case change.ExecutorID != nil:
		res.NotifyExecutor, err = e.assignExecutor(ctx, tx, &w, assignee, actor)

	case change.Decision == DecisionAccept:
		res.DecisionOutcome, err = e.acceptWork(ctx, tx, &w, actor)

	case change.Decision == DecisionReject:
		res.DecisionOutcome, err = e.rejectWork(ctx, tx, &w, actor)

	case change.Status != nil:
		err = e.editStatus(ctx, tx, &w, *change.Status, actor)

	case change.ReportLink != nil && *change.ReportLink != "":
		res.ReportFiled, err = e.fileReport(ctx, tx, &w, *change.ReportLink, actor)
	}
	if err != nil {
		return TransitionResult{}, err
	}

	w.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}

	// A manual edit landing on Agreed gets a closing document; decisions
	// never do (accept parks the order in AtWork).
	if change.Decision == "" && strings.EqualFold(w.Status, domain.StatusAgreed) && w.ClosingDocumentURL == "" {
		e.generateClosingDocument(ctx, &w)
	}

	res.WorkOrder = w
	return res, nil
}

// applyFieldEdits copies the plain field replacements; these carry no log
// entries and fire no lifecycle rule.
func applyFieldEdits(w *domain.WorkOrder, change Change) {
	if change.Name != nil && *change.Name != "" {
		w.Name = *change.Name
	}
	if change.Description != nil {
		w.Description = *change.Description
	}
	if change.Priority != nil {
		w.Priority = change.Priority
	}
	if change.DueDate != nil {
		if *change.DueDate == "" {
			w.DueDate = nil
		} else {
			w.DueDate = change.DueDate
		}
	}
	if change.Budget != nil {
		w.Budget = change.Budget
	}
}

func (e Engine) clearExecutor(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, actor Actor) error {
	if !actor.atLeast(domain.RoleManager) {
		return forbiddenRole("removing an executor", string(domain.RoleManager))
	}
	if !w.HasExecutor() && w.Status == domain.StatusToDo {
		return nil
	}
	removed := w.ExecutorName
	if removed == "" {
		removed = w.ExecutorID
	}
	from := w.Status
	w.ExecutorID, w.ExecutorName, w.ExecutorEmail = "", "", ""
	w.Status = domain.StatusToDo
	return e.Events.Append(ctx, tx, w.ID, domain.EventExecutorRemoved, actor.Name, actor.ID,
		events.Details{"executor": removed, "from": from, "to": w.Status})
}

func (e Engine) assignExecutor(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, u domain.User, actor Actor) (bool, error) {
	if !actor.atLeast(domain.RoleManager) {
		return false, forbiddenRole("assigning an executor", string(domain.RoleManager))
	}
	if u.ID == w.ExecutorID {
		return false, nil
	}
	from := w.Status
	w.ExecutorID, w.ExecutorName, w.ExecutorEmail = u.ID, u.Name, u.Email
	// TASK_ASSIGNED marks the ToDo -> Assigned transition; a re-assignment
	// past that point swaps the executor without a log entry.
	if from == domain.StatusToDo {
		w.Status = domain.StatusAssigned
		err := e.Events.Append(ctx, tx, w.ID, domain.EventTaskAssigned, actor.Name, actor.ID,
			events.Details{"executor": u.Name, "executor_id": u.ID, "from": from, "to": w.Status})
		return err == nil, err
	}
	return true, nil
}

// acceptWork is the accept decision: the work moves into AtWork. Repeating
// the decision appends nothing, but managers are signalled either way.
func (e Engine) acceptWork(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, actor Actor) (string, error) {
	if !actor.atLeast(domain.RoleManager) {
		return "", forbiddenRole("deciding on an assignment", string(domain.RoleManager))
	}
	if !w.HasExecutor() {
		return "", InvalidStateError{"cannot accept a work order with no executor"}
	}
	if w.Status != domain.StatusAtWork {
		from := w.Status
		w.Status = domain.StatusAtWork
		if err := e.Events.Append(ctx, tx, w.ID, domain.EventTaskAccepted, actor.Name, actor.ID,
			events.Details{"from": from, "to": w.Status}); err != nil {
			return "", err
		}
	}
	return DecisionAccept, nil
}

// rejectWork is the reject decision: the executor is cleared unconditionally
// and the work goes back to ToDo. EXECUTOR_REMOVED follows TASK_REJECTED only
// when the reject actually changed something.
func (e Engine) rejectWork(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, actor Actor) (string, error) {
	if !actor.atLeast(domain.RoleManager) {
		return "", forbiddenRole("deciding on an assignment", string(domain.RoleManager))
	}
	removed := w.ExecutorName
	if removed == "" {
		removed = w.ExecutorID
	}
	hadExecutor := w.HasExecutor()
	from := w.Status
	w.ExecutorID, w.ExecutorName, w.ExecutorEmail = "", "", ""
	w.Status = domain.StatusToDo
	if err := e.Events.Append(ctx, tx, w.ID, domain.EventTaskRejected, actor.Name, actor.ID,
		events.Details{"from": from, "to": w.Status}); err != nil {
		return "", err
	}
	if hadExecutor || from != domain.StatusToDo {
		if err := e.Events.Append(ctx, tx, w.ID, domain.EventExecutorRemoved, actor.Name, actor.ID,
			events.Details{"executor": removed, "from": from, "to": w.Status}); err != nil {
			return "", err
		}
	}
	return DecisionReject, nil
}

// editStatus is the manual override path. It appends a single STATUS_CHANGED
// entry and refuses edits that would break the executor invariants.
func (e Engine) editStatus(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, to string, actor Actor) error {
	if !actor.atLeast(domain.RoleExecutor) {
		return forbiddenRole("editing status", string(domain.RoleExecutor))
	}
	if to == w.Status {
		return nil
	}
	if domain.StatusRequiresExecutor(to) && !w.HasExecutor() {
		return InvalidStateError{fmt.Sprintf("status %s requires an executor", to)}
	}
	if to == domain.StatusToDo && w.HasExecutor() {
		return InvalidStateError{"clear the executor instead of editing status back to ToDo"}
	}
	from := w.Status
	w.Status = to
	return e.Events.Append(ctx, tx, w.ID, domain.EventStatusChanged, actor.Name, actor.ID,
		events.Details{"from": from, "to": to})
}

// fileReport links delivered work and parks the order in Pending for review.
func (e Engine) fileReport(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, link string, actor Actor) (bool, error) {
	if !w.HasExecutor() {
		return false, InvalidStateError{"cannot file a report on a work order with no executor"}
	}
	w.ReportLink = link
	if w.Status == domain.StatusPending {
		return false, nil
	}
	from := w.Status
	w.Status = domain.StatusPending
	err := e.Events.Append(ctx, tx, w.ID, domain.EventStatusChanged, actor.Name, actor.ID,
		events.Details{"from": from, "to": w.Status, "report_link": link})
	return err == nil, err
}

// generateClosingDocument runs after commit; a generator failure is logged
// and never fails the transition that triggered it.
func (e Engine) generateClosingDocument(ctx context.Context, w *domain.WorkOrder) {
	if e.Docs == nil {
		return
	}
	url, err := e.Docs.Generate(ctx, *w)
	if err != nil {
		log.Printf("closing document for %s: %v", w.ID, err)
		return
	}
	w.ClosingDocumentURL = url
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("closing document for %s: %v", w.ID, err)
		return
	}
	defer tx.Rollback()
	w.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, *w); err != nil {
		log.Printf("closing document for %s: %v", w.ID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("closing document for %s: %v", w.ID, err)
	}
}
