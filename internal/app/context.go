package app

import (
	"context"
	"errors"
	"fmt"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/repo"
)

// ResolveTenant picks the active tenant for a command, preferring the
// override, then a single-tenant workspace. A missing tenant is created on
// the fly with the actor as owner and default quotas.
func ResolveTenant(ctx context.Context, e engine.Engine, tenantOverride string, actor engine.Actor) (string, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		if t, err := e.Repo.SingleTenant(ctx); err == nil {
			tenantID = t.ID
		} else {
			return "", fmt.Errorf("tenant not specified; use --tenant")
		}
	}
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if actor.Email == "" {
			actor.Email = actor.ID + "@local"
		}
		if _, err := e.CreateTenant(ctx, tenantID, tenantID, actor); err != nil {
			return "", fmt.Errorf("create tenant: %w", err)
		}
	}
	return tenantID, nil
}

// LocalActor is the identity used by CLI commands against a local workspace.
// It bypasses tenant role checks the way the server's superuser principal
// does.
func LocalActor(id, name, email string) engine.Actor {
	if id == "" {
		id = "local-user"
	}
	if name == "" {
		name = id
	}
	if email == "" {
		email = id + "@local"
	}
	return engine.Actor{ID: id, Name: name, Email: email, Role: domain.RoleOwner, Superuser: true}
}
