// Package access holds the explicit role grants checked at the top of every
// mutating operation.
package access

import (
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

// Role is a named permission granted to specific principals.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleSolvencyOracle  Role = "SOLVENCY_ORACLE_ROLE"
	RoleMilestoneOracle Role = "MILESTONE_ORACLE_ROLE"
	RoleReportWorkflow  Role = "REPORT_WORKFLOW_ROLE"
)

var (
	ErrUnauthorized     = eris.New("unauthorized")
	ErrInvalidPrincipal = eris.New("invalid principal")
)

// Registry maps roles to the principals holding them. The admin principal is
// fixed at construction and always satisfies RequireAdmin.
type Registry struct {
	mu     sync.RWMutex
	admin  model.Principal
	grants map[Role]map[model.Principal]struct{}
	source string
	events events.Emitter
}

// NewRegistry creates a registry owned by admin. source labels emitted events.
func NewRegistry(admin model.Principal, source string, em events.Emitter) *Registry {
	if em == nil {
		em = events.Discard{}
	}
	return &Registry{
		admin:  admin,
		grants: make(map[Role]map[model.Principal]struct{}),
		source: source,
		events: em,
	}
}

func (r *Registry) Admin() model.Principal { return r.admin }

// IsAdmin reports whether p is the owning administrator.
func (r *Registry) IsAdmin(p model.Principal) bool {
	return p != "" && p == r.admin
}

// RequireAdmin fails with ErrUnauthorized unless p is the administrator.
func (r *Registry) RequireAdmin(p model.Principal) error {
	if !r.IsAdmin(p) {
		return eris.Wrapf(ErrUnauthorized, "%s is not admin", p)
	}
	return nil
}

// Has reports whether p holds role.
func (r *Registry) Has(role Role, p model.Principal) bool {
	if role == RoleAdmin {
		return r.IsAdmin(p)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[role][p]
	return ok
}

// Require fails with ErrUnauthorized unless p holds role.
func (r *Registry) Require(role Role, p model.Principal) error {
	if !r.Has(role, p) {
		return eris.Wrapf(ErrUnauthorized, "%s lacks %s", p, role)
	}
	return nil
}

// Grant gives role to p. Admin only.
func (r *Registry) Grant(caller model.Principal, role Role, p model.Principal) error {
	if err := r.RequireAdmin(caller); err != nil {
		return err
	}
	if strings.TrimSpace(string(p)) == "" || role == RoleAdmin {
		return ErrInvalidPrincipal
	}

	r.mu.Lock()
	set, ok := r.grants[role]
	if !ok {
		set = make(map[model.Principal]struct{})
		r.grants[role] = set
	}
	set[p] = struct{}{}
	r.mu.Unlock()

	r.events.Emit(model.Event{
		Type:     model.EventRoleGranted,
		Source:   r.source,
		Severity: model.SeverityInfo,
		Message:  "role granted",
		Attrs:    map[string]string{"role": string(role), "principal": string(p)},
	})
	return nil
}

// Revoke removes role from p. Admin only. Revoking an absent grant is a no-op.
func (r *Registry) Revoke(caller model.Principal, role Role, p model.Principal) error {
	if err := r.RequireAdmin(caller); err != nil {
		return err
	}

	r.mu.Lock()
	_, held := r.grants[role][p]
	delete(r.grants[role], p)
	r.mu.Unlock()

	if held {
		r.events.Emit(model.Event{
			Type:     model.EventRoleRevoked,
			Source:   r.source,
			Severity: model.SeverityInfo,
			Message:  "role revoked",
			Attrs:    map[string]string{"role": string(role), "principal": string(p)},
		})
	}
	return nil
}

// Members lists the principals holding role, sorted.
func (r *Registry) Members(role Role) []model.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Principal, 0, len(r.grants[role]))
	for p := range r.grants[role] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
