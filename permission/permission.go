// Package permission evaluates role-based access for the application's
// three-tier hierarchy: patients at the bottom, doctors above them, and
// administrators above both. A higher role implies every permission of
// the roles beneath it.
package permission

import (
	"strings"
	"sync"
)

// Role is an application role.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var roleRank = map[Role]int{
	RolePatient: 1,
	RoleDoctor:  2,
	RoleAdmin:   3,
}

// ParseRole normalizes a stored role string. Unknown values map to the
// zero Role, which ranks below every real role.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return ""
	}
	return r
}

// Rank returns the role's position in the hierarchy, 0 for unknown roles.
func (r Role) Rank() int { return roleRank[r] }

// Evaluator answers permission queries for a current role and memoizes
// the results. Results are cached per (role, required) pair; ClearCache
// must run whenever the authenticated user changes.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]bool
}

// NewEvaluator creates an Evaluator with an empty memo.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]bool)}
}

// HasPermission reports whether holders of role meet or exceed the
// required role.
func (e *Evaluator) HasPermission(role, required Role) bool {
	key := "perm:" + string(role) + ":" + string(required)

	e.mu.RLock()
	v, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return v
	}

	allowed := role.Rank() >= required.Rank() && role.Rank() > 0

	e.mu.Lock()
	e.cache[key] = allowed
	e.mu.Unlock()
	return allowed
}

// HasAnyRole reports whether role equals any of the candidates exactly.
// No hierarchy applies here; it is a membership test.
func (e *Evaluator) HasAnyRole(role Role, candidates ...Role) bool {
	for _, c := range candidates {
		if role == c {
			return true
		}
	}
	return false
}

// ClearCache drops every memoized result. Call on login, logout, and
// role change so stale answers never cross users.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]bool)
	e.mu.Unlock()
}
