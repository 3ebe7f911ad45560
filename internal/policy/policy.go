// Package policy decides what a requester may see and change in the
// accommodation store.
//
// Branches are evaluated in order: superuser, Property Owners member,
// everyone else. The first matching branch decides; a superuser is never
// narrowed by also being a role member.
package policy

import (
	"fmt"

	"geolisting/internal/domain"
)

type Operation string

const (
	View   Operation = "view"
	Add    Operation = "add"
	Change Operation = "change"
	Delete Operation = "delete"
)

func (op Operation) codename() string { return string(op) + "_accommodation" }

type scopeKind int

const (
	scopeNone scopeKind = iota
	scopeOwned
	scopeAll
)

// Scope is the row predicate a requester's listing is restricted to.
type Scope struct {
	kind    scopeKind
	ownerID int64
}

func (s Scope) All() bool   { return s.kind == scopeAll }
func (s Scope) Empty() bool { return s.kind == scopeNone }

// OwnerID is set when the scope is restricted to one owner's rows.
func (s Scope) OwnerID() (int64, bool) { return s.ownerID, s.kind == scopeOwned }

// Allows reports whether a row falls inside the scope.
func (s Scope) Allows(a domain.Accommodation) bool {
	switch s.kind {
	case scopeAll:
		return true
	case scopeOwned:
		return a.OwnerID != nil && *a.OwnerID == s.ownerID
	}
	return false
}

// Apply narrows f to the scope. ok is false when nothing can match.
func (s Scope) Apply(f domain.AccommodationFilter) (domain.AccommodationFilter, bool) {
	switch s.kind {
	case scopeAll:
		return f, true
	case scopeOwned:
		if f.OwnerID != nil && *f.OwnerID != s.ownerID {
			return f, false
		}
		id := s.ownerID
		f.OwnerID = &id
		return f, true
	}
	return f, false
}

func (s Scope) String() string {
	switch s.kind {
	case scopeAll:
		return "all"
	case scopeOwned:
		return fmt.Sprintf("owner=%d", s.ownerID)
	}
	return "none"
}

// ListScope returns the rows the requester may list. A nil requester is
// anonymous.
func ListScope(requester *domain.User) Scope {
	switch {
	case requester == nil:
		return Scope{}
	case requester.IsSuperuser:
		return Scope{kind: scopeAll}
	case requester.InRole(domain.PropertyOwnersRole):
		if !requester.HasPermission(View.codename()) {
			return Scope{}
		}
		return Scope{kind: scopeOwned, ownerID: requester.ID}
	}
	return Scope{}
}

// Authorize decides op on a specific row. For Add, target is the row about
// to be created. A nil target OwnerID on Add means the owner will be
// stamped from the acting user. Refusal is domain.ErrPermissionDenied.
func Authorize(requester *domain.User, op Operation, target domain.Accommodation) error {
	switch {
	case requester == nil:
		return denied(op, target)
	case requester.IsSuperuser:
		return nil
	case requester.InRole(domain.PropertyOwnersRole):
		if !requester.HasPermission(op.codename()) {
			return denied(op, target)
		}
		if op == Add && target.OwnerID == nil {
			return nil
		}
		if target.OwnerID == nil || *target.OwnerID != requester.ID {
			return denied(op, target)
		}
		return nil
	}
	return denied(op, target)
}

func denied(op Operation, a domain.Accommodation) error {
	return fmt.Errorf("%s accommodation %s/%d: %w", op, a.ID, a.Feed, domain.ErrPermissionDenied)
}
