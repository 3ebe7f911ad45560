package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"geolisting/internal/domain"
)

func (s *Store) CreateUser(_ context.Context, u domain.User, roles ...string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[u.Username]; ok {
		return domain.User{}, fmt.Errorf("user %q: %w", u.Username, domain.ErrDuplicate)
	}
	for _, r := range roles {
		if _, ok := s.roles[r]; !ok {
			return domain.User{}, fmt.Errorf("role %q: %w", r, domain.ErrMissingReference)
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.PasswordHash = slices.Clone(u.PasswordHash)
	u.Roles, u.Permissions = nil, nil
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
	s.usernames[u.Username] = u.ID
	s.memberships[u.ID] = slices.Compact(slices.Sorted(slices.Values(roles)))
	return s.hydrate(u), nil
}

func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return s.hydrate(u), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return domain.User{}, fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
	}
	return s.hydrate(s.users[id]), nil
}

// hydrate fills roles and the union of their permissions. Caller holds mu.
func (s *Store) hydrate(u domain.User) domain.User {
	u.PasswordHash = slices.Clone(u.PasswordHash)
	u.Roles = slices.Clone(s.memberships[u.ID])
	seen := map[string]bool{}
	u.Permissions = nil
	for _, name := range u.Roles {
		for _, p := range s.roles[name].Permissions {
			if !seen[p] {
				seen[p] = true
				u.Permissions = append(u.Permissions, p)
			}
		}
	}
	sort.Strings(u.Permissions)
	return u
}

func (s *Store) EnsureRole(_ context.Context, r domain.Role, overwrite bool) (domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.roles[r.Name]; ok {
		if overwrite {
			prev.Permissions = normalizePerms(r.Permissions)
			s.roles[r.Name] = prev
		}
		return cloneRole(prev), nil
	}
	s.nextRoleID++
	r.ID = s.nextRoleID
	r.Permissions = normalizePerms(r.Permissions)
	s.roles[r.Name] = r
	return cloneRole(r), nil
}

func (s *Store) GetRole(_ context.Context, name string) (domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return domain.Role{}, fmt.Errorf("role %q: %w", name, domain.ErrNotFound)
	}
	return cloneRole(r), nil
}

func normalizePerms(p []string) []string {
	return slices.Compact(slices.Sorted(slices.Values(p)))
}

func cloneRole(r domain.Role) domain.Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}
