package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"geolisting/internal/domain"
)

func (r *Repo) CreateUser(ctx context.Context, u domain.User, roles ...string) (domain.User, error) {
	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertUserSQL, u.Username, u.Email, u.PasswordHash, u.IsSuperuser, valTime(u.CreatedAt)).Scan(&id); err != nil {
			return err
		}
		for _, name := range roles {
			var roleID int64
			err := tx.QueryRow(ctx, roleIDSQL, name).Scan(&roleID)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("role %q: %w", name, domain.ErrMissingReference)
			}
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, insertUserRoleSQL, id, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("user %q: %w", u.Username, err)
	}
	return r.GetUser(ctx, id)
}

func (r *Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return r.loadUser(ctx, getUserSQL, id)
}

func (r *Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.loadUser(ctx, getUserByNameSQL, username)
}

func (r *Repo) loadUser(ctx context.Context, query string, key any) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, query, key).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %v: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.Roles, err = r.queryStrings(ctx, userRolesSQL, u.ID); err != nil {
		return domain.User{}, err
	}
	if u.Permissions, err = r.queryStrings(ctx, userPermissionsSQL, u.ID); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *Repo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if len(out) == 0 {
		out = nil
	}
	return out, err
}

// EnsureRole inserts the role or takes a row lock on the existing one, so
// concurrent callers on the same name serialize.
func (r *Repo) EnsureRole(ctx context.Context, role domain.Role, overwrite bool) (domain.Role, error) {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		created := true
		err := tx.QueryRow(ctx, insertRoleSQL, role.Name).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			created = false
			err = tx.QueryRow(ctx, lockRoleSQL, role.Name).Scan(&id)
		}
		if err != nil {
			return err
		}
		if !created && !overwrite {
			return nil
		}
		if _, err := tx.Exec(ctx, clearRolePermsSQL, id); err != nil {
			return err
		}
		for _, p := range slices.Compact(slices.Sorted(slices.Values(role.Permissions))) {
			if _, err := tx.Exec(ctx, insertRolePermSQL, id, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Role{}, fmt.Errorf("role %q: %w", role.Name, err)
	}
	return r.GetRole(ctx, role.Name)
}

func (r *Repo) GetRole(ctx context.Context, name string) (domain.Role, error) {
	role := domain.Role{Name: name}
	err := r.pool.QueryRow(ctx, roleIDSQL, name).Scan(&role.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Role{}, fmt.Errorf("role %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Role{}, err
	}
	if role.Permissions, err = r.queryStrings(ctx, rolePermsSQL, role.ID); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}
