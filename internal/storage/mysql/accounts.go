package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"geolisting/internal/domain"
)

// CreateUser inserts the user and its memberships in one transaction. Every
// named role must exist.
func (r *Repo) CreateUser(ctx context.Context, u domain.User, roles ...string) (domain.User, error) {
	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertUserSQL, u.Username, u.Email, u.PasswordHash, u.IsSuperuser, valTime(u.CreatedAt))
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, name := range roles {
			var roleID int64
			err := tx.QueryRowContext(ctx, roleIDSQL, name).Scan(&roleID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("role %q: %w", name, domain.ErrMissingReference)
			}
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertUserRoleSQL, id, roleID); err != nil {
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
	err := r.db.QueryRowContext(ctx, query, key).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// EnsureRole locks the role row (or inserts it) so concurrent callers
// serialize on the same name.
func (r *Repo) EnsureRole(ctx context.Context, role domain.Role, overwrite bool) (domain.Role, error) {
	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		created := false
		err := tx.QueryRowContext(ctx, lockRoleSQL, role.Name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := tx.ExecContext(ctx, insertRoleSQL, role.Name)
			if err != nil {
				return err
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
			created = true
		} else if err != nil {
			return err
		}
		if !created && !overwrite {
			return nil
		}
		if _, err := tx.ExecContext(ctx, clearRolePermsSQL, id); err != nil {
			return err
		}
		for _, p := range slices.Compact(slices.Sorted(slices.Values(role.Permissions))) {
			if _, err := tx.ExecContext(ctx, insertRolePermSQL, id, p); err != nil {
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
	err := r.db.QueryRowContext(ctx, roleIDSQL, name).Scan(&role.ID)
	if errors.Is(err, sql.ErrNoRows) {
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
