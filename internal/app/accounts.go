package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"geolisting/internal/domain"
)

type AccountService struct {
	repo domain.AccountRepository
	cost int
}

func NewAccountService(r domain.AccountRepository, bcryptCost int) *AccountService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{repo: r, cost: bcryptCost}
}

func propertyOwnersRole() domain.Role {
	return domain.Role{
		Name:        domain.PropertyOwnersRole,
		Permissions: append([]string(nil), domain.PropertyOwnerPermissions...),
	}
}

// BootstrapRoles creates the Property Owners role, or resets its grant to
// view, add and change. Running it again changes nothing.
func (s *AccountService) BootstrapRoles(ctx context.Context) (domain.Role, error) {
	r, err := s.repo.EnsureRole(ctx, propertyOwnersRole(), true)
	if err != nil {
		return domain.Role{}, fmt.Errorf("bootstrap %q: %w", domain.PropertyOwnersRole, err)
	}
	log.Info().Str("role", r.Name).Strs("permissions", r.Permissions).Msg("role ready")
	return r, nil
}

// SignUp registers a regular user and puts them in Property Owners. The
// role is created with its default grant if nobody bootstrapped it yet.
func (s *AccountService) SignUp(ctx context.Context, in domain.SignUp) (domain.User, error) {
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.repo.EnsureRole(ctx, propertyOwnersRole(), false); err != nil {
		return domain.User{}, err
	}
	u, err := s.repo.CreateUser(ctx, domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}, domain.PropertyOwnersRole)
	if err != nil {
		return domain.User{}, err
	}
	log.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("signed up")
	return u, nil
}

func (s *AccountService) CreateSuperuser(ctx context.Context, in domain.SignUp) (domain.User, error) {
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, err
	}
	return s.repo.CreateUser(ctx, domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsSuperuser:  true,
	})
}

// Authenticate checks a username and password. Any mismatch is
// domain.ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return u, nil
}
