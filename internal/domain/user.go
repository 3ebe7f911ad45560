package domain

import (
	"slices"
	"time"
)

// PropertyOwnersRole is the role every signed-up user joins.
const PropertyOwnersRole = "Property Owners"

const (
	PermViewAccommodation   = "view_accommodation"
	PermAddAccommodation    = "add_accommodation"
	PermChangeAccommodation = "change_accommodation"
	PermDeleteAccommodation = "delete_accommodation"
)

// PropertyOwnerPermissions is the exact grant of the Property Owners role.
var PropertyOwnerPermissions = []string{
	PermViewAccommodation,
	PermAddAccommodation,
	PermChangeAccommodation,
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	IsSuperuser  bool      `json:"is_superuser"`
	Roles        []string  `json:"roles"`
	Permissions  []string  `json:"-"` // union of the user's role grants
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) InRole(name string) bool {
	return u != nil && slices.Contains(u.Roles, name)
}

func (u *User) HasPermission(codename string) bool {
	return u != nil && slices.Contains(u.Permissions, codename)
}

type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// SignUp is the sign-up payload.
type SignUp struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
