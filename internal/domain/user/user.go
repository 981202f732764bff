package user

import (
	"database/sql"
	"errors"
	"slices"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// Role names the lifecycle cares about.
const (
	RoleMember    = "member"
	RoleAdmin     = "admin"
	RoleSupporter = "supporter"
)

// User is an account that can grant access or receive it.
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       sql.NullString // To handle optional last name
	Roles          []string
	TelegramChatID sql.NullInt64 // linked chat for push notifications, if any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles.
func (u *User) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// IsMeOrInRoles reports whether actor is owner itself or holds one of roles.
func IsMeOrInRoles(owner, actor *User, roles []string) bool {
	if actor == nil {
		return false
	}
	if owner != nil && owner.ID == actor.ID {
		return true
	}
	return actor.HasAnyRole(roles)
}

// DisplayName is the first name, followed by the last name when present.
func (u *User) DisplayName() string {
	if u.LastName.Valid && u.LastName.String != "" {
		return u.FirstName + " " + u.LastName.String
	}
	return u.FirstName
}
