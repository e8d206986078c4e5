// Package directory resolves chat users and groups to display names.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("directory: record not found")

// User is the display subset of a chat user.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// DisplayName returns the name, then the username, then "".
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Group is the display subset of a chat group.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory is a read-only lookup of users and groups.
type Directory interface {
	User(ctx context.Context, id string) (*User, error)
	Group(ctx context.Context, id string) (*Group, error)
}

// MembershipSource lists the groups a user belongs to.
type MembershipSource interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}
