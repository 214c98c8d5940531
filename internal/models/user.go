package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role is the caller's permission class.
type Role string

const (
	RoleUser      Role = "User"
	RoleDeveloper Role = "Developer"
	RoleAdmin     Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains([]Role{RoleUser, RoleDeveloper, RoleAdmin}, r)
}

// User is a marketplace participant. Developer profile fields are zero for other roles.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         Role      `json:"role" db:"role"`
	AvatarURL    string    `json:"avatarUrl,omitempty" db:"avatar_url"`
	Skills       []string  `json:"skills,omitempty" db:"-"`
	SuccessRate  float64   `json:"successRate" db:"success_rate"`
	BugsResolved int       `json:"bugsResolved" db:"bugs_resolved"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// EmailForName derives the deterministic session email for a display name.
// Only the first space is replaced.
func EmailForName(name string) string {
	return strings.Replace(strings.ToLower(name), " ", ".", 1) + "@example.com"
}

// AvatarForName returns the generated avatar URL for a display name.
func AvatarForName(name string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", name)
}
