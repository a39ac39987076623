package users

import (
	"fmt"
	"time"
)

// RoleType is the application role assigned by an admin (app_metadata.role).
type RoleType string

const (
	RoleAdmin    RoleType = "admin"    // Can manage operator accounts
	RoleOperator RoleType = "operador" // Manages students and notices
)

// Metadata keys used by the school's accounts.
const (
	MetaFirstLogin  = "primeiro_login"
	MetaFullName    = "full_name"
	MetaName        = "nome"
	MetaDisplayName = "display_name"
	MetaRole        = "role"
)

// MinPasswordLength is the shortest password the backend accepts.
const MinPasswordLength = 6

// User is the identity returned by the remote auth service.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	AuthRole     string         `json:"role,omitempty"`          // "authenticated"; not the app role
	UserMetadata map[string]any `json:"user_metadata,omitempty"` // Editable by the user (name, first login flag)
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`  // Assigned by admins only (app role)
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
}

// Role returns the application role assigned in app_metadata.
func (u *User) Role() RoleType {
	if u == nil {
		return ""
	}
	if r, ok := u.AppMetadata[MetaRole].(string); ok && r != "" {
		return RoleType(r)
	}
	return ""
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role() == RoleAdmin
}

// FirstLogin reports whether the account still has to set its own password.
func (u *User) FirstLogin() bool {
	if u == nil {
		return false
	}
	v, ok := u.UserMetadata[MetaFirstLogin].(bool)
	return ok && v
}

// FullName returns the name stored in user metadata, if any.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	for _, k := range []string{MetaFullName, MetaName, MetaDisplayName} {
		if v, ok := u.UserMetadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// DisplayName is the full name, or the email when no name is recorded.
func (u *User) DisplayName() string {
	if name := u.FullName(); name != "" {
		return name
	}
	if u == nil {
		return ""
	}
	return u.Email
}

// RoleLabel is the human label for the app role.
func (u *User) RoleLabel() string {
	switch u.Role() {
	case RoleAdmin:
		return "Admin"
	case RoleOperator:
		return "Operador"
	case "":
		return "—"
	default:
		return string(u.Role())
	}
}

// ValidateNewPassword checks a password chosen by the user and its
// confirmation.
func ValidateNewPassword(password, confirmation string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	if password != confirmation {
		return fmt.Errorf("passwords do not match")
	}
	return nil
}

// ParseRole accepts the role names used by the management function.
func ParseRole(s string) (RoleType, error) {
	switch RoleType(s) {
	case RoleAdmin, RoleOperator:
		return RoleType(s), nil
	}
	return "", fmt.Errorf("unknown role %q, expected %q or %q", s, RoleAdmin, RoleOperator)
}
