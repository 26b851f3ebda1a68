package domain

import (
	"context"
	"time"
)

// Table names
const (
	TableStudents       = "students"
	TableAdministrators = "administrators"
)

// DefaultLevel is assigned to auto-provisioned learners
const DefaultLevel = "level_1"

// Role is an administrator role
type Role string

const (
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// PrincipalKind distinguishes administrators from learners
type PrincipalKind string

const (
	PrincipalAdministrator PrincipalKind = "administrator"
	PrincipalLearner       PrincipalKind = "learner"
)

// Student represents a learner account
type Student struct {
	ID               string     `json:"id,omitempty"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	PasswordHash     string     `json:"password_hash,omitempty"`
	TotalScore       int        `json:"total_score"`
	IsActive         bool       `json:"is_active"`
	CurrentLevel     string     `json:"current_level"`
	CompletedCourses []string   `json:"completed_courses"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
	CreatedAt        time.Time  `json:"created_at,omitzero"`
	UpdatedAt        time.Time  `json:"updated_at,omitzero"`
}

// Administrator represents a staff account
type Administrator struct {
	ID           string    `json:"id,omitempty"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// Principal is the authenticated caller of an operation
type Principal struct {
	Kind     PrincipalKind `json:"kind"`
	ID       string        `json:"id"`
	Email    string        `json:"email"`
	Name     string        `json:"name,omitempty"`
	Username string        `json:"username,omitempty"`
	Role     Role          `json:"role,omitempty"`
}

// IsAdministrator reports whether the principal is staff of any role
func (p *Principal) IsAdministrator() bool {
	return p != nil && p.Kind == PrincipalAdministrator
}

// IsLearner reports whether the principal is a learner
func (p *Principal) IsLearner() bool {
	return p != nil && p.Kind == PrincipalLearner
}

// CanAdminister reports whether the principal passes require_admin
func (p *Principal) CanAdminister() bool {
	return p.IsAdministrator() && (p.Role == RoleAdmin || p.Role == RoleSuperAdmin)
}

// StudentPrincipal builds the learner principal for s
func StudentPrincipal(s *Student) *Principal {
	return &Principal{Kind: PrincipalLearner, ID: s.ID, Email: s.Email, Name: s.Name}
}

// AdministratorPrincipal builds the administrator principal for a
func AdministratorPrincipal(a *Administrator) *Principal {
	return &Principal{Kind: PrincipalAdministrator, ID: a.ID, Email: a.Email, Username: a.Username, Role: a.Role}
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string     `json:"access_token"`
	TokenType string     `json:"token_type"`
	ExpiresAt time.Time  `json:"expires_at"`
	Principal *Principal `json:"principal"`
}

// IdentityService defines authentication operations
type IdentityService interface {
	// Login authenticates by email, provisioning unknown learners
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// Resolve turns a bearer token into an active principal
	Resolve(ctx context.Context, token string) (*Principal, error)

	// RequireAdmin fails unless the principal may administer
	RequireAdmin(p *Principal) error

	// CreateAdministrator registers a staff account with a hashed password
	CreateAdministrator(ctx context.Context, username, email, password string, role Role) (*Administrator, error)

	// GetStudent returns the learner record behind a principal
	GetStudent(ctx context.Context, id string) (*Student, error)
}
