package service

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
	"github.com/zizouhuweidi/ilm/internal/validation"
)

// Claims is the payload of an access token
type Claims struct {
	Kind domain.PrincipalKind `json:"kind"`
	Role domain.Role          `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IdentityService implements domain.IdentityService with HS256 tokens and bcrypt hashes
type IdentityService struct {
	gw       gateway.Gateway
	secret   []byte
	lifetime time.Duration
	now      Clock
	log      *logger.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(gw gateway.Gateway, secret string, lifetime time.Duration, log *logger.Logger) *IdentityService {
	return &IdentityService{
		gw:       gw,
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      utcNow,
		log:      log.With("service", "IdentityService"),
	}
}

var _ domain.IdentityService = (*IdentityService)(nil)

// Login authenticates administrators first, then learners. Unknown learner emails
// are provisioned with the supplied password.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.InvalidInput("email and password are required")
	}

	admin, err := findAs[domain.Administrator](ctx, s.gw, domain.TableAdministrators, gateway.Filters{"email": email}, nil)
	switch {
	case err == nil:
		if !admin.IsActive {
			return nil, domain.ErrAccountDisabled
		}
		if !verifyPassword(admin.PasswordHash, password) {
			return nil, domain.ErrInvalidCredentials
		}
		return s.issue(domain.AdministratorPrincipal(admin))
	case !errors.Is(err, gateway.ErrNotFound):
		return nil, err
	}

	student, err := s.loginStudent(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issue(domain.StudentPrincipal(student))
}

func (s *IdentityService) loginStudent(ctx context.Context, email, password string) (*domain.Student, error) {
	student, err := findAs[domain.Student](ctx, s.gw, domain.TableStudents, gateway.Filters{"email": email}, nil)
	if errors.Is(err, gateway.ErrNotFound) {
		student, err = s.provisionStudent(ctx, email, password)
		if errors.Is(err, gateway.ErrConflict) {
			// lost a provisioning race; the winner's row decides
			student, err = findAs[domain.Student](ctx, s.gw, domain.TableStudents, gateway.Filters{"email": email}, domain.ErrInvalidCredentials)
		} else if err == nil {
			return student, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if !student.IsActive {
		return nil, domain.ErrAccountDisabled
	}
	if student.PasswordHash == "" {
		// rows seeded without a credential take the first password presented
		hash, err := hashPassword(password)
		if err != nil {
			return nil, err
		}
		if _, err := s.gw.Update(ctx, domain.TableStudents, "id", student.ID, gateway.Record{"password_hash": hash}); err != nil {
			return nil, storeErr(err, domain.ErrStudentNotFound)
		}
		return student, nil
	}
	if !verifyPassword(student.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return student, nil
}

func (s *IdentityService) provisionStudent(ctx context.Context, email, password string) (*domain.Student, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	name, _, _ := strings.Cut(email, "@")
	rec, err := gateway.Encode(&domain.Student{
		Email:            email,
		Name:             name,
		PasswordHash:     hash,
		TotalScore:       0,
		IsActive:         true,
		CurrentLevel:     domain.DefaultLevel,
		CompletedCourses: []string{},
	})
	if err != nil {
		return nil, err
	}
	stored, err := s.gw.Create(ctx, domain.TableStudents, rec)
	if err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return nil, err
		}
		return nil, storeErr(err, nil)
	}
	var student domain.Student
	if err := gateway.Decode(stored, &student); err != nil {
		return nil, err
	}
	s.log.Info("learner provisioned", "student_id", student.ID)
	return &student, nil
}

func (s *IdentityService) issue(p *domain.Principal) (*domain.LoginResult, error) {
	now := s.now()
	expires := now.Add(s.lifetime)
	claims := Claims{
		Kind: p.Kind,
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, errors.Wrap(err, "signing token")
	}
	return &domain.LoginResult{Token: token, TokenType: "bearer", ExpiresAt: expires, Principal: p}, nil
}

// Resolve verifies a token and reloads its principal
func (s *IdentityService) Resolve(ctx context.Context, token string) (*domain.Principal, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}

	switch claims.Kind {
	case domain.PrincipalAdministrator:
		admin, err := getAs[domain.Administrator](ctx, s.gw, domain.TableAdministrators, "id", claims.Subject, domain.ErrInvalidToken)
		if err != nil {
			return nil, err
		}
		if !admin.IsActive {
			return nil, domain.ErrAccountDisabled
		}
		return domain.AdministratorPrincipal(admin), nil
	case domain.PrincipalLearner:
		student, err := getAs[domain.Student](ctx, s.gw, domain.TableStudents, "id", claims.Subject, domain.ErrInvalidToken)
		if err != nil {
			return nil, err
		}
		if !student.IsActive {
			return nil, domain.ErrAccountDisabled
		}
		return domain.StudentPrincipal(student), nil
	}
	return nil, domain.ErrInvalidToken
}

// RequireAdmin fails unless p holds the admin or super_admin role
func (s *IdentityService) RequireAdmin(p *domain.Principal) error {
	if p == nil {
		return domain.ErrUnauthorized
	}
	if !p.CanAdminister() {
		return domain.ErrAdminRequired
	}
	return nil
}

// CreateAdministrator registers a staff account
func (s *IdentityService) CreateAdministrator(ctx context.Context, username, email, password string, role domain.Role) (*domain.Administrator, error) {
	email = validation.NormalizeEmail(email)
	username = strings.TrimSpace(username)
	if username == "" || email == "" || password == "" {
		return nil, domain.InvalidInput("username, email and password are required")
	}
	if !role.Valid() {
		return nil, domain.InvalidInput("unknown role")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	admin, err := createAs(ctx, s.gw, domain.TableAdministrators, &domain.Administrator{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}, domain.NewError(domain.KindConflict, "administrator_exists", "administrator already exists"))
	if err != nil {
		return nil, err
	}
	s.log.Info("administrator created", "administrator_id", admin.ID, "role", role)
	return admin, nil
}

// GetStudent returns a learner record without its credential
func (s *IdentityService) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	student, err := getAs[domain.Student](ctx, s.gw, domain.TableStudents, "id", id, domain.ErrStudentNotFound)
	if err != nil {
		return nil, err
	}
	student.PasswordHash = ""
	return student, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash password")
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
