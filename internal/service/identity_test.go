package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
)

const testSecret = "test-secret-with-enough-entropy"

func (f *fixture) identity() *IdentityService {
	s := NewIdentityService(f.store, testSecret, time.Hour, f.log)
	s.now = f.clock.Now
	return s
}

func TestLoginProvisionsLearner(t *testing.T) {
	f := newFixture(t, false)
	svc := f.identity()

	res, err := svc.Login(f.ctx, "  Khadija@Example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "bearer", res.TokenType)
	assert.NotEmpty(t, res.Token)
	assert.True(t, res.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)))
	require.True(t, res.Principal.IsLearner())
	assert.Equal(t, "khadija@example.com", res.Principal.Email)
	assert.Equal(t, "khadija", res.Principal.Name)

	st, err := svc.GetStudent(f.ctx, res.Principal.ID)
	require.NoError(t, err)
	assert.Empty(t, st.PasswordHash)
	assert.True(t, st.IsActive)
	assert.Equal(t, domain.DefaultLevel, st.CurrentLevel)
	assert.Equal(t, 0, st.TotalScore)

	p, err := svc.Resolve(f.ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Principal.ID, p.ID)
	assert.True(t, p.IsLearner())

	again, err := svc.Login(f.ctx, "khadija@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, res.Principal.ID, again.Principal.ID)
	assert.Len(t, rows(f.store, domain.TableStudents), 1)

	_, err = svc.Login(f.ctx, "khadija@example.com", "wrong")
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestLoginSeededLearnerTakesFirstPassword(t *testing.T) {
	f := newFixture(t, false)
	seeded := f.student(t, "seeded@example.com")
	svc := f.identity()

	res, err := svc.Login(f.ctx, "seeded@example.com", "first")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, res.Principal.ID)

	_, err = svc.Login(f.ctx, "seeded@example.com", "second")
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))

	_, err = svc.Login(f.ctx, "seeded@example.com", "first")
	assert.NoError(t, err)
}

func TestLoginRejections(t *testing.T) {
	f := newFixture(t, false)
	svc := f.identity()
	disabled := f.student(t, "disabled@example.com")
	_, err := f.store.Update(f.ctx, domain.TableStudents, "id", disabled.ID, gateway.Record{"is_active": false})
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "empty email", email: " ", password: "x", want: domain.InvalidInput("")},
		{name: "empty password", email: "a@example.com", password: "", want: domain.InvalidInput("")},
		{name: "disabled learner", email: "disabled@example.com", password: "x", want: domain.ErrAccountDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(f.ctx, tt.email, tt.password)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAdministratorLogin(t *testing.T) {
	f := newFixture(t, false)
	svc := f.identity()

	admin, err := svc.CreateAdministrator(f.ctx, "root", "Root@Example.com", "hunter2", domain.RoleSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", admin.Email)

	_, err = svc.CreateAdministrator(f.ctx, "root", "other@example.com", "x", domain.RoleAdmin)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	_, err = svc.CreateAdministrator(f.ctx, "bad", "bad@example.com", "x", "owner")
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	res, err := svc.Login(f.ctx, "root@example.com", "hunter2")
	require.NoError(t, err)
	require.True(t, res.Principal.IsAdministrator())
	assert.Equal(t, domain.RoleSuperAdmin, res.Principal.Role)

	p, err := svc.Resolve(f.ctx, res.Token)
	require.NoError(t, err)
	assert.NoError(t, svc.RequireAdmin(p))

	// an administrator email never falls through to learner provisioning
	_, err = svc.Login(f.ctx, "root@example.com", "wrong")
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	assert.Empty(t, rows(f.store, domain.TableStudents))

	_, err = f.store.Update(f.ctx, domain.TableAdministrators, "id", admin.ID, gateway.Record{"is_active": false})
	require.NoError(t, err)
	_, err = svc.Login(f.ctx, "root@example.com", "hunter2")
	assert.True(t, errors.Is(err, domain.ErrAccountDisabled))
	_, err = svc.Resolve(f.ctx, res.Token)
	assert.True(t, errors.Is(err, domain.ErrAccountDisabled))
}

func TestRequireAdmin(t *testing.T) {
	svc := &IdentityService{}
	tests := []struct {
		name string
		p    *domain.Principal
		want error
	}{
		{name: "anonymous", p: nil, want: domain.ErrUnauthorized},
		{name: "learner", p: &domain.Principal{Kind: domain.PrincipalLearner}, want: domain.ErrAdminRequired},
		{name: "moderator", p: &domain.Principal{Kind: domain.PrincipalAdministrator, Role: domain.RoleModerator}, want: domain.ErrAdminRequired},
		{name: "admin", p: &domain.Principal{Kind: domain.PrincipalAdministrator, Role: domain.RoleAdmin}},
		{name: "super admin", p: &domain.Principal{Kind: domain.PrincipalAdministrator, Role: domain.RoleSuperAdmin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RequireAdmin(tt.p)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	f := newFixture(t, false)
	svc := f.identity()
	res, err := svc.Login(f.ctx, "token@example.com", "pw")
	require.NoError(t, err)

	other := NewIdentityService(f.store, "another-secret", time.Hour, f.log)
	other.now = f.clock.Now
	foreign, err := other.Login(f.ctx, "token@example.com", "pw")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Kind:             domain.PrincipalLearner,
		RegisteredClaims: jwt.RegisteredClaims{Subject: res.Principal.ID, ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind:             domain.PrincipalLearner,
		RegisteredClaims: jwt.RegisteredClaims{Subject: res.Principal.ID},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	ghost, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind:             domain.PrincipalLearner,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ghost", ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"tampered":     res.Token + "x",
		"wrong secret": foreign.Token,
		"alg none":     unsigned,
		"no expiry":    noExpiry,
		"unknown user": ghost,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Resolve(f.ctx, token)
			assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err), "got %v", err)
		})
	}

	f.clock.Advance(time.Hour + time.Minute)
	_, err = svc.Resolve(f.ctx, res.Token)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}
