package users_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"jelly/internal/database"
	"jelly/models"
	"jelly/services/jellyfin"
	"jelly/services/users"
)

func newService(t *testing.T) (*users.Service, *sql.DB) {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "jelly.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return users.NewService(db, users.NewTokenManager("test-secret", time.Hour)), db
}

func TestFirstRegisteredUserBecomesAdmin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "Admin@Example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Role != models.RoleAdmin || first.Email != "admin@example.com" || first.DisplayName != "admin" {
		t.Fatalf("unexpected first profile %+v", first)
	}

	second, err := svc.Register(ctx, "bob@example.com", "correct horse", "Bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if second.Role != models.RoleUser {
		t.Fatalf("expected second profile to be a user, got %s", second.Role)
	}

	if _, err := svc.Register(ctx, "bob@example.com", "another password", "Bobby"); !errors.Is(err, users.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := svc.Register(ctx, "not-an-email", "correct horse", ""); !errors.Is(err, users.ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := svc.Register(ctx, "c@example.com", "short", ""); !errors.Is(err, users.ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice@example.com", "correct horse", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, users.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "whatever"); !errors.Is(err, users.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	session, err := svc.Login(ctx, " ALICE@example.com ", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token == "" || session.Profile.LastLoginAt == nil {
		t.Fatalf("unexpected session %+v", session)
	}

	profile, err := svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if profile.ID != session.Profile.ID {
		t.Fatalf("token resolved to %s, want %s", profile.ID, session.Profile.ID)
	}

	if _, err := svc.Authenticate(ctx, session.Token+"x"); !errors.Is(err, users.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	svc, _ := newService(t)
	svc.SetLoginRate(rate.Every(time.Hour), 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, "x@example.com", "nope"); !errors.Is(err, users.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := svc.Login(ctx, "x@example.com", "nope"); !errors.Is(err, users.ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	tm := users.NewTokenManager("secret", time.Millisecond)
	token, _, err := tm.Issue("p1", models.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := tm.Verify(token); !errors.Is(err, users.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	other := users.NewTokenManager("other-secret", time.Hour)
	token, _, _ = other.Issue("p1", models.RoleUser)
	if _, err := tm.Verify(token); !errors.Is(err, users.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestRoleChangesKeepOneAdmin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin, _ := svc.Register(ctx, "admin@example.com", "correct horse", "")
	user, _ := svc.Register(ctx, "user@example.com", "correct horse", "")

	if _, err := svc.SetRole(ctx, admin.ID, models.RoleUser); !errors.Is(err, users.ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	if err := svc.Delete(ctx, admin.ID); !errors.Is(err, users.ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on delete, got %v", err)
	}
	if _, err := svc.SetRole(ctx, user.ID, "owner"); !errors.Is(err, users.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	promoted, err := svc.SetRole(ctx, user.ID, models.RoleAdmin)
	if err != nil || !promoted.IsAdmin() {
		t.Fatalf("promote: %+v %v", promoted, err)
	}
	if err := svc.Delete(ctx, admin.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, admin.ID); !errors.Is(err, users.ErrUserNotFound) {
		t.Fatalf("expected deleted profile to be gone, got %v", err)
	}
}

func TestFactorsListAndUnenroll(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	p, _ := svc.Register(ctx, "alice@example.com", "correct horse", "")
	_, err := db.Exec(`INSERT INTO mfa_factors (id, user_id, factor_type, friendly_name, status, created_at) VALUES ('f1', ?, 'totp', 'phone app', 'verified', ?)`,
		p.ID, database.FormatTime(time.Now()))
	if err != nil {
		t.Fatalf("insert factor: %v", err)
	}

	factors, err := svc.Factors(ctx, p.ID)
	if err != nil || len(factors) != 1 || factors[0].FactorType != "totp" {
		t.Fatalf("unexpected factors %+v %v", factors, err)
	}
	if err := svc.Unenroll(ctx, "someone-else", "f1"); !errors.Is(err, users.ErrFactorNotFound) {
		t.Fatalf("expected ErrFactorNotFound, got %v", err)
	}
	if err := svc.Unenroll(ctx, p.ID, "f1"); err != nil {
		t.Fatalf("unenroll: %v", err)
	}
	factors, _ = svc.Factors(ctx, p.ID)
	if len(factors) != 0 {
		t.Fatalf("expected no factors left, got %d", len(factors))
	}
}

type fakeJellyfin struct {
	user models.JellyfinUser
}

func (f fakeJellyfin) Authenticate(ctx context.Context, username, password string) (models.JellyfinUser, error) {
	if password != "pw" {
		return models.JellyfinUser{}, jellyfin.ErrUnauthorized
	}
	return f.user, nil
}

func TestLoginWithJellyfinCreatesThenReusesProfile(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.LoginWithJellyfin(ctx, "jf", "pw"); !errors.Is(err, users.ErrJellyfinDisabled) {
		t.Fatalf("expected ErrJellyfinDisabled, got %v", err)
	}

	if _, err := svc.Register(ctx, "admin@example.com", "correct horse", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.SetJellyfinAuthenticator(fakeJellyfin{user: models.JellyfinUser{ID: "JF1", Name: "Carol"}})

	if _, err := svc.LoginWithJellyfin(ctx, "carol", "bad"); !errors.Is(err, users.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	first, err := svc.LoginWithJellyfin(ctx, "carol", "pw")
	if err != nil {
		t.Fatalf("jellyfin login: %v", err)
	}
	if first.Profile.JellyfinUserID != "JF1" || first.Profile.Role != models.RoleUser || first.Profile.HasPassword() {
		t.Fatalf("unexpected profile %+v", first.Profile)
	}

	second, err := svc.LoginWithJellyfin(ctx, "carol", "pw")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Profile.ID != first.Profile.ID {
		t.Fatalf("expected the linked profile to be reused")
	}
}
