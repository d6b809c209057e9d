package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"jelly/internal/database"
	"jelly/models"
	"jelly/services/jellyfin"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailRequired      = errors.New("a valid email is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
	ErrInvalidRole        = errors.New("invalid role")
	ErrLastAdmin          = errors.New("cannot remove the last admin")
	ErrJellyfinDisabled   = errors.New("jellyfin login is not available")
)

const minPasswordLength = 8

// JellyfinAuthenticator checks credentials against the media server.
type JellyfinAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (models.JellyfinUser, error)
}

var _ jellyfin.ProfileStore = (*Service)(nil)

// Service manages Jelly profiles and their sessions.
type Service struct {
	db       *sql.DB
	tokens   *TokenManager
	jellyfin JellyfinAuthenticator

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int

	now func() time.Time
}

// NewService creates a users service backed by db.
func NewService(db *sql.DB, tokens *TokenManager) *Service {
	return &Service{
		db:       db,
		tokens:   tokens,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / 5),
		burst:    5,
		now:      time.Now,
	}
}

// SetJellyfinAuthenticator enables LoginWithJellyfin.
func (s *Service) SetJellyfinAuthenticator(a JellyfinAuthenticator) {
	s.jellyfin = a
}

// SetLoginRate overrides the per-account login attempt budget.
func (s *Service) SetLoginRate(limit rate.Limit, burst int) {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	s.limit, s.burst = limit, burst
	clear(s.limiters)
}

func (s *Service) allowLogin(key string) bool {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = lim
	}
	return lim.Allow()
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrEmailRequired
	}
	return email, nil
}

const profileColumns = `id, email, display_name, role, password_hash, COALESCE(jellyfin_user_id, ''), created_at, last_login_at`

func scanProfile(row interface{ Scan(...any) error }) (models.Profile, error) {
	var (
		p         models.Profile
		createdAt string
		lastLogin sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role, &p.PasswordHash, &p.JellyfinUserID, &createdAt, &lastLogin); err != nil {
		return p, err
	}
	p.CreatedAt = database.ParseTime(createdAt)
	p.LastLoginAt = database.NullTime(lastLogin)
	return p, nil
}

func (s *Service) one(ctx context.Context, where string, args ...any) (models.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrUserNotFound
	}
	return p, err
}

// Get returns a profile by id.
func (s *Service) Get(ctx context.Context, id string) (models.Profile, error) {
	return s.one(ctx, `id = ?`, id)
}

// List returns every profile by creation time.
func (s *Service) List(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at, display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// insert stores a new profile. The first profile ever created becomes admin.
func (s *Service) insert(ctx context.Context, p models.Profile) (models.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count); err != nil {
		return p, err
	}
	if count == 0 {
		p.Role = models.RoleAdmin
	}
	if p.Role == "" {
		p.Role = models.RoleUser
	}
	var jellyfinID any
	if p.JellyfinUserID != "" {
		jellyfinID = p.JellyfinUserID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, email, display_name, role, password_hash, jellyfin_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.DisplayName, p.Role, p.PasswordHash, jellyfinID, database.FormatTime(p.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: profiles.email") {
			return p, ErrEmailTaken
		}
		return p, fmt.Errorf("insert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if p.Role == models.RoleAdmin && count == 0 {
		log.Printf("[users] first profile %s promoted to admin", p.ID)
	}
	return p, nil
}

// Register creates a password profile.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (models.Profile, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Profile{}, err
	}
	if len(password) < minPasswordLength {
		return models.Profile{}, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = email[:strings.IndexByte(email, '@')]
	}
	return s.insert(ctx, models.Profile{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
}

// Login checks a password and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (models.AuthSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !s.allowLogin("email:" + email) {
		return models.AuthSession{}, ErrTooManyAttempts
	}
	p, err := s.one(ctx, `email = ?`, email)
	if errors.Is(err, ErrUserNotFound) {
		return models.AuthSession{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.AuthSession{}, err
	}
	if !p.HasPassword() || bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return models.AuthSession{}, ErrInvalidCredentials
	}
	return s.openSession(ctx, p)
}

// LoginWithJellyfin authenticates against the media server, then links or creates
// the local profile.
func (s *Service) LoginWithJellyfin(ctx context.Context, username, password string) (models.AuthSession, error) {
	if s.jellyfin == nil {
		return models.AuthSession{}, ErrJellyfinDisabled
	}
	if !s.allowLogin("jellyfin:" + strings.ToLower(strings.TrimSpace(username))) {
		return models.AuthSession{}, ErrTooManyAttempts
	}
	ju, err := s.jellyfin.Authenticate(ctx, username, password)
	if errors.Is(err, jellyfin.ErrUnauthorized) {
		return models.AuthSession{}, ErrInvalidCredentials
	}
	if errors.Is(err, jellyfin.ErrNotConfigured) {
		return models.AuthSession{}, ErrJellyfinDisabled
	}
	if err != nil {
		return models.AuthSession{}, err
	}

	existing, err := s.FindByJellyfinID(ctx, ju.ID)
	if err != nil {
		return models.AuthSession{}, err
	}
	var p models.Profile
	if existing != nil {
		p = *existing
	} else {
		p, err = s.CreateFromJellyfin(ctx, ju.ID, ju.Name, ju.IsAdmin)
		if err != nil {
			return models.AuthSession{}, err
		}
	}
	return s.openSession(ctx, p)
}

func (s *Service) openSession(ctx context.Context, p models.Profile) (models.AuthSession, error) {
	token, exp, err := s.tokens.Issue(p.ID, p.Role)
	if err != nil {
		return models.AuthSession{}, fmt.Errorf("issue token: %w", err)
	}
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_login_at = ? WHERE id = ?`, database.FormatTime(now), p.ID); err != nil {
		log.Printf("[users] failed to record login for %s: %v", p.ID, err)
	} else {
		p.LastLoginAt = &now
	}
	return models.AuthSession{Token: token, ExpiresAt: exp, Profile: p}, nil
}

// Authenticate resolves a session token to the current profile.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Profile, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return models.Profile{}, err
	}
	p, err := s.Get(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return p, ErrInvalidToken
	}
	return p, err
}

// SetRole changes a profile's role. The last admin cannot be demoted.
func (s *Service) SetRole(ctx context.Context, id, role string) (models.Profile, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return models.Profile{}, ErrInvalidRole
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Role == role {
		return p, nil
	}
	if p.IsAdmin() {
		if err := s.ensureOtherAdmin(ctx, id); err != nil {
			return p, err
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE profiles SET role = ? WHERE id = ?`, role, id); err != nil {
		return p, err
	}
	p.Role = role
	return p, nil
}

// Delete removes a profile with its requests, progress and factors.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.IsAdmin() {
		if err := s.ensureOtherAdmin(ctx, id); err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	return err
}

func (s *Service) ensureOtherAdmin(ctx context.Context, id string) error {
	var admins int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE role = ? AND id != ?`, models.RoleAdmin, id).Scan(&admins); err != nil {
		return err
	}
	if admins == 0 {
		return ErrLastAdmin
	}
	return nil
}

// FindByJellyfinID returns the linked profile or nil.
func (s *Service) FindByJellyfinID(ctx context.Context, jellyfinID string) (*models.Profile, error) {
	p, err := s.one(ctx, `jellyfin_user_id = ?`, jellyfinID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateFromJellyfin creates a passwordless profile linked to a media server account.
func (s *Service) CreateFromJellyfin(ctx context.Context, jellyfinID, name string, admin bool) (models.Profile, error) {
	p := models.Profile{
		ID:             uuid.NewString(),
		Email:          strings.ToLower(jellyfinID) + "@jellyfin.local",
		DisplayName:    strings.TrimSpace(name),
		JellyfinUserID: jellyfinID,
		CreatedAt:      s.now().UTC(),
	}
	if admin {
		p.Role = models.RoleAdmin
	}
	return s.insert(ctx, p)
}

// LinkJellyfin attaches a media server account to an existing profile.
func (s *Service) LinkJellyfin(ctx context.Context, profileID, jellyfinID string) (models.Profile, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET jellyfin_user_id = ? WHERE id = ?`, jellyfinID, profileID)
	if err != nil {
		return models.Profile{}, fmt.Errorf("link jellyfin user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Profile{}, ErrUserNotFound
	}
	return s.Get(ctx, profileID)
}
