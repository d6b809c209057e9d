package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"jelly/models"
	"jelly/services/users"

	"github.com/gorilla/mux"
)

type userService interface {
	Register(ctx context.Context, email, password, displayName string) (models.Profile, error)
	Login(ctx context.Context, email, password string) (models.AuthSession, error)
	LoginWithJellyfin(ctx context.Context, username, password string) (models.AuthSession, error)
	Get(ctx context.Context, id string) (models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	SetRole(ctx context.Context, id, role string) (models.Profile, error)
	Delete(ctx context.Context, id string) error
	Factors(ctx context.Context, userID string) ([]models.MFAFactor, error)
	Unenroll(ctx context.Context, userID, factorID string) error
}

var _ userService = (*users.Service)(nil)

type UsersHandler struct {
	Service userService
	Audit   auditRecorder
}

func NewUsersHandler(service userService, audit auditRecorder) *UsersHandler {
	return &UsersHandler{Service: service, Audit: audit}
}

func userErrorStatus(err error) int {
	switch {
	case errors.Is(err, users.ErrEmailRequired),
		errors.Is(err, users.ErrPasswordTooShort),
		errors.Is(err, users.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, users.ErrJellyfinDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, users.ErrUserNotFound), errors.Is(err, users.ErrFactorNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrEmailTaken), errors.Is(err, users.ErrLastAdmin):
		return http.StatusConflict
	case errors.Is(err, users.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Register creates a profile. POST /api/auth/register
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, err := h.Service.Register(r.Context(), body.Email, body.Password, body.DisplayName); err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	session, err := h.Service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Login exchanges email and password for a session token. POST /api/auth/login
func (h *UsersHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	session, err := h.Service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// JellyfinLogin authenticates against the media server. POST /api/auth/jellyfin
func (h *UsersHandler) JellyfinLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		writeJSONError(w, "username is required", http.StatusBadRequest)
		return
	}
	session, err := h.Service.LoginWithJellyfin(r.Context(), body.Username, body.Password)
	if err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Me returns the caller's profile. GET /api/me
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MyFactors lists the caller's MFA factors. GET /api/me/mfa
func (h *UsersHandler) MyFactors(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	h.writeFactors(w, r, p.ID)
}

// UnenrollMine removes one of the caller's factors. DELETE /api/me/mfa/{factorID}
func (h *UsersHandler) UnenrollMine(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	factorID := strings.TrimSpace(mux.Vars(r)["factorID"])
	if err := h.Service.Unenroll(r.Context(), p.ID, factorID); err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns every profile. GET /api/admin/profiles
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Service.List(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// SetRole changes a profile role. PUT /api/admin/profiles/{userID}/role
func (h *UsersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userID"])
	var body struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	profile, err := h.Service.SetRole(r.Context(), userID, body.Role)
	if err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "profile.role", "profile", userID, map[string]string{"role": profile.Role})
	writeJSON(w, http.StatusOK, profile)
}

// Delete removes a profile. DELETE /api/admin/profiles/{userID}
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userID"])
	if me, ok := ProfileFromContext(r.Context()); ok && me.ID == userID {
		writeJSONError(w, "cannot delete your own profile", http.StatusConflict)
		return
	}
	if err := h.Service.Delete(r.Context(), userID); err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "profile.delete", "profile", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Factors lists the MFA factors of any profile. GET /api/admin/profiles/{userID}/mfa
func (h *UsersHandler) Factors(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userID"])
	if _, err := h.Service.Get(r.Context(), userID); err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	h.writeFactors(w, r, userID)
}

// Unenroll removes a factor from any profile. DELETE /api/admin/profiles/{userID}/mfa/{factorID}
func (h *UsersHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["userID"])
	factorID := strings.TrimSpace(vars["factorID"])
	if err := h.Service.Unenroll(r.Context(), userID, factorID); err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "mfa.unenroll", "profile", userID, map[string]string{"factorId": factorID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *UsersHandler) writeFactors(w http.ResponseWriter, r *http.Request, userID string) {
	factors, err := h.Service.Factors(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err.Error(), userErrorStatus(err))
		return
	}
	if factors == nil {
		factors = []models.MFAFactor{}
	}
	writeJSON(w, http.StatusOK, factors)
}
