package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"jelly/models"
)

const maxBodyBytes = 1 << 20

type profileKey struct{}

// WithProfile stores the authenticated profile on the request context.
func WithProfile(ctx context.Context, p models.Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

// ProfileFromContext returns the profile set by the auth middleware.
func ProfileFromContext(ctx context.Context) (models.Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(models.Profile)
	return p, ok
}

func requireProfile(w http.ResponseWriter, r *http.Request) (models.Profile, bool) {
	p, ok := ProfileFromContext(r.Context())
	if !ok || p.ID == "" {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return models.Profile{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON payload"
		if !errors.Is(err, io.EOF) {
			msg += ": " + err.Error()
		}
		writeJSONError(w, msg, http.StatusBadRequest)
		return false
	}
	return true
}

func pathInt64(w http.ResponseWriter, raw, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt returns the integer query parameter or def when it is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// auditRecorder is implemented by the audit service.
type auditRecorder interface {
	Record(ctx context.Context, actorID, action, entityType, entityID string, details any) (models.AuditEntry, error)
}

// recordAudit writes an audit entry for an admin mutation. Failures are logged only.
func recordAudit(r *http.Request, rec auditRecorder, action, entityType, entityID string, details any) {
	if rec == nil {
		return
	}
	actor, _ := ProfileFromContext(r.Context())
	if _, err := rec.Record(r.Context(), actor.ID, action, entityType, entityID, details); err != nil {
		log.Printf("[audit] failed to record %s on %s %s: %v", action, entityType, entityID, err)
	}
}
