package handlers

import (
	"context"
	"net/http"

	"jelly/models"
	"jelly/services/audit"
)

type auditService interface {
	auditRecorder
	List(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error)
}

var _ auditService = (*audit.Service)(nil)

type AuditHandler struct {
	Service auditService
}

func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{Service: service}
}

// List returns audit entries, newest first.
// GET /api/admin/audit?actor=&entity=&action=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Service.List(r.Context(), models.AuditFilter{
		ActorID:    q.Get("actor"),
		EntityType: q.Get("entity"),
		Action:     q.Get("action"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
