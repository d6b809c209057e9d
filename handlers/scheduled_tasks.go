package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"jelly/config"
	"jelly/services/scheduler"
)

type taskScheduler interface {
	GetTaskStatus() []config.ScheduledTask
	RunTaskNow(taskID string) error
	IsTaskRunning(taskID string) bool
}

var _ taskScheduler = (*scheduler.Service)(nil)

// ScheduledTasksHandler handles scheduled tasks API endpoints
type ScheduledTasksHandler struct {
	configManager    *config.Manager
	schedulerService taskScheduler
	audit            auditRecorder
}

// NewScheduledTasksHandler creates a new scheduled tasks handler
func NewScheduledTasksHandler(configManager *config.Manager, schedulerService taskScheduler, audit auditRecorder) *ScheduledTasksHandler {
	return &ScheduledTasksHandler{
		configManager:    configManager,
		schedulerService: schedulerService,
		audit:            audit,
	}
}

// ListTasks returns all scheduled tasks with current status
// GET /api/admin/scheduled-tasks
func (h *ScheduledTasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.schedulerService.GetTaskStatus()
	if tasks == nil {
		tasks = []config.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// UpdateTask changes the frequency or the enabled flag of a task
// PUT /api/admin/scheduled-tasks/{taskID}
func (h *ScheduledTasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	var req struct {
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Enabled   *bool                         `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Frequency != "" && !req.Frequency.Valid() {
		writeJSONError(w, "unknown frequency", http.StatusBadRequest)
		return
	}

	var updated *config.ScheduledTask
	err := h.configManager.Update(func(s *config.Settings) {
		for i := range s.ScheduledTasks.Tasks {
			task := &s.ScheduledTasks.Tasks[i]
			if task.ID != taskID {
				continue
			}
			if req.Frequency != "" {
				task.Frequency = req.Frequency
			}
			if req.Enabled != nil {
				task.Enabled = *req.Enabled
			}
			copied := *task
			updated = &copied
			return
		}
	})
	if err != nil {
		writeJSONError(w, "failed to save settings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if updated == nil {
		writeJSONError(w, "task not found", http.StatusNotFound)
		return
	}

	recordAudit(r, h.audit, "task.update", "task", taskID, req)
	writeJSON(w, http.StatusOK, updated)
}

// RunTaskNow triggers immediate execution of a task
// POST /api/admin/scheduled-tasks/{taskID}/run
func (h *ScheduledTasksHandler) RunTaskNow(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	if err := h.schedulerService.RunTaskNow(taskID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrTaskNotFound):
			status = http.StatusNotFound
		case errors.Is(err, scheduler.ErrTaskRunning):
			status = http.StatusConflict
		}
		writeJSONError(w, err.Error(), status)
		return
	}

	recordAudit(r, h.audit, "task.run", "task", taskID, nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "task execution started"})
}
