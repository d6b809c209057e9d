package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"jelly/config"
	"jelly/handlers"
	"jelly/services/scheduler"
)

type fakeScheduler struct {
	tasks   []config.ScheduledTask
	running map[string]bool
	ran     []string
}

func (f *fakeScheduler) GetTaskStatus() []config.ScheduledTask { return f.tasks }

func (f *fakeScheduler) RunTaskNow(taskID string) error {
	if f.running[taskID] {
		return scheduler.ErrTaskRunning
	}
	for _, t := range f.tasks {
		if t.ID == taskID {
			f.ran = append(f.ran, taskID)
			return nil
		}
	}
	return scheduler.ErrTaskNotFound
}

func (f *fakeScheduler) IsTaskRunning(taskID string) bool { return f.running[taskID] }

func TestListTasksNeverNull(t *testing.T) {
	handler := handlers.NewScheduledTasksHandler(newSettingsManager(t), &fakeScheduler{}, nil)
	rec := httptest.NewRecorder()
	handler.ListTasks(rec, httptest.NewRequest(http.MethodGet, "/api/admin/scheduled-tasks", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != `{"tasks":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestUpdateTask(t *testing.T) {
	manager := newSettingsManager(t)
	audit := &fakeAudit{}
	handler := handlers.NewScheduledTasksHandler(manager, &fakeScheduler{}, audit)

	update := func(taskID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/admin/scheduled-tasks/"+taskID, strings.NewReader(body))
		req = mux.SetURLVars(asAdmin(req, "admin"), map[string]string{"taskID": taskID})
		rec := httptest.NewRecorder()
		handler.UpdateTask(rec, req)
		return rec
	}

	rec := update("catalog-sync", `{"frequency":"6hours","enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var task config.ScheduledTask
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatal(err)
	}
	if task.Frequency != config.ScheduledTaskFrequency6Hours || task.Enabled {
		t.Fatalf("unexpected task %+v", task)
	}

	stored, err := manager.LoadFile()
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range stored.ScheduledTasks.Tasks {
		if st.ID == "catalog-sync" && (st.Enabled || st.Frequency != config.ScheduledTaskFrequency6Hours) {
			t.Fatalf("update not persisted: %+v", st)
		}
	}
	if len(audit.actions) != 1 || audit.actions[0] != "task.update" {
		t.Fatalf("unexpected audit %v", audit.actions)
	}

	if rec := update("catalog-sync", `{"frequency":"fortnightly"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown frequency, got %d", rec.Code)
	}
	if rec := update("missing", `{"enabled":true}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rec.Code)
	}
}

func TestRunTaskNow(t *testing.T) {
	sched := &fakeScheduler{
		tasks:   []config.ScheduledTask{{ID: "uptime-probe"}, {ID: "catalog-sync"}},
		running: map[string]bool{"catalog-sync": true},
	}
	handler := handlers.NewScheduledTasksHandler(newSettingsManager(t), sched, nil)

	run := func(taskID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/scheduled-tasks/"+taskID+"/run", nil)
		req = mux.SetURLVars(asAdmin(req, "admin"), map[string]string{"taskID": taskID})
		rec := httptest.NewRecorder()
		handler.RunTaskNow(rec, req)
		return rec.Code
	}

	if code := run("uptime-probe"); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code := run("catalog-sync"); code != http.StatusConflict {
		t.Fatalf("expected 409 for a running task, got %d", code)
	}
	if code := run("nope"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if len(sched.ran) != 1 || sched.ran[0] != "uptime-probe" {
		t.Fatalf("unexpected runs %v", sched.ran)
	}
}
