package httpapi

import (
	"encoding/json"
	"net/http"

	"taskengine/internal/task/record"
	"taskengine/internal/task/recurring"
	"taskengine/internal/task/scheduler"
)

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.List())
}

func (s *Server) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	sub := s.engine.Bus.Subscribe(scheduler.QueueTopic, 0)
	streamSSE(w, r, sub)
}

func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if _, ok := s.engine.Get(taskID); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	sub := s.engine.Bus.Subscribe(record.Topic(taskID), 0)
	streamSSE(w, r, sub)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if !s.engine.Delete(taskID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteCompletedResponse struct {
	DeletedCount int    `json:"deleted_count"`
	FailedCount  int    `json:"failed_count"`
	Message      string `json:"message"`
}

func (s *Server) handleDeleteCompleted(w http.ResponseWriter, r *http.Request) {
	deleted, failed := s.engine.DeleteCompleted()
	writeJSON(w, http.StatusOK, deleteCompletedResponse{
		DeletedCount: deleted,
		FailedCount:  failed,
		Message:      "completed tasks removed",
	})
}

type searchResponse struct {
	TaskIDs []string `json:"task_ids"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var criteria map[string]string
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		writeError(w, http.StatusBadRequest, "malformed search criteria")
		return
	}
	ids := s.engine.Search(criteria)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, searchResponse{TaskIDs: ids})
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Recurring.List())
}

func (s *Server) handleRecurringEnable(w http.ResponseWriter, r *http.Request) {
	s.setRecurringEnabled(w, r, true)
}

func (s *Server) handleRecurringDisable(w http.ResponseWriter, r *http.Request) {
	s.setRecurringEnabled(w, r, false)
}

func (s *Server) setRecurringEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	var err error
	if enabled {
		err = s.engine.Recurring.Enable(id)
	} else {
		err = s.engine.Recurring.Disable(id)
	}
	switch err {
	case nil:
		info, _ := s.engine.Recurring.Get(id)
		writeJSON(w, http.StatusOK, info)
	case recurring.ErrNotFound:
		writeError(w, http.StatusNotFound, "recurrence not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type taskIDResponse struct {
	TaskID string `json:"task_id"`
}

type exampleTaskRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleExampleCPUTask(w http.ResponseWriter, r *http.Request) {
	var req exampleTaskRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	taskID, err := s.engine.SubmitExampleCPUTask(req.Name)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskIDResponse{TaskID: taskID})
}

func (s *Server) handleExampleIOTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.engine.SubmitExampleIOTask()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskIDResponse{TaskID: taskID})
}
