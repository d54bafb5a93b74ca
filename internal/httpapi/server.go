// Package httpapi is the HTTP/SSE collaborator layer described in spec
// §6: it projects the engine's programmatic interfaces onto a wire
// surface, but owns none of the engine's state itself. Swapping it for a
// websocket or long-poll collaborator would not touch internal/taskengine
// at all.
package httpapi

import (
	"net/http"
	"time"

	"taskengine/internal/taskengine"
	logx "taskengine/pkg/logx"
)

// KeepaliveInterval is how often an idle SSE stream sends a comment frame
// to keep intermediaries from closing the connection, per spec §6.
const KeepaliveInterval = 10 * time.Second

// Server mounts the task engine's HTTP surface under a caller-chosen
// prefix (commonly "/api/tasks").
type Server struct {
	engine *taskengine.Engine
	log    logx.Logger
}

// NewServer builds a Server bound to engine.
func NewServer(engine *taskengine.Engine, log logx.Logger) *Server {
	return &Server{engine: engine, log: log}
}

// Mount registers every route from spec §6 onto mux under prefix (an empty
// prefix mounts at root). Routes use Go 1.22+ ServeMux method+pattern
// matching, so method dispatch needs no separate router dependency.
func (s *Server) Mount(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/queue", s.handleQueue)
	mux.HandleFunc("GET "+prefix+"/queue/stream", s.handleQueueStream)
	mux.HandleFunc("GET "+prefix+"/{task_id}/stream", s.handleTaskStream)
	mux.HandleFunc("DELETE "+prefix+"/completed", s.handleDeleteCompleted)
	mux.HandleFunc("DELETE "+prefix+"/{task_id}", s.handleDeleteTask)
	mux.HandleFunc("POST "+prefix+"/search", s.handleSearch)
	mux.HandleFunc("GET "+prefix+"/recurring", s.handleListRecurring)
	mux.HandleFunc("PATCH "+prefix+"/recurring/{id}/enable", s.handleRecurringEnable)
	mux.HandleFunc("PATCH "+prefix+"/recurring/{id}/disable", s.handleRecurringDisable)
	mux.HandleFunc("POST "+prefix+"/example_cpu_task", s.handleExampleCPUTask)
	mux.HandleFunc("POST "+prefix+"/example_io_task", s.handleExampleIOTask)
}
