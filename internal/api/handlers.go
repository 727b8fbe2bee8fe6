package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/httputil"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	contacts *contact.Service
	db       *sql.DB
}

// NewHandlers creates a new Handlers instance
func NewHandlers(contacts *contact.Service, db *sql.DB) *Handlers {
	return &Handlers{contacts: contacts, db: db}
}

// Root handles GET /, identifying the service for humans poking at the
// base URL.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"service":     "ctms-api",
		"description": "Mozilla contact management system",
	})
}

// HealthCheck handles GET /health with a plain liveness answer.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// LBHeartbeat handles GET /__lbheartbeat__. Load balancers only need
// to know the process answers; no dependencies are checked.
func (h *Handlers) LBHeartbeat(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]bool{"ok": true})
}

// Heartbeat handles GET /__heartbeat__, reporting backing-store health.
// A failing database answers 503 so orchestrators rotate the instance.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbUp := true
	if err := h.db.PingContext(ctx); err != nil {
		dbUp = false
	}
	status := http.StatusOK
	if !dbUp {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]bool{"database": dbUp})
}
