package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/service/orch"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// Launcher starts the background phase walk for a newly created run.
type Launcher interface {
	Launch(ctx context.Context, runID uuid.UUID)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	orch                *orch.Service
	bus                 *bus.Bus
	launcher            Launcher
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	streamHeartbeat     time.Duration
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Launcher.
type HandlersDeps struct {
	Store               storage.Store
	Orch                *orch.Service
	Bus                 *bus.Bus
	Launcher            Launcher
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	StreamHeartbeat     time.Duration
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	hb := d.StreamHeartbeat
	if hb <= 0 {
		hb = 25 * time.Second
	}
	return &Handlers{
		store:               d.Store,
		orch:                d.Orch,
		bus:                 d.Bus,
		launcher:            d.Launcher,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		streamHeartbeat:     hb,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":         status,
		"store":          storeStatus,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// pathUUID parses the named path parameter as a UUID. On failure it writes
// a 400 and returns false.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service and storage errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, orch.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "conflicting concurrent update, retry")
	default:
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}
