package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ahandley/textline/internal/dispatch"
)

// AnnouncementHandler starts operator-initiated fan-outs.
type AnnouncementHandler struct {
	scheduler *dispatch.Scheduler
	logger    *slog.Logger
}

// NewAnnouncementHandler creates an AnnouncementHandler.
func NewAnnouncementHandler(scheduler *dispatch.Scheduler, logger *slog.Logger) *AnnouncementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnnouncementHandler{scheduler: scheduler, logger: logger}
}

type announcementRequest struct {
	Body       string               `json:"body"`
	Recipients []dispatch.Recipient `json:"recipients"`
}

// ServeHTTP runs the fan-out synchronously and returns the full
// per-recipient accounting.
func (h *AnnouncementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req announcementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Body == "" || len(req.Recipients) == 0 {
		http.Error(w, "body and recipients are required", http.StatusBadRequest)
		return
	}

	result, err := h.scheduler.SendAnnouncement(r.Context(), req.Recipients, req.Body)
	if err != nil {
		AddError(r.Context(), err)
		http.Error(w, "announcement interrupted", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("announcement response not encoded", slog.String("error", err.Error()))
	}
}
