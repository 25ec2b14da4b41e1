package member

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/session"
)

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// Sessions is the part of the refresh session store needed to sign out a
// member whose account was restricted.
type Sessions interface {
	FindByPrincipal(ctx context.Context, principalID string) (*session.Record, error)
	Delete(ctx context.Context, record *session.Record) error
}

type Handler struct {
	members  StatusUpdater
	sessions Sessions
	logger   *observability.Logger
}

func NewHandler(members StatusUpdater, sessions Sessions, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{members: members, sessions: sessions, logger: logger}
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus changes a member's account status. Moving a member into a
// restricted status also drops their refresh session.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var body statusRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	status, ok := parseStatus(body.Status)
	if id == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	if err := h.members.UpdateStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
			return
		}
		h.fail(w, "member_status_update_failed", err)
		return
	}

	if status.Restricted() {
		if err := h.dropSession(r.Context(), id); err != nil {
			h.fail(w, "member_session_drop_failed", err)
			return
		}
	}

	h.logger.Info("member_status_updated", map[string]any{"member_id": id, "status": string(status)})
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

func (h *Handler) dropSession(ctx context.Context, principalID string) error {
	record, err := h.sessions.FindByPrincipal(ctx, principalID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.sessions.Delete(ctx, record); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, event string, err error) {
	sentry.CaptureException(err)
	h.logger.Error(event, map[string]any{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// parseStatus accepts every status an operator may set. REGISTER is only
// ever assigned at provisioning.
func parseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusActive, StatusSuspended, StatusDormant, StatusDeleted:
		return s, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
