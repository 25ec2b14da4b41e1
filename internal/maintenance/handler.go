package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"pettrack-auth/internal/observability"
)

// PendingPurger deletes members that never finished signup.
type PendingPurger interface {
	DeleteStalePending(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type CleanupResult struct {
	DeletedPendingMembers int64     `json:"deletedPendingMembers"`
	Cutoff                time.Time `json:"cutoff"`
}

type CleanupHandler struct {
	members          PendingPurger
	logger           *observability.Logger
	cronSecret       string
	pendingRetention time.Duration
	batchSize        int
	now              func() time.Time
}

func NewCleanupHandler(
	members PendingPurger,
	logger *observability.Logger,
	cronSecret string,
	pendingRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &CleanupHandler{
		members:          members,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		pendingRetention: pendingRetention,
		batchSize:        batchSize,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := h.now().Add(-h.pendingRetention)
	deleted, err := h.members.DeleteStalePending(r.Context(), cutoff, h.batchSize)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("member_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("member_cleanup_completed", map[string]any{
		"deleted_pending_members": deleted,
		"cutoff":                  cutoff.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": CleanupResult{DeletedPendingMembers: deleted, Cutoff: cutoff},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
