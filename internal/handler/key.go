package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/signsure/signsure/internal/auth"
	"github.com/signsure/signsure/internal/handler/dto"
	"github.com/signsure/signsure/internal/middleware"
	"github.com/signsure/signsure/internal/service"
)

// PublicKeyService looks up a user's public key.
type PublicKeyService interface {
	PublicKey(ctx context.Context, userID string) (string, error)
}

// KeyHandler handles HTTP requests under /api/key.
type KeyHandler struct {
	svc    PublicKeyService
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(svc PublicKeyService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{svc: svc, logger: logger}
}

// PublicKey handles GET /api/key/public_key. Requires the Auth middleware.
func (h *KeyHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "User not authenticated")
		return
	}

	key, err := h.svc.PublicKey(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found")
			return
		}
		h.logger.Error("internal_error",
			"error", err,
			"user_id", userID,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, dto.PublicKeyResponse{
		Success:   true,
		Message:   "Public key is sent",
		PublicKey: key,
	})
}
