package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/auth"
	"github.com/celestialseal/server/pkg/apierror"
)

// UserHandler serves admin user lookups
type UserHandler struct {
	authService *auth.AuthService
	log         *slog.Logger
}

func NewUserHandler(authService *auth.AuthService, log *slog.Logger) *UserHandler {
	return &UserHandler{authService: authService, log: log}
}

// HandleGet handles GET /users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, h.log, apierror.BadRequest("invalid user id"))
		return
	}
	user, err := h.authService.GetUser(r.Context(), id)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}
