package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"launchpad/store"
)

// Authenticator registers users and issues tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (store.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// AuthHandler serves /register and /login.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(a Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: a, logger: logger}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates a user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if _, err := h.auth.Register(r.Context(), c.Username, c.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("User registered", "username", c.Username)
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "User registered successfully"})
}

// Login exchanges credentials for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	token, err := h.auth.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		h.logger.Warn("Login failed", "username", c.Username, "error", err)
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "token": token})
}

// RegisterAuthHandlers registers the unauthenticated account routes.
func (h *AuthHandler) RegisterAuthHandlers(router *mux.Router) {
	router.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	router.HandleFunc("/login", h.Login).Methods(http.MethodPost)
}
