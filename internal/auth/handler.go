package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/inaiurai/marketplace/internal/models"
)

// Credentials is the body of both auth endpoints. DisplayName and Role are
// only read by register, where role may be omitted or "seller".
type Credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// TokenResponse is handed to dashboard and console clients for the Authorization header.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (Credentials, bool) {
	var c Credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return c, false
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" || c.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return c, false
	}
	return c, true
}

// Register creates a seller account. Admins are provisioned by operators.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		http.Error(w, "display_name is required", http.StatusBadRequest)
		return
	}
	if c.Role != "" && c.Role != models.RoleSeller {
		h.log.Warn("register with privileged role refused", "email", c.Email, "role", c.Role)
		http.Error(w, "only seller accounts can be registered", http.StatusForbidden)
		return
	}

	u, err := h.svc.Register(r.Context(), c.Email, c.Password, strings.TrimSpace(c.DisplayName), models.RoleSeller)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		http.Error(w, "email already registered", http.StatusConflict)
		return
	case err != nil:
		h.log.Error("register failed", "email", c.Email, "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	writeJSON(w, http.StatusCreated, UserResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	})
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	token, err := h.svc.Login(r.Context(), c.Email, c.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(tokenTTL.Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
