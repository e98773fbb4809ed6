package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"example.com/arbiter/internal/auth"
)

// AuthHandler logs the single configured operator in.
type AuthHandler struct {
	Auth                 *auth.Service
	OperatorUser         string
	OperatorPasswordHash string // bcrypt; empty disables login
	TokenTTL             time.Duration
	Log                  *slog.Logger
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if h.OperatorPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "login_disabled", "no operator password configured")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "username and password are required")
		return
	}

	// the hash is compared even for a wrong user so both paths cost the same
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.OperatorUser)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.OperatorPasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger().Warn("operator login rejected", "user", req.Username, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := h.Auth.Sign(h.OperatorUser, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}

	h.logger().Info("operator logged in", "user", h.OperatorUser)
	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}

func (h *AuthHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
