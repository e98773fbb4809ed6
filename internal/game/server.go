package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"example.com/arbiter/internal/httpapi"
)

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch *Orchestrator
	hub  *Hub
	log  *slog.Logger
}

func NewServer(orch *Orchestrator, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orch: orch, hub: hub, log: log.With("component", "http")}
}

// RegisterRoutes mounts the game routes. operator guards the routes that
// change the game; nil leaves them open.
func (s *Server) RegisterRoutes(mux *http.ServeMux, operator func(http.Handler) http.Handler) {
	if operator == nil {
		operator = func(h http.Handler) http.Handler { return h }
	}
	mux.HandleFunc("/api/game/state", s.handleState)
	mux.HandleFunc("/api/game/status", s.handleStatus)
	mux.HandleFunc("/api/game/register", s.handleRegister)
	mux.Handle("/api/game/start", operator(http.HandlerFunc(s.handleStart)))
	mux.Handle("/api/game/reset", operator(http.HandlerFunc(s.handleReset)))
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		view, err := s.orch.StateForAgent(r.Context(), wallet)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	st, err := s.orch.State(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	st, err := s.orch.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type registerRequest struct {
	AgentID          string `json:"agentId"`
	WalletAddress    string `json:"walletAddress"`
	MoltbookUsername string `json:"moltbookUsername"`
	CallbackURL      string `json:"callbackUrl"`
	HookToken        string `json:"hookToken"`
}

type registerResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Participant Participant `json:"participant"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	p, err := s.orch.RegisterAgent(r.Context(), Registration{
		AgentID:      req.AgentID,
		Wallet:       req.WalletAddress,
		Handle:       req.MoltbookUsername,
		WebhookURL:   req.CallbackURL,
		WebhookToken: req.HookToken,
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	msg := fmt.Sprintf("Registered %s. Call register() on-chain with wallet %s to enter the lobby.", p.ID, p.Wallet)
	if p.Handle != "" {
		msg = fmt.Sprintf("Verified! @%s can now call register() on-chain with wallet %s.", p.Handle, p.Wallet)
	}
	p.WebhookToken = ""
	writeJSON(w, http.StatusOK, registerResponse{Success: true, Message: msg, Participant: p})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if err := s.orch.StartGame(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	op, _ := httpapi.OperatorFromContext(r.Context())
	s.log.Info("game started by operator", "operator", op)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	op, _ := httpapi.OperatorFromContext(r.Context())
	s.log.Warn("reset requested", "operator", op)
	if err := s.orch.Reset(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code, errCode := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeError(w, code, errCode, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, ErrInsufficientPlayers):
		return http.StatusBadRequest, "insufficient_players"
	case errors.Is(err, ErrUnverifiedProfile):
		return http.StatusBadRequest, "unverified_profile"
	case errors.Is(err, ErrInvalidWebhookTarget):
		return http.StatusBadRequest, "invalid_webhook_target"
	case errors.Is(err, ErrInvalidRegistration), errors.Is(err, ErrInvalidWallet):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrVerificationUnavailable):
		return http.StatusServiceUnavailable, "verification_unavailable"
	case errors.Is(err, ErrLedgerCallFailed), errors.Is(err, ErrDeadlinePending):
		return http.StatusBadGateway, "ledger_call_failed"
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) { httpapi.WriteJSON(w, code, v) }

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	httpapi.WriteError(w, code, errCode, msg)
}
