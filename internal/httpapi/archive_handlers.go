package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"example.com/arbiter/internal/store"
)

type GameLister interface {
	Recent(ctx context.Context, limit int) ([]store.GameRecord, error)
}

type StatsReader interface {
	Get(ctx context.Context, wallet string) (store.AgentStats, error)
}

// ArchiveHandler serves finished games and per-wallet stats.
type ArchiveHandler struct {
	Games GameLister
	Stats StatsReader
	Log   *slog.Logger
}

func (h *ArchiveHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", h.ListGames)
	mux.HandleFunc("/api/agents/", h.AgentStats)
}

// ListGames lists recent games, newest first.
func (h *ArchiveHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	games, err := h.Games.Recent(r.Context(), limit)
	if err != nil {
		h.logger().Error("list games", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load games")
		return
	}
	if games == nil {
		games = []store.GameRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (h *ArchiveHandler) AgentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	wallet, ok := walletFromStatsPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "use /api/agents/{wallet}/stats")
		return
	}
	if !common.IsHexAddress(wallet) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid wallet address")
		return
	}

	st, err := h.Stats.Get(r.Context(), wallet)
	if err != nil {
		h.logger().Error("load agent stats", "wallet", wallet, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// walletFromStatsPath extracts {wallet} from /api/agents/{wallet}/stats.
func walletFromStatsPath(path string) (string, bool) {
	const prefix = "/api/agents/"
	const suffix = "/stats"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	wallet := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if wallet == "" || strings.Contains(wallet, "/") {
		return "", false
	}
	return wallet, true
}

func (h *ArchiveHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
