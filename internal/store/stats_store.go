package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentStats struct {
	Wallet      string    `json:"wallet"`
	GamesPlayed int       `json:"gamesPlayed"`
	Wins        int       `json:"wins"`
	BestPoints  int64     `json:"bestPoints"`
	LastGameID  string    `json:"lastGameId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type StatsStore struct {
	db *pgxpool.Pool
}

func NewStatsStore(db *pgxpool.Pool) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) Get(ctx context.Context, wallet string) (AgentStats, error) {
	wallet = strings.ToLower(wallet)

	var (
		st     AgentStats
		lastID *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT wallet, games_played, wins, best_points, last_game_id, updated_at
		FROM agent_stats
		WHERE wallet=$1
	`, wallet).Scan(&st.Wallet, &st.GamesPlayed, &st.Wins, &st.BestPoints, &lastID, &st.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// never played: zero stats
		return AgentStats{Wallet: wallet}, nil
	}
	if err != nil {
		return AgentStats{}, err
	}
	if lastID != nil {
		st.LastGameID = *lastID
	}
	return st, nil
}
