package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Standing struct {
	Address string `json:"address"`
	Points  int64  `json:"points"`
}

type Payout struct {
	Address  string `json:"address"`
	ShareBps uint64 `json:"shareBps"`
}

// GameRecord is a finished game. An empty Payouts list means nobody
// survived and the prize pool was not distributed.
type GameRecord struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt"`
	Rounds    int        `json:"rounds"`
	PrizePool string     `json:"prizePool"`
	Standings []Standing `json:"standings"`
	Payouts   []Payout   `json:"payouts"`
}

// Winner is the top paid wallet, or "" when nobody was paid.
func (r GameRecord) Winner() string {
	if len(r.Payouts) == 0 {
		return ""
	}
	return r.Payouts[0].Address
}

type GamesStore struct {
	db *pgxpool.Pool
}

func NewGamesStore(db *pgxpool.Pool) *GamesStore {
	return &GamesStore{db: db}
}

// RecordGame stores the game and folds it into every standing wallet's stats
// in one transaction.
func (s *GamesStore) RecordGame(ctx context.Context, rec GameRecord) error {
	standings, err := json.Marshal(rec.Standings)
	if err != nil {
		return err
	}
	payouts, err := json.Marshal(rec.Payouts)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO games (id, started_at, ended_at, rounds, prize_pool, standings, payouts)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
			ON CONFLICT (id) DO NOTHING
		`, rec.ID, rec.StartedAt, rec.EndedAt, rec.Rounds, rec.PrizePool, string(standings), string(payouts))
		if err != nil {
			return fmt.Errorf("insert game: %w", err)
		}

		winner := rec.Winner()
		batch := &pgx.Batch{}
		for _, st := range rec.Standings {
			win := 0
			if winner != "" && strings.EqualFold(st.Address, winner) {
				win = 1
			}
			batch.Queue(`
				INSERT INTO agent_stats (wallet, games_played, wins, best_points, last_game_id, updated_at)
				VALUES ($1, 1, $2, $3, $4, now())
				ON CONFLICT (wallet) DO UPDATE SET
					games_played = agent_stats.games_played + 1,
					wins         = agent_stats.wins + EXCLUDED.wins,
					best_points  = GREATEST(agent_stats.best_points, EXCLUDED.best_points),
					last_game_id = EXCLUDED.last_game_id,
					updated_at   = now()
			`, strings.ToLower(st.Address), win, st.Points, rec.ID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("update agent stats: %w", err)
		}
		return nil
	})
}

// Recent returns the latest finished games, newest first.
func (s *GamesStore) Recent(ctx context.Context, limit int) ([]GameRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, started_at, ended_at, rounds, prize_pool, standings, payouts
		FROM games
		ORDER BY ended_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []GameRecord{}
	for rows.Next() {
		var (
			rec                GameRecord
			standings, payouts []byte
		)
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.EndedAt, &rec.Rounds, &rec.PrizePool, &standings, &payouts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(standings, &rec.Standings); err != nil {
			return nil, fmt.Errorf("decode standings of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(payouts, &rec.Payouts); err != nil {
			return nil, fmt.Errorf("decode payouts of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
