package game

import (
	"time"

	"example.com/arbiter/internal/ledger"
)

// Phase is the orchestrator's local view of the game. It mirrors the ledger
// phase but is volatile; the ledger's copy wins at boot.
type Phase string

const (
	PhaseIdle   Phase = "IDLE"
	PhaseCommit Phase = "COMMIT"
	PhaseReveal Phase = "REVEAL"
	PhaseRules  Phase = "RULES"
	PhaseEnded  Phase = "ENDED"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:   {PhaseCommit},
	PhaseCommit: {PhaseReveal},
	PhaseReveal: {PhaseRules},
	PhaseRules:  {PhaseCommit, PhaseEnded},
	PhaseEnded:  {PhaseIdle},
}

// CanTransition reports whether to follows p on the normal game path.
func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// Participant is an agent known to the arbiter. Synthesized entries come from
// on-chain registrations seen without a prior API registration.
type Participant struct {
	ID           string    `json:"agentId"`
	Wallet       string    `json:"walletAddress"`
	Handle       string    `json:"moltbookUsername,omitempty"`
	Karma        int       `json:"karma,omitempty"`
	WebhookURL   string    `json:"callbackUrl,omitempty"`
	WebhookToken string    `json:"hookToken,omitempty"`
	Synthesized  bool      `json:"synthesized,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Registration is the input of RegisterAgent.
type Registration struct {
	AgentID      string
	Wallet       string
	Handle       string
	WebhookURL   string
	WebhookToken string
}

// GameState is derived on demand from local phase data and live ledger reads.
type GameState struct {
	GameID         string              `json:"gameId,omitempty"`
	Phase          Phase               `json:"phase"`
	Round          int                 `json:"round"`
	Players        []ledger.PlayerInfo `json:"players"`
	ActiveRules    []ledger.ActiveRule `json:"activeRules"`
	PrizePool      string              `json:"prizePool"`
	CommitDeadline int64               `json:"commitDeadline"`
	RevealDeadline int64               `json:"revealDeadline"`
}

// AgentView is GameState narrowed to one wallet, with each opponent's past
// actions against that wallet.
type AgentView struct {
	Phase           Phase                      `json:"phase"`
	Round           int                        `json:"round"`
	CommitDeadline  int64                      `json:"commitDeadline"`
	RevealDeadline  int64                      `json:"revealDeadline"`
	You             *ledger.PlayerInfo         `json:"you"`
	Opponents       []ledger.PlayerInfo        `json:"opponents"`
	ActiveRules     []string                   `json:"activeRules"`
	PrizePool       string                     `json:"prizePool"`
	OpponentHistory map[string][]ledger.Action `json:"opponentHistory"`
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
