package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/arbiter/internal/ledger"
)

const (
	EventRoundStart        = "round:start"
	EventRevealPhase       = "phase:reveal"
	EventRoundResults      = "round:results"
	EventRulesPhase        = "phase:rules"
	EventGameStarted       = "game:started"
	EventGameOver          = "game:over"
	EventParticipantJoined = "player:joined"
)

// Event is what the orchestrator announces. Payload is one of the payload
// types below; anything else renders with the generic template.
type Event struct {
	Name    string
	GameID  string
	Payload any
}

type RoundStart struct {
	Round          int                 `json:"round"`
	CommitDeadline int64               `json:"commitDeadline"`
	Players        []ledger.PlayerInfo `json:"players"`
}

type RevealPhase struct {
	Round          int   `json:"round"`
	RevealDeadline int64 `json:"revealDeadline"`
}

type RoundResults struct {
	Round      int                   `json:"round"`
	Results    []ledger.CombatResult `json:"results"`
	Eliminated []string              `json:"eliminations"`
	Players    []ledger.PlayerInfo   `json:"players"`
}

type RulesPhase struct {
	Round    int      `json:"round"`
	Rules    []string `json:"rules"`
	Deadline int64    `json:"deadline"`
}

type GameStarted struct {
	PlayerCount int    `json:"playerCount"`
	PrizePool   string `json:"prizePool"`
}

type Standing struct {
	Address string `json:"address"`
	Points  int64  `json:"points"`
}

type Share struct {
	Address  string `json:"address"`
	ShareBps uint64 `json:"shareBps"`
}

type GameOver struct {
	Standings []Standing `json:"standings"`
	Payouts   []Share    `json:"payouts"`
}

type ParticipantJoined struct {
	AgentID string `json:"agentId"`
	Wallet  string `json:"walletAddress"`
	Handle  string `json:"moltbookUsername,omitempty"`
}

// Render turns an event into the text an agent reads. It never fails.
func Render(ev Event) string {
	switch p := ev.Payload.(type) {
	case RoundStart:
		if ev.Name == EventRoundStart {
			return renderRoundStart(p)
		}
	case RevealPhase:
		if ev.Name == EventRevealPhase {
			return fmt.Sprintf("Round %d: REVEAL phase. Reveal your committed action (with its salt) before %s.",
				p.Round, clock(p.RevealDeadline))
		}
	case RoundResults:
		if ev.Name == EventRoundResults {
			return renderRoundResults(p)
		}
	case RulesPhase:
		if ev.Name == EventRulesPhase {
			return renderRulesPhase(p)
		}
	case GameStarted:
		if ev.Name == EventGameStarted {
			return fmt.Sprintf("The Crucible has begun with %d players. Prize pool: %s wei. Watch for the round start.",
				p.PlayerCount, p.PrizePool)
		}
	case GameOver:
		if ev.Name == EventGameOver {
			return renderGameOver(p)
		}
	case ParticipantJoined:
		if ev.Name == EventParticipantJoined {
			who := p.AgentID
			if p.Handle != "" {
				who = "@" + p.Handle
			}
			return fmt.Sprintf("%s joined the Crucible with wallet %s.", who, shortAddr(p.Wallet))
		}
	}
	return renderGeneric(ev)
}

func renderRoundStart(p RoundStart) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d: COMMIT phase. Commit your action hash before %s.\n", p.Round, clock(p.CommitDeadline))
	b.WriteString("Actions: DOMAIN(1) beats TECHNIQUE, TECHNIQUE(2) beats COUNTER, COUNTER(3) beats DOMAIN, FLEE(4) avoids combat.\n")
	writePlayers(&b, p.Players)
	return strings.TrimRight(b.String(), "\n")
}

func renderRoundResults(p RoundResults) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d results:\n", p.Round)
	for _, r := range p.Results {
		winner := "DRAW"
		if r.Winner != "" {
			winner = shortAddr(r.Winner)
		}
		fmt.Fprintf(&b, "- %s (%s) vs %s (%s): winner %s, %d points\n",
			shortAddr(r.PlayerA), r.ActionA, shortAddr(r.PlayerB), r.ActionB, winner, r.PointsTransferred)
	}
	if len(p.Eliminated) > 0 {
		names := make([]string, len(p.Eliminated))
		for i, e := range p.Eliminated {
			names[i] = shortAddr(e)
		}
		fmt.Fprintf(&b, "Eliminated: %s\n", strings.Join(names, ", "))
	}
	writePlayers(&b, p.Players)
	return strings.TrimRight(b.String(), "\n")
}

func renderRulesPhase(p RulesPhase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d: RULES phase. You may propose a rule", p.Round)
	if p.Deadline > 0 {
		fmt.Fprintf(&b, " before %s", clock(p.Deadline))
	}
	b.WriteString(".\n")
	if len(p.Rules) == 0 {
		b.WriteString("No rules are active.")
		return b.String()
	}
	b.WriteString("Active rules:\n")
	for _, r := range p.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderGameOver(p GameOver) string {
	var b strings.Builder
	b.WriteString("Game over. Final standings:\n")
	for i, s := range p.Standings {
		fmt.Fprintf(&b, "%d. %s: %d pts\n", i+1, shortAddr(s.Address), s.Points)
	}
	if len(p.Payouts) == 0 {
		b.WriteString("No payout: nobody survived.")
		return b.String()
	}
	b.WriteString("Payouts:\n")
	for _, s := range p.Payouts {
		fmt.Fprintf(&b, "- %s: %d.%02d%%\n", shortAddr(s.Address), s.ShareBps/100, s.ShareBps%100)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderGeneric(ev Event) string {
	body, err := json.Marshal(ev.Payload)
	if err != nil || ev.Payload == nil {
		return fmt.Sprintf("Crucible event: %s", ev.Name)
	}
	return fmt.Sprintf("Crucible event: %s %s", ev.Name, body)
}

func writePlayers(b *strings.Builder, players []ledger.PlayerInfo) {
	if len(players) == 0 {
		return
	}
	fmt.Fprintf(b, "Alive (%d):", len(players))
	for _, p := range players {
		fmt.Fprintf(b, " %s=%d", shortAddr(p.Address), p.Points)
	}
	b.WriteString("\n")
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10]
}

func clock(ms int64) string {
	if ms == 0 {
		return "the deadline"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
