package ledger

import (
	"context"
	"math/big"
	"strings"
	"time"
)

// Phase is the contract's own phase enumeration, in on-chain order.
type Phase uint8

const (
	PhaseLobby Phase = iota
	PhaseCommit
	PhaseReveal
	PhaseRules
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "LOBBY"
	case PhaseCommit:
		return "COMMIT"
	case PhaseReveal:
		return "REVEAL"
	case PhaseRules:
		return "RULES"
	case PhaseEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

// Action is a combat move revealed by a player.
type Action uint8

const (
	ActionNone Action = iota
	ActionDomain
	ActionTechnique
	ActionCounter
	ActionFlee
)

var actionNames = [...]string{"NONE", "DOMAIN", "TECHNIQUE", "COUNTER", "FLEE"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "UNKNOWN"
}

// RuleKind identifies a rule proposed during the RULES phase.
type RuleKind uint8

const (
	RuleNone RuleKind = iota
	RuleBloodTax
	RuleBountyHunter
	RuleExpensiveDomain
	RuleSanctuary
)

// CombatResult is one resolved pairing. Winner is empty on a draw.
type CombatResult struct {
	PlayerA           string `json:"player1"`
	PlayerB           string `json:"player2"`
	ActionA           Action `json:"p1Action"`
	ActionB           Action `json:"p2Action"`
	Winner            string `json:"winner,omitempty"`
	PointsTransferred int64  `json:"pointsTransferred"`
}

// Involves reports whether wallet fought in this combat.
func (r CombatResult) Involves(wallet string) bool {
	return SameAddress(r.PlayerA, wallet) || SameAddress(r.PlayerB, wallet)
}

type PlayerInfo struct {
	Address    string `json:"address"`
	Points     int64  `json:"points"`
	Alive      bool   `json:"alive"`
	Registered bool   `json:"registered"`
}

type ActiveRule struct {
	Kind             RuleKind `json:"ruleType"`
	Proposer         string   `json:"proposer"`
	ActivatedAtRound uint64   `json:"activatedAtRound"`
}

// Ledger is the set of contract operations the arbiter drives.
// Writes return once the transaction is included.
type Ledger interface {
	StartGame(ctx context.Context) error
	StartRound(ctx context.Context, commitWindow, revealWindow time.Duration) error
	ResolveRound(ctx context.Context) ([]CombatResult, error)
	AdvanceRound(ctx context.Context) error
	EndGame(ctx context.Context, winners []string, sharesBps []uint64) error
	NewGame(ctx context.Context) error

	Phase(ctx context.Context) (Phase, error)
	CurrentRound(ctx context.Context) (uint64, error)
	RevealDeadline(ctx context.Context) (time.Time, error)
	// Now is the ledger clock (latest block time). It is not assumed to agree
	// with the local wall clock.
	Now(ctx context.Context) (time.Time, error)
	AlivePlayers(ctx context.Context) ([]string, error)
	PlayerInfo(ctx context.Context, addr string) (PlayerInfo, error)
	PlayerCount(ctx context.Context) (int, error)
	AliveCount(ctx context.Context) (int, error)
	PrizePool(ctx context.Context) (*big.Int, error)
	ActiveRules(ctx context.Context) ([]ActiveRule, error)

	// Registrations streams wallets of on-chain registrations until ctx is done.
	Registrations(ctx context.Context) (<-chan string, error)
}

// SameAddress compares hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// windowSeconds rounds a window up to whole seconds, minimum one.
func windowSeconds(d time.Duration) uint64 {
	if d <= time.Second {
		return 1
	}
	return uint64((d + time.Second - 1) / time.Second)
}
