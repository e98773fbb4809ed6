package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Payout records one endGame call.
type Payout struct {
	Winners   []string
	SharesBps []uint64
}

// ResolveFunc scripts the outcome of a round. It receives the live wallets in
// registration order.
type ResolveFunc func(round uint64, alive []string) []CombatResult

type simPlayer struct {
	addr   string
	points int64
	alive  bool
}

// Simulator is an in-memory stand-in for the Crucible contract. It enforces the
// contract's phase preconditions, keeps its own clock and journals every write.
type Simulator struct {
	mu sync.Mutex

	phase          Phase
	round          uint64
	roundOpen      bool
	commitDeadline time.Time
	revealDeadline time.Time
	players        []*simPlayer
	prizePool      *big.Int
	rules          []ActiveRule

	startingPoints int64
	entryFee       *big.Int
	clock          func() time.Time
	resolve        ResolveFunc

	calls    []string
	payouts  []Payout
	failures map[string]error
	subs     []chan string
}

var _ Ledger = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{
		prizePool:      new(big.Int),
		startingPoints: 1000,
		entryFee:       big.NewInt(500_000_000_000_000_000),
		clock:          time.Now,
		failures:       make(map[string]error),
	}
}

// SetClock replaces the ledger clock, e.g. to simulate skew against the wall clock.
func (s *Simulator) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = fn
}

func (s *Simulator) SetResolver(fn ResolveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolve = fn
}

// FailNext makes the next call of method return err.
func (s *Simulator) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Calls returns the journal of successful writes, in order.
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Simulator) Payouts() []Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payout(nil), s.payouts...)
}

// Register adds a player in the lobby and emits PlayerRegistered.
func (s *Simulator) Register(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLobby {
		return fmt.Errorf("sim: register: phase is %s", s.phase)
	}
	for _, p := range s.players {
		if SameAddress(p.addr, addr) {
			return fmt.Errorf("sim: register: %s already registered", addr)
		}
	}
	s.players = append(s.players, &simPlayer{addr: addr, points: s.startingPoints, alive: true})
	s.prizePool.Add(s.prizePool, s.entryFee)

	for _, ch := range s.subs {
		select {
		case ch <- addr:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of open registration streams.
func (s *Simulator) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// AddRule activates a rule as if it had been proposed on-chain.
func (s *Simulator) AddRule(kind RuleKind, proposer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, ActiveRule{Kind: kind, Proposer: proposer, ActivatedAtRound: s.round})
}

func (s *Simulator) failLocked(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func (s *Simulator) phaseLocked() Phase {
	if s.phase == PhaseCommit && s.roundOpen && !s.clock().Before(s.commitDeadline) {
		return PhaseReveal
	}
	return s.phase
}

func (s *Simulator) StartGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("startGame"); err != nil {
		return err
	}
	if s.phase != PhaseLobby {
		return fmt.Errorf("sim: startGame: phase is %s", s.phaseLocked())
	}
	if len(s.players) == 0 {
		return fmt.Errorf("sim: startGame: no players")
	}
	s.phase = PhaseCommit
	s.round = 1
	s.roundOpen = false
	s.calls = append(s.calls, "startGame")
	return nil
}

func (s *Simulator) StartRound(ctx context.Context, commitWindow, revealWindow time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("startRound"); err != nil {
		return err
	}
	if s.phase != PhaseCommit || s.roundOpen {
		return fmt.Errorf("sim: startRound: phase is %s", s.phaseLocked())
	}
	now := s.clock()
	s.commitDeadline = now.Add(commitWindow)
	s.revealDeadline = s.commitDeadline.Add(revealWindow)
	s.roundOpen = true
	s.calls = append(s.calls, "startRound")
	return nil
}

func (s *Simulator) ResolveRound(ctx context.Context) ([]CombatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("resolveRound"); err != nil {
		return nil, err
	}
	if s.phase != PhaseCommit || !s.roundOpen {
		return nil, fmt.Errorf("sim: resolveRound: phase is %s", s.phaseLocked())
	}
	if s.clock().Before(s.revealDeadline) {
		return nil, fmt.Errorf("sim: resolveRound: reveal window still open")
	}

	var alive []string
	for _, p := range s.players {
		if p.alive {
			alive = append(alive, p.addr)
		}
	}

	var results []CombatResult
	if s.resolve != nil {
		results = s.resolve(s.round, alive)
	} else {
		for i := 0; i+1 < len(alive); i += 2 {
			results = append(results, CombatResult{PlayerA: alive[i], PlayerB: alive[i+1]})
		}
	}

	for _, r := range results {
		if r.Winner == "" || r.PointsTransferred == 0 {
			continue
		}
		loser := r.PlayerB
		if SameAddress(r.Winner, r.PlayerB) {
			loser = r.PlayerA
		}
		if w := s.playerLocked(r.Winner); w != nil {
			w.points += r.PointsTransferred
		}
		if l := s.playerLocked(loser); l != nil {
			l.points -= r.PointsTransferred
			if l.points <= 0 {
				l.alive = false
			}
		}
	}

	s.phase = PhaseRules
	s.roundOpen = false
	s.calls = append(s.calls, "resolveRound")
	return results, nil
}

func (s *Simulator) AdvanceRound(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("advanceRound"); err != nil {
		return err
	}
	if s.phase != PhaseRules {
		return fmt.Errorf("sim: advanceRound: phase is %s", s.phaseLocked())
	}
	s.phase = PhaseCommit
	s.round++
	s.commitDeadline = time.Time{}
	s.revealDeadline = time.Time{}
	s.calls = append(s.calls, "advanceRound")
	return nil
}

func (s *Simulator) EndGame(ctx context.Context, winners []string, sharesBps []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("endGame"); err != nil {
		return err
	}
	// RULES after a resolve, or COMMIT between rounds after an advance.
	if s.phase != PhaseRules && (s.phase != PhaseCommit || s.roundOpen) {
		return fmt.Errorf("sim: endGame: phase is %s", s.phaseLocked())
	}
	if len(winners) != len(sharesBps) {
		return fmt.Errorf("sim: endGame: %d winners, %d shares", len(winners), len(sharesBps))
	}
	var total uint64
	for _, b := range sharesBps {
		total += b
	}
	if len(winners) > 0 && total != 10000 {
		return fmt.Errorf("sim: endGame: shares sum to %d", total)
	}
	s.payouts = append(s.payouts, Payout{
		Winners:   append([]string(nil), winners...),
		SharesBps: append([]uint64(nil), sharesBps...),
	})
	s.phase = PhaseEnded
	s.prizePool = new(big.Int)
	s.calls = append(s.calls, "endGame")
	return nil
}

func (s *Simulator) NewGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("newGame"); err != nil {
		return err
	}
	if s.phase != PhaseEnded {
		return fmt.Errorf("sim: newGame: phase is %s", s.phaseLocked())
	}
	s.phase = PhaseLobby
	s.round = 0
	s.roundOpen = false
	s.commitDeadline = time.Time{}
	s.revealDeadline = time.Time{}
	s.players = nil
	s.rules = nil
	s.calls = append(s.calls, "newGame")
	return nil
}

func (s *Simulator) Phase(ctx context.Context) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("phase"); err != nil {
		return 0, err
	}
	return s.phaseLocked(), nil
}

func (s *Simulator) CurrentRound(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round, nil
}

func (s *Simulator) RevealDeadline(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealDeadline, nil
}

func (s *Simulator) Now(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock(), nil
}

func (s *Simulator) AlivePlayers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("getAlivePlayers"); err != nil {
		return nil, err
	}
	var alive []string
	for _, p := range s.players {
		if p.alive {
			alive = append(alive, p.addr)
		}
	}
	return alive, nil
}

func (s *Simulator) PlayerInfo(ctx context.Context, addr string) (PlayerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.playerLocked(addr)
	if p == nil {
		return PlayerInfo{Address: addr}, nil
	}
	return PlayerInfo{Address: p.addr, Points: p.points, Alive: p.alive, Registered: true}, nil
}

func (s *Simulator) PlayerCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("getPlayerCount"); err != nil {
		return 0, err
	}
	return len(s.players), nil
}

func (s *Simulator) AliveCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("getAliveCount"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range s.players {
		if p.alive {
			n++
		}
	}
	return n, nil
}

func (s *Simulator) PrizePool(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.prizePool), nil
}

func (s *Simulator) ActiveRules(ctx context.Context) ([]ActiveRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActiveRule(nil), s.rules...), nil
}

func (s *Simulator) Registrations(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 32)

	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *Simulator) playerLocked(addr string) *simPlayer {
	for _, p := range s.players {
		if SameAddress(p.addr, addr) {
			return p
		}
	}
	return nil
}
