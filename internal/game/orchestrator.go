package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"example.com/arbiter/internal/ledger"
	"example.com/arbiter/internal/notify"
	"example.com/arbiter/internal/store"
	"example.com/arbiter/internal/verify"
)

type Config struct {
	CommitWindow time.Duration
	RevealWindow time.Duration
	RuleWindow   time.Duration

	MinPlayers int
	MaxRounds  int

	AutoStartDelay time.Duration

	PlatformFeeAddress string // empty => winner takes all
	PlatformFeeBps     uint64

	// The ledger clock is polled at most DeadlinePollAttempts times before a
	// round is declared stuck.
	DeadlinePollAttempts int
	DeadlinePollInterval time.Duration

	// Commit and reveal window of the throwaway round recovery plays.
	RecoveryWindow time.Duration
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event, targets []notify.Target) notify.Report
}

type ProfileVerifier interface {
	Profile(ctx context.Context, name string) (verify.Profile, error)
}

// Broadcaster pushes events to spectators (the WebSocket hub).
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Archive keeps finished games.
type Archive interface {
	RecordGame(ctx context.Context, rec store.GameRecord) error
}

type Deps struct {
	Ledger      ledger.Ledger
	Notifier    Notifier
	Verifier    ProfileVerifier // optional: nil skips profile checks
	Directory   Directory       // optional: nil keeps registrations in memory only
	Archive     Archive         // optional
	Broadcaster Broadcaster     // optional
	Log         *slog.Logger
}

// state is owned by the scheduling loop. Nothing outside an op touches it.
type state struct {
	phase          Phase
	round          int
	commitDeadline time.Time
	revealDeadline time.Time
	roundOpen      bool // started on the ledger and not yet resolved

	running   bool
	starting  bool
	settling  bool
	resetting bool
	closing   bool

	gameID    string
	startedAt time.Time

	participants map[string]Participant
	history      [][]ledger.CombatResult
	epoch        uint64 // bumped whenever the registry is cleared

	autoStart    *time.Timer
	autoStartGen uint64
}

func (s *state) clear() {
	s.phase = PhaseIdle
	s.round = 0
	s.commitDeadline = time.Time{}
	s.revealDeadline = time.Time{}
	s.roundOpen = false
	s.gameID = ""
	s.startedAt = time.Time{}
	s.participants = make(map[string]Participant)
	s.history = nil
	s.epoch++
}

// busy reports whether a game or a ledger reset is in flight.
func (s *state) busy() bool {
	return s.running || s.starting || s.settling || s.resetting
}

func (s *state) targets() []notify.Target {
	var out []notify.Target
	for _, p := range s.participants {
		if p.WebhookURL == "" {
			continue
		}
		out = append(out, notify.Target{AgentID: p.ID, URL: p.WebhookURL, Token: p.WebhookToken})
	}
	return out
}

// Orchestrator drives the ledger through rounds. All of its state lives in a
// single scheduling loop (Run); ledger events, timer fires and API calls reach
// it through channels, so state is never shared between goroutines.
type Orchestrator struct {
	cfg       Config
	ledger    ledger.Ledger
	notifier  Notifier
	verifier  ProfileVerifier
	directory Directory
	archive   Archive
	hub       Broadcaster
	log       *slog.Logger

	ops        chan func(*state)
	autoStartC chan uint64
	ready      chan struct{}
	stopped    chan struct{}
	events     <-chan string // loop-owned

	base context.Context // outlives request contexts; set in Run
	bg   sync.WaitGroup

	dirMu    sync.Mutex
	dirEpoch uint64 // last registry epoch whose directory was cleared

	st state
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = 2
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	if cfg.DeadlinePollAttempts < 1 {
		cfg.DeadlinePollAttempts = 10
	}
	if cfg.DeadlinePollInterval <= 0 {
		cfg.DeadlinePollInterval = 2 * time.Second
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = time.Second
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	dir := deps.Directory
	if dir == nil {
		dir = NewMemoryDirectory()
	}

	o := &Orchestrator{
		cfg:        cfg,
		ledger:     deps.Ledger,
		notifier:   deps.Notifier,
		verifier:   deps.Verifier,
		directory:  dir,
		archive:    deps.Archive,
		hub:        deps.Broadcaster,
		log:        log.With("component", "orchestrator"),
		ops:        make(chan func(*state)),
		autoStartC: make(chan uint64, 1),
		ready:      make(chan struct{}),
		stopped:    make(chan struct{}),
		base:       context.Background(),
	}
	o.st.clear()
	return o
}

// Run recovers the ledger, subscribes to registrations and then serves the
// scheduling loop. Cancelling ctx stops the auto-start timer and the
// subscription; a game or reset in flight is allowed to finish before Run
// returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	o.base = context.WithoutCancel(ctx)

	go func() {
		o.recoverAtBoot(o.base)
		close(o.ready)

		events, err := o.ledger.Registrations(ctx)
		if err != nil {
			o.log.Error("subscribe to ledger registrations", "err", err)
			return
		}
		_ = o.do(ctx, func(*state) { o.events = events })
	}()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			o.st.closing = true
			o.events = nil
			o.stopAutoStart(&o.st)
			if o.st.busy() {
				o.log.Info("shutdown requested; waiting for the game in flight")
			}

		case op := <-o.ops:
			op(&o.st)

		case wallet, ok := <-o.events:
			if !ok {
				o.events = nil
				o.log.Warn("ledger registration stream closed")
				continue
			}
			o.onLedgerRegistration(&o.st, wallet)

		case gen := <-o.autoStartC:
			o.onAutoStartFired(&o.st, gen)
		}

		if o.st.closing && !o.st.busy() {
			o.log.Info("orchestrator stopped")
			return nil
		}
	}
}

// Ready is closed once boot recovery has finished.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// Wait blocks until background work (a running game, pending notifications)
// has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// do runs fn on the scheduling loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func(s *state)) error {
	done := make(chan struct{})
	op := func(s *state) {
		defer close(done)
		fn(s)
	}

	select {
	case o.ops <- op:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (o *Orchestrator) waitReady(ctx context.Context) error {
	select {
	case <-o.ready:
		return nil
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is the local, ledger-free part of the state.
type Status struct {
	GameID           string `json:"gameId,omitempty"`
	Phase            Phase  `json:"phase"`
	Round            int    `json:"round"`
	Running          bool   `json:"running"`
	Participants     int    `json:"participants"`
	AutoStartPending bool   `json:"autoStartPending"`
}

func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	if err := o.waitReady(ctx); err != nil {
		return Status{}, err
	}
	var st Status
	err := o.do(ctx, func(s *state) {
		st = Status{
			GameID:           s.gameID,
			Phase:            s.phase,
			Round:            s.round,
			Running:          s.running,
			Participants:     len(s.participants),
			AutoStartPending: s.autoStart != nil,
		}
	})
	return st, err
}

// Participants returns a copy of the registry.
func (o *Orchestrator) Participants(ctx context.Context) ([]Participant, error) {
	if err := o.waitReady(ctx); err != nil {
		return nil, err
	}
	var out []Participant
	err := o.do(ctx, func(s *state) {
		for _, p := range s.participants {
			out = append(out, p)
		}
	})
	return out, err
}

// announce pushes an event to spectators and to every participant webhook.
// It returns once all webhook deliveries have settled.
func (o *Orchestrator) announce(ctx context.Context, name string, payload any) {
	var (
		targets []notify.Target
		gameID  string
	)
	if err := o.do(ctx, func(s *state) {
		targets = s.targets()
		gameID = s.gameID
	}); err != nil {
		return
	}

	if o.hub != nil {
		o.hub.Broadcast(name, payload)
	}
	if o.notifier != nil {
		o.notifier.Notify(ctx, notify.Event{Name: name, GameID: gameID, Payload: payload}, targets)
	}
}

// announceAsync is announce for callers that must not wait on webhooks.
func (o *Orchestrator) announceAsync(name string, payload any) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.announce(o.base, name, payload)
	}()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
