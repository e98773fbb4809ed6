package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/arbiter/internal/ledger"
	"example.com/arbiter/internal/notify"
	"example.com/arbiter/internal/verify"
)

const (
	walletA = "0x000000000000000000000000000000000000000a"
	walletB = "0x000000000000000000000000000000000000000b"
	walletC = "0x000000000000000000000000000000000000000c"
	feeAddr = "0x00000000000000000000000000000000000000fe"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event, targets []notify.Target) notify.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return notify.Report{}
}

// gameEvents returns the recorded events, minus participant-joined ones
// which are delivered asynchronously.
func (n *recordingNotifier) gameEvents() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Name != notify.EventParticipantJoined {
			out = append(out, ev)
		}
	}
	return out
}

func eventNames(evs []notify.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		CommitWindow:         20 * time.Millisecond,
		RevealWindow:         20 * time.Millisecond,
		RuleWindow:           10 * time.Millisecond,
		MinPlayers:           2,
		MaxRounds:            3,
		AutoStartDelay:       30 * time.Millisecond,
		DeadlinePollAttempts: 10,
		DeadlinePollInterval: 20 * time.Millisecond,
		RecoveryWindow:       10 * time.Millisecond,
	}
}

type harness struct {
	orch     *Orchestrator
	sim      *ledger.Simulator
	notifier *recordingNotifier
	dir      *MemoryDirectory
}

func startHarness(t *testing.T, cfg Config, sim *ledger.Simulator, dir *MemoryDirectory) *harness {
	t.Helper()

	if dir == nil {
		dir = NewMemoryDirectory()
	}
	h := &harness{sim: sim, notifier: &recordingNotifier{}, dir: dir}
	h.orch = New(cfg, Deps{
		Ledger:    sim,
		Notifier:  h.notifier,
		Directory: dir,
		Log:       discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.orch.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})

	select {
	case <-h.orch.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("boot recovery did not finish")
	}
	return h
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.orch.Status(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.status(t)
		return !st.Running && st.Phase == PhaseIdle && st.Round == 0
	}, 5*time.Second, 5*time.Millisecond)
	h.orch.Wait()
}

func registerOnChain(t *testing.T, sim *ledger.Simulator, wallets ...string) {
	t.Helper()
	for _, w := range wallets {
		require.NoError(t, sim.Register(w))
	}
}

func TestStartGame_AlreadyRunning(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()

	cfg := fastConfig()
	cfg.CommitWindow = 200 * time.Millisecond
	cfg.MaxRounds = 1
	cfg.AutoStartDelay = time.Hour
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB)

	require.NoError(t, h.orch.StartGame(ctx))
	err := h.orch.StartGame(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	h.waitIdle(t)
	assert.Equal(t, 1, countCalls(sim.Calls(), "startGame"))
}

func TestStartGame_InsufficientPlayers(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	h := startHarness(t, fastConfig(), sim, nil)
	registerOnChain(t, sim, walletA)

	err := h.orch.StartGame(ctx)
	require.ErrorIs(t, err, ErrInsufficientPlayers)
	assert.Empty(t, sim.Calls())

	st := h.status(t)
	assert.False(t, st.Running)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestAutoStart_EndToEnd(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	sim.SetResolver(func(round uint64, alive []string) []ledger.CombatResult {
		return []ledger.CombatResult{{
			PlayerA:           walletA,
			PlayerB:           walletB,
			ActionA:           ledger.ActionDomain,
			ActionB:           ledger.ActionTechnique,
			Winner:            walletA,
			PointsTransferred: 1000,
		}}
	})

	cfg := fastConfig()
	cfg.AutoStartDelay = 150 * time.Millisecond
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB)

	before := time.Now()
	_, err := h.orch.RegisterAgent(ctx, Registration{AgentID: "agent-a", Wallet: walletA})
	require.NoError(t, err)
	_, err = h.orch.RegisterAgent(ctx, Registration{AgentID: "agent-b", Wallet: walletB})
	require.NoError(t, err)

	require.True(t, h.status(t).AutoStartPending, "two players should arm the timer")

	require.Eventually(t, func() bool {
		return countCalls(sim.Calls(), "newGame") == 1
	}, 5*time.Second, 5*time.Millisecond)
	h.waitIdle(t)

	assert.Equal(t, []string{"startGame", "startRound", "resolveRound", "advanceRound", "endGame", "newGame"}, sim.Calls())
	assert.Equal(t, []ledger.Payout{{Winners: []string{walletA}, SharesBps: []uint64{10000}}}, sim.Payouts())

	evs := h.notifier.gameEvents()
	require.Equal(t, []string{
		notify.EventGameStarted,
		notify.EventRoundStart,
		notify.EventRevealPhase,
		notify.EventRoundResults,
		notify.EventRulesPhase,
		notify.EventGameOver,
	}, eventNames(evs))

	start := evs[1].Payload.(notify.RoundStart)
	assert.Equal(t, 1, start.Round)
	deadline := time.UnixMilli(start.CommitDeadline)
	assert.WithinRange(t, deadline, before.Add(cfg.CommitWindow), before.Add(cfg.AutoStartDelay+cfg.CommitWindow+time.Second))

	results := evs[3].Payload.(notify.RoundResults)
	assert.Equal(t, []string{walletB}, results.Eliminated)

	over := evs[5].Payload.(notify.GameOver)
	require.Len(t, over.Payouts, 1)
	assert.Equal(t, notify.Share{Address: walletA, ShareBps: 10000}, over.Payouts[0])
	assert.Equal(t, walletA, over.Standings[0].Address)

	st := h.status(t)
	assert.Zero(t, st.Participants)
	assert.Empty(t, st.GameID)
}

func TestGame_RunsUntilMaxRounds(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()

	cfg := fastConfig()
	cfg.MaxRounds = 2
	cfg.AutoStartDelay = time.Hour
	cfg.PlatformFeeAddress = feeAddr
	cfg.PlatformFeeBps = 500
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB, walletC)

	require.NoError(t, h.orch.StartGame(ctx))
	h.waitIdle(t)

	assert.Equal(t, []string{
		"startGame",
		"startRound", "resolveRound", "advanceRound",
		"startRound", "resolveRound", "advanceRound",
		"endGame", "newGame",
	}, sim.Calls())

	payouts := sim.Payouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, []string{walletA, feeAddr}, payouts[0].Winners)
	assert.Equal(t, []uint64{9500, 500}, payouts[0].SharesBps)

	var rounds []int
	for _, ev := range h.notifier.gameEvents() {
		if p, ok := ev.Payload.(notify.RoundStart); ok {
			rounds = append(rounds, p.Round)
		}
	}
	assert.Equal(t, []int{1, 2}, rounds)
}

func TestGame_RoundFailureStillSettles(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()

	cfg := fastConfig()
	cfg.AutoStartDelay = time.Hour
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB)
	sim.FailNext("resolveRound", errors.New("execution reverted"))

	require.NoError(t, h.orch.StartGame(ctx))
	h.waitIdle(t)

	assert.Equal(t, []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"}, sim.Calls())
	require.Len(t, sim.Payouts(), 1)

	phase, err := sim.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.PhaseLobby, phase)
}

func TestGame_NoSurvivorsSkipsPayout(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	sim.SetResolver(func(round uint64, alive []string) []ledger.CombatResult {
		return []ledger.CombatResult{
			{PlayerA: walletA, PlayerB: walletB, Winner: walletA, PointsTransferred: 1000},
			{PlayerA: walletA, PlayerB: walletB, Winner: walletB, PointsTransferred: 2000},
		}
	})

	cfg := fastConfig()
	cfg.AutoStartDelay = time.Hour
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB)

	require.NoError(t, h.orch.StartGame(ctx))
	h.waitIdle(t)

	payouts := sim.Payouts()
	require.Len(t, payouts, 1)
	assert.Empty(t, payouts[0].Winners)
	assert.Empty(t, payouts[0].SharesBps)
	assert.Equal(t, "newGame", sim.Calls()[len(sim.Calls())-1])
}

func TestRegisterAgent_ReplacesSynthesizedEntry(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()

	cfg := fastConfig()
	cfg.AutoStartDelay = time.Hour
	dir := NewMemoryDirectory()
	h := startHarness(t, cfg, sim, dir)

	require.Eventually(t, func() bool { return sim.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	registerOnChain(t, sim, walletA)

	require.Eventually(t, func() bool {
		saved, err := dir.Load(ctx)
		return err == nil && len(saved) == 1 && saved[0].Synthesized
	}, 2*time.Second, 5*time.Millisecond)
	ps, err := h.orch.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, strings.ToLower(walletA), ps[0].ID)

	p, err := h.orch.RegisterAgent(ctx, Registration{
		AgentID:    "agent-a",
		Wallet:     walletA,
		WebhookURL: "https://agent-a.example.com/hook",
	})
	require.NoError(t, err)
	assert.False(t, p.Synthesized)

	ps, err = h.orch.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "agent-a", ps[0].ID)
	assert.Equal(t, "https://agent-a.example.com/hook", ps[0].WebhookURL)

	h.orch.Wait()
	saved, err := dir.Load(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "agent-a", saved[0].ID)
}

func TestRegisterAgent_Validation(t *testing.T) {
	ctx := context.Background()
	h := startHarness(t, fastConfig(), ledger.NewSimulator(), nil)

	cases := []struct {
		name string
		reg  Registration
		want error
	}{
		{name: "missing_id", reg: Registration{Wallet: walletA}, want: ErrInvalidRegistration},
		{name: "bad_wallet", reg: Registration{AgentID: "a", Wallet: "0x123"}, want: ErrInvalidWallet},
		{name: "loopback_webhook", reg: Registration{AgentID: "a", Wallet: walletA, WebhookURL: "http://127.0.0.1:9000/hook"}, want: ErrInvalidWebhookTarget},
		{name: "ftp_webhook", reg: Registration{AgentID: "a", Wallet: walletA, WebhookURL: "ftp://agent.example.com"}, want: ErrInvalidWebhookTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.RegisterAgent(ctx, tc.reg)
			require.ErrorIs(t, err, tc.want)
		})
	}

	ps, err := h.orch.Participants(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

type stubVerifier struct {
	profile verify.Profile
	err     error
}

func (v stubVerifier) Profile(ctx context.Context, name string) (verify.Profile, error) {
	return v.profile, v.err
}

func TestRegisterAgent_ProfileVerification(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		verifier stubVerifier
		want     error
	}{
		{name: "claimed", verifier: stubVerifier{profile: verify.Profile{Name: "crab", Karma: 42, IsClaimed: true}}},
		{name: "unclaimed", verifier: stubVerifier{profile: verify.Profile{Name: "crab"}}, want: ErrUnverifiedProfile},
		{name: "not_found", verifier: stubVerifier{err: verify.ErrProfileNotFound}, want: ErrUnverifiedProfile},
		{name: "directory_down", verifier: stubVerifier{err: verify.ErrUnavailable}, want: ErrVerificationUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := New(fastConfig(), Deps{
				Ledger:   ledger.NewSimulator(),
				Verifier: tc.verifier,
				Log:      discardLogger(),
			})
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = o.Run(runCtx) }()

			p, err := o.RegisterAgent(ctx, Registration{AgentID: "a", Wallet: walletA, Handle: "@crab"})
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "crab", p.Handle)
			assert.Equal(t, 42, p.Karma)
		})
	}
}

func TestLedgerRegistration_IgnoredOutsideIdle(t *testing.T) {
	o := New(fastConfig(), Deps{Ledger: ledger.NewSimulator(), Log: discardLogger()})
	o.st.phase = PhaseCommit
	o.st.running = true

	o.onLedgerRegistration(&o.st, walletA)
	assert.Empty(t, o.st.participants)
}

func TestState_ForAgent(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	sim.AddRule(ledger.RuleBloodTax, walletC)

	cfg := fastConfig()
	cfg.AutoStartDelay = time.Hour
	h := startHarness(t, cfg, sim, nil)
	registerOnChain(t, sim, walletA, walletB, walletC)

	st, err := h.orch.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Len(t, st.Players, 3)
	assert.Equal(t, "1500000000000000000", st.PrizePool)
	require.Len(t, st.ActiveRules, 1)

	view, err := h.orch.StateForAgent(ctx, "0x000000000000000000000000000000000000000B")
	require.NoError(t, err)
	require.NotNil(t, view.You)
	assert.Equal(t, walletB, view.You.Address)
	assert.Len(t, view.Opponents, 2)
	assert.Equal(t, []string{"[Round 0] Blood Tax: Rule creator gets 10% of all earned points (proposed by " + walletC + ")"}, view.ActiveRules)
	assert.Equal(t, map[string][]ledger.Action{walletA: {}, walletC: {}}, view.OpponentHistory)

	_, err = h.orch.StateForAgent(ctx, "nope")
	require.ErrorIs(t, err, ErrInvalidWallet)
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
