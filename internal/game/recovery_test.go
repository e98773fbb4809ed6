package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/arbiter/internal/ledger"
)

func TestRecovery_DrivesLedgerToLobby(t *testing.T) {
	ctx := context.Background()

	lobby := func(t *testing.T, sim *ledger.Simulator) {
		registerOnChain(t, sim, walletA, walletB)
	}
	started := func(t *testing.T, sim *ledger.Simulator) {
		lobby(t, sim)
		require.NoError(t, sim.StartGame(ctx))
	}
	commitOpen := func(t *testing.T, sim *ledger.Simulator) {
		started(t, sim)
		require.NoError(t, sim.StartRound(ctx, 30*time.Millisecond, 30*time.Millisecond))
	}
	reveal := func(t *testing.T, sim *ledger.Simulator) {
		started(t, sim)
		require.NoError(t, sim.StartRound(ctx, time.Millisecond, 40*time.Millisecond))
		time.Sleep(5 * time.Millisecond)
	}
	rules := func(t *testing.T, sim *ledger.Simulator) {
		started(t, sim)
		require.NoError(t, sim.StartRound(ctx, time.Millisecond, time.Millisecond))
		time.Sleep(5 * time.Millisecond)
		_, err := sim.ResolveRound(ctx)
		require.NoError(t, err)
	}
	ended := func(t *testing.T, sim *ledger.Simulator) {
		rules(t, sim)
		require.NoError(t, sim.EndGame(ctx, []string{walletA}, []uint64{10000}))
	}

	cases := []struct {
		name      string
		setup     func(t *testing.T, sim *ledger.Simulator)
		wantPhase ledger.Phase
		wantCalls []string
		payouts   int
	}{
		{
			name:      "clean_lobby",
			setup:     func(t *testing.T, sim *ledger.Simulator) {},
			wantPhase: ledger.PhaseLobby,
		},
		{
			name:      "lobby_with_players",
			setup:     lobby,
			wantPhase: ledger.PhaseLobby,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
		{
			name:      "commit_without_round",
			setup:     started,
			wantPhase: ledger.PhaseCommit,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
		{
			name:      "commit_open",
			setup:     commitOpen,
			wantPhase: ledger.PhaseCommit,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
		{
			name:      "reveal",
			setup:     reveal,
			wantPhase: ledger.PhaseReveal,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
		{
			name:      "rules",
			setup:     rules,
			wantPhase: ledger.PhaseRules,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
		{
			name:      "ended",
			setup:     ended,
			wantPhase: ledger.PhaseEnded,
			wantCalls: []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"},
			payouts:   1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := ledger.NewSimulator()
			tc.setup(t, sim)

			phase, err := sim.Phase(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.wantPhase, phase, "setup")

			h := startHarness(t, fastConfig(), sim, nil)

			phase, err = sim.Phase(ctx)
			require.NoError(t, err)
			assert.Equal(t, ledger.PhaseLobby, phase)

			count, err := sim.PlayerCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)

			assert.Equal(t, tc.wantCalls, sim.Calls())
			require.Len(t, sim.Payouts(), tc.payouts)
			if tc.payouts > 0 {
				assert.Equal(t, ledger.Payout{Winners: []string{walletA}, SharesBps: []uint64{10000}}, sim.Payouts()[0])
			}

			st := h.status(t)
			assert.Equal(t, Status{Phase: PhaseIdle}, st)
		})
	}
}

func TestRecovery_RehydratesDirectoryOnCleanBoot(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	require.NoError(t, dir.Save(ctx, Participant{ID: "agent-a", Wallet: walletA, WebhookURL: "https://a.example.com/hook"}))

	h := startHarness(t, fastConfig(), ledger.NewSimulator(), dir)

	ps, err := h.orch.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "agent-a", ps[0].ID)
}

func TestRecovery_ClearsDirectoryAfterForcedCycle(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	require.NoError(t, dir.Save(ctx, Participant{ID: "agent-a", Wallet: walletA}))

	sim := ledger.NewSimulator()
	registerOnChain(t, sim, walletA, walletB)

	h := startHarness(t, fastConfig(), sim, dir)

	assert.Zero(t, h.status(t).Participants)
	saved, err := dir.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestRecovery_FailureLeavesProcessRunning(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	registerOnChain(t, sim, walletA, walletB)
	sim.FailNext("phase", errors.New("rpc unavailable"))

	h := startHarness(t, fastConfig(), sim, nil)

	assert.Empty(t, sim.Calls())
	st := h.status(t)
	assert.Equal(t, PhaseIdle, st.Phase)

	// The operator can retry once the ledger answers again.
	require.NoError(t, h.orch.Reset(ctx))
	phase, err := sim.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.PhaseLobby, phase)
	assert.Equal(t, "newGame", sim.Calls()[len(sim.Calls())-1])
}

func TestRecovery_DeadlineNeverReached(t *testing.T) {
	ctx := context.Background()
	sim := ledger.NewSimulator()
	registerOnChain(t, sim, walletA, walletB)
	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, time.Millisecond, time.Millisecond))

	// Ledger clock stuck in the past.
	frozen := time.Now().Add(-time.Hour)
	sim.SetClock(func() time.Time { return frozen })

	cfg := fastConfig()
	cfg.DeadlinePollAttempts = 3
	cfg.DeadlinePollInterval = time.Millisecond
	o := New(cfg, Deps{Ledger: sim, Log: discardLogger()})

	_, err := o.driveToIdle(ctx)
	require.ErrorIs(t, err, ErrDeadlinePending)
}
