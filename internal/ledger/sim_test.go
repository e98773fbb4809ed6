package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_FullCycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	require.NoError(t, sim.Register("0xAAA"))
	require.NoError(t, sim.Register("0xBBB"))

	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, 5*time.Millisecond, 5*time.Millisecond))

	phase, err := sim.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseCommit, phase)

	_, err = sim.ResolveRound(ctx)
	require.Error(t, err, "reveal window still open")

	time.Sleep(15 * time.Millisecond)

	results, err := sim.ResolveRound(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	phase, _ = sim.Phase(ctx)
	assert.Equal(t, PhaseRules, phase)

	require.NoError(t, sim.EndGame(ctx, []string{"0xAAA"}, []uint64{10000}))
	require.NoError(t, sim.NewGame(ctx))

	phase, _ = sim.Phase(ctx)
	assert.Equal(t, PhaseLobby, phase)
	n, _ := sim.PlayerCount(ctx)
	assert.Zero(t, n)

	assert.Equal(t, []string{"startGame", "startRound", "resolveRound", "endGame", "newGame"}, sim.Calls())
}

func TestSimulator_PhaseFollowsClock(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	now := time.Unix(1_700_000_000, 0)
	sim.SetClock(func() time.Time { return now })

	require.NoError(t, sim.Register("0xAAA"))
	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, 30*time.Second, 15*time.Second))

	now = now.Add(31 * time.Second)
	phase, _ := sim.Phase(ctx)
	assert.Equal(t, PhaseReveal, phase)

	deadline, _ := sim.RevealDeadline(ctx)
	assert.Equal(t, time.Unix(1_700_000_045, 0), deadline)
}

func TestSimulator_EliminatesAtZeroPoints(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	sim.SetResolver(func(round uint64, alive []string) []CombatResult {
		return []CombatResult{{
			PlayerA: alive[0], PlayerB: alive[1],
			ActionA: ActionDomain, ActionB: ActionFlee,
			Winner: alive[0], PointsTransferred: 1000,
		}}
	})

	require.NoError(t, sim.Register("0xAAA"))
	require.NoError(t, sim.Register("0xBBB"))
	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, 0, 0))
	_, err := sim.ResolveRound(ctx)
	require.NoError(t, err)

	alive, _ := sim.AlivePlayers(ctx)
	assert.Equal(t, []string{"0xAAA"}, alive)

	info, _ := sim.PlayerInfo(ctx, "0xbbb")
	assert.False(t, info.Alive)
	assert.Equal(t, int64(0), info.Points)
}

func TestSimulator_RejectsBadShares(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	require.NoError(t, sim.Register("0xAAA"))
	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, 0, 0))
	_, err := sim.ResolveRound(ctx)
	require.NoError(t, err)

	require.Error(t, sim.EndGame(ctx, []string{"0xAAA"}, []uint64{9000}))
	require.NoError(t, sim.EndGame(ctx, nil, nil))
}

func TestSimulator_FailNext(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	boom := errors.New("rpc down")
	sim.FailNext("getPlayerCount", boom)

	_, err := sim.PlayerCount(ctx)
	require.ErrorIs(t, err, boom)

	_, err = sim.PlayerCount(ctx)
	require.NoError(t, err)
}

func TestSimulator_RegistrationsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sim := NewSimulator()

	events, err := sim.Registrations(ctx)
	require.NoError(t, err)

	require.NoError(t, sim.Register("0xAAA"))
	select {
	case w := <-events:
		assert.Equal(t, "0xAAA", w)
	case <-time.After(time.Second):
		t.Fatal("no registration event")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSimulator_EndGameBetweenRounds(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	require.NoError(t, sim.Register("0xAAA"))
	require.NoError(t, sim.Register("0xBBB"))
	require.NoError(t, sim.StartGame(ctx))
	require.NoError(t, sim.StartRound(ctx, time.Millisecond, time.Millisecond))

	require.Error(t, sim.EndGame(ctx, nil, nil), "round still open")

	time.Sleep(5 * time.Millisecond)
	_, err := sim.ResolveRound(ctx)
	require.NoError(t, err)
	require.NoError(t, sim.AdvanceRound(ctx))

	phase, err := sim.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseCommit, phase)

	require.NoError(t, sim.EndGame(ctx, []string{"0xAAA"}, []uint64{10000}))
	assert.Equal(t, []string{"startGame", "startRound", "resolveRound", "advanceRound", "endGame"}, sim.Calls())
}
