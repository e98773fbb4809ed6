package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"example.com/arbiter/internal/ledger"
)

func TestOpponentHistory(t *testing.T) {
	t.Parallel()

	history := [][]ledger.CombatResult{
		{{PlayerA: walletA, PlayerB: walletB, ActionA: ledger.ActionDomain, ActionB: ledger.ActionTechnique, Winner: walletA, PointsTransferred: 30}},
		{{PlayerA: walletA, PlayerB: walletC, ActionA: ledger.ActionCounter, ActionB: ledger.ActionFlee}},
	}
	opponents := []ledger.PlayerInfo{{Address: walletA}, {Address: walletC}}

	got := opponentHistory(history, walletB, opponents)
	assert.Equal(t, map[string][]ledger.Action{
		walletA: {ledger.ActionDomain},
		walletC: {},
	}, got)
}

func TestOpponentHistory_CaseInsensitiveAndOrdered(t *testing.T) {
	t.Parallel()

	upperB := "0x000000000000000000000000000000000000000B"
	history := [][]ledger.CombatResult{
		{{PlayerA: upperB, PlayerB: walletA, ActionA: ledger.ActionFlee, ActionB: ledger.ActionCounter}},
		{{PlayerA: walletC, PlayerB: walletA, ActionA: ledger.ActionDomain, ActionB: ledger.ActionDomain}},
		{{PlayerA: walletA, PlayerB: walletB, ActionA: ledger.ActionTechnique, ActionB: ledger.ActionDomain}},
	}

	got := opponentHistory(history, walletB, []ledger.PlayerInfo{{Address: walletA}})
	assert.Equal(t, []ledger.Action{ledger.ActionCounter, ledger.ActionTechnique}, got[walletA])
}
