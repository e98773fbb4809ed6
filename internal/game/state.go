package game

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"example.com/arbiter/internal/ledger"
)

// State combines the local phase data with live ledger reads.
func (o *Orchestrator) State(ctx context.Context) (GameState, error) {
	if err := o.waitReady(ctx); err != nil {
		return GameState{}, err
	}

	var st GameState
	if err := o.do(ctx, func(s *state) {
		st = GameState{
			GameID:         s.gameID,
			Phase:          s.phase,
			Round:          s.round,
			CommitDeadline: toMs(s.commitDeadline),
			RevealDeadline: toMs(s.revealDeadline),
		}
	}); err != nil {
		return GameState{}, err
	}

	players, err := o.livePlayers(ctx)
	if err != nil {
		return GameState{}, err
	}
	rules, err := o.ledger.ActiveRules(ctx)
	if err != nil {
		return GameState{}, ledgerErr("getActiveRules", err)
	}
	pool, err := o.ledger.PrizePool(ctx)
	if err != nil {
		return GameState{}, ledgerErr("prizePool", err)
	}

	st.Players = players
	st.ActiveRules = rules
	if st.ActiveRules == nil {
		st.ActiveRules = []ledger.ActiveRule{}
	}
	st.PrizePool = pool.String()
	return st, nil
}

// StateForAgent is State seen from wallet: its own standing, the other live
// players and what each of them played against it so far.
func (o *Orchestrator) StateForAgent(ctx context.Context, wallet string) (AgentView, error) {
	if !common.IsHexAddress(wallet) {
		return AgentView{}, fmt.Errorf("%w: %q", ErrInvalidWallet, wallet)
	}
	if err := o.waitReady(ctx); err != nil {
		return AgentView{}, err
	}

	var (
		view    AgentView
		history [][]ledger.CombatResult
	)
	if err := o.do(ctx, func(s *state) {
		view = AgentView{
			Phase:          s.phase,
			Round:          s.round,
			CommitDeadline: toMs(s.commitDeadline),
			RevealDeadline: toMs(s.revealDeadline),
		}
		// Rounds are append-only.
		history = s.history[:len(s.history):len(s.history)]
	}); err != nil {
		return AgentView{}, err
	}

	players, err := o.livePlayers(ctx)
	if err != nil {
		return AgentView{}, err
	}
	rules, err := o.ledger.ActiveRules(ctx)
	if err != nil {
		return AgentView{}, ledgerErr("getActiveRules", err)
	}
	pool, err := o.ledger.PrizePool(ctx)
	if err != nil {
		return AgentView{}, ledgerErr("prizePool", err)
	}

	view.Opponents = []ledger.PlayerInfo{}
	for i := range players {
		if ledger.SameAddress(players[i].Address, wallet) {
			you := players[i]
			view.You = &you
			continue
		}
		view.Opponents = append(view.Opponents, players[i])
	}
	view.ActiveRules = FormatRules(rules)
	view.PrizePool = pool.String()
	view.OpponentHistory = opponentHistory(history, wallet, view.Opponents)
	return view, nil
}

// opponentHistory collects, per opponent, the actions that opponent took in
// combats against wallet, oldest first.
func opponentHistory(history [][]ledger.CombatResult, wallet string, opponents []ledger.PlayerInfo) map[string][]ledger.Action {
	out := make(map[string][]ledger.Action, len(opponents))
	for _, opp := range opponents {
		actions := []ledger.Action{}
		for _, round := range history {
			for _, r := range round {
				if !r.Involves(wallet) || !r.Involves(opp.Address) {
					continue
				}
				if ledger.SameAddress(r.PlayerA, opp.Address) {
					actions = append(actions, r.ActionA)
				} else {
					actions = append(actions, r.ActionB)
				}
			}
		}
		out[opp.Address] = actions
	}
	return out
}

// livePlayers reads every alive player's standing from the ledger.
func (o *Orchestrator) livePlayers(ctx context.Context) ([]ledger.PlayerInfo, error) {
	alive, err := o.ledger.AlivePlayers(ctx)
	if err != nil {
		return nil, ledgerErr("getAlivePlayers", err)
	}
	out := make([]ledger.PlayerInfo, 0, len(alive))
	for _, addr := range alive {
		info, err := o.ledger.PlayerInfo(ctx, addr)
		if err != nil {
			return nil, ledgerErr("getPlayerInfo", err)
		}
		out = append(out, info)
	}
	return out, nil
}
