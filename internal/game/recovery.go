package game

import (
	"context"
	"fmt"

	"example.com/arbiter/internal/ledger"
)

// A full forced cycle is LOBBY, COMMIT, RULES, ENDED, LOBBY.
const maxRecoverySteps = 8

// recoverAtBoot reconciles the ledger with the empty local state. Failures
// are logged and leave the process running in a degraded state.
func (o *Orchestrator) recoverAtBoot(ctx context.Context) {
	clean, err := o.driveToIdle(ctx)
	if err != nil {
		o.log.Error("boot recovery failed; ledger may need manual intervention", "err", err)
		return
	}
	if !clean {
		o.resetLocal(ctx)
		o.log.Info("boot recovery finished; ledger back in lobby")
		return
	}

	participants, err := o.directory.Load(ctx)
	if err != nil {
		o.log.Warn("load participant directory", "err", err)
		return
	}
	_ = o.do(ctx, func(s *state) {
		for _, p := range participants {
			s.participants[p.ID] = p
		}
	})
	o.log.Info("ledger clean at boot", "participants", len(participants))
}

// driveToIdle forces the ledger forward until it is an empty lobby. clean
// reports whether it already was one.
func (o *Orchestrator) driveToIdle(ctx context.Context) (clean bool, err error) {
	for step := 0; step < maxRecoverySteps; step++ {
		phase, err := o.ledger.Phase(ctx)
		if err != nil {
			return false, ledgerErr("currentPhase", err)
		}
		log := o.log.With("ledgerPhase", phase.String(), "step", step)

		switch phase {
		case ledger.PhaseLobby:
			count, err := o.ledger.PlayerCount(ctx)
			if err != nil {
				return false, ledgerErr("getPlayerCount", err)
			}
			if count == 0 {
				return step == 0, nil
			}
			log.Warn("lobby has leftover players; forcing a one-round cycle", "players", count)
			if err := o.ledger.StartGame(ctx); err != nil {
				return false, ledgerErr("startGame", err)
			}

		case ledger.PhaseCommit, ledger.PhaseReveal:
			log.Warn("round left open; resolving it")
			if err := o.closeRound(ctx); err != nil {
				return false, err
			}

		case ledger.PhaseRules:
			alive, err := o.ledger.AlivePlayers(ctx)
			if err != nil {
				return false, ledgerErr("getAlivePlayers", err)
			}
			var (
				winners []string
				shares  []uint64
			)
			if len(alive) > 0 {
				winners, shares = []string{alive[0]}, []uint64{totalBps}
			}
			log.Warn("game left unsettled; paying out", "winners", winners)
			if err := o.ledger.EndGame(ctx, winners, shares); err != nil {
				return false, ledgerErr("endGame", err)
			}

		case ledger.PhaseEnded:
			if err := o.ledger.NewGame(ctx); err != nil {
				return false, ledgerErr("newGame", err)
			}

		default:
			return false, fmt.Errorf("%w: unknown ledger phase %d", ErrLedgerCallFailed, phase)
		}
	}
	return false, fmt.Errorf("%w: ledger not in lobby after %d recovery steps", ErrLedgerCallFailed, maxRecoverySteps)
}

// closeRound resolves the ledger's current round if one is in COMMIT or
// REVEAL. A round that was never started gets a short throwaway window first.
func (o *Orchestrator) closeRound(ctx context.Context) error {
	phase, err := o.ledger.Phase(ctx)
	if err != nil {
		return ledgerErr("currentPhase", err)
	}
	if phase != ledger.PhaseCommit && phase != ledger.PhaseReveal {
		return nil
	}

	deadline, err := o.ledger.RevealDeadline(ctx)
	if err != nil {
		return ledgerErr("revealDeadline", err)
	}
	if deadline.IsZero() {
		if err := o.ledger.StartRound(ctx, o.cfg.RecoveryWindow, o.cfg.RecoveryWindow); err != nil {
			return ledgerErr("startRound", err)
		}
	}
	if err := o.awaitRevealDeadline(ctx); err != nil {
		return err
	}
	if _, err := o.ledger.ResolveRound(ctx); err != nil {
		return ledgerErr("resolveRound", err)
	}
	return nil
}

// resetLocal zeroes local state and the participant directory.
func (o *Orchestrator) resetLocal(ctx context.Context) {
	var epoch uint64
	_ = o.do(ctx, func(s *state) {
		s.clear()
		epoch = s.epoch
	})
	o.clearDirectory(ctx, epoch)
}
