package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"example.com/arbiter/internal/ledger"
	"example.com/arbiter/internal/notify"
)

func ledgerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerCallFailed, op, err)
}

func (s *state) transition(to Phase) error {
	if !s.phase.CanTransition(to) {
		return fmt.Errorf("game: phase %s cannot follow %s", to, s.phase)
	}
	s.phase = to
	return nil
}

// runGame is the round goroutine. Whatever happens inside the loop, the game
// is settled afterwards.
func (o *Orchestrator) runGame(ctx context.Context, playerCount int) {
	defer o.bg.Done()

	if err := o.playRounds(ctx, playerCount); err != nil {
		o.log.Error("round loop aborted", "err", err)
	}
	o.settle(ctx)
}

func (o *Orchestrator) playRounds(ctx context.Context, playerCount int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round loop panic: %v", r)
		}
	}()

	pool, err := o.ledger.PrizePool(ctx)
	if err != nil {
		return ledgerErr("prizePool", err)
	}
	o.announce(ctx, notify.EventGameStarted, notify.GameStarted{PlayerCount: playerCount, PrizePool: pool.String()})

	prevAlive, err := o.ledger.AliveCount(ctx)
	if err != nil {
		return ledgerErr("getAliveCount", err)
	}

	for {
		var round int
		if err := o.do(ctx, func(s *state) { round = s.round }); err != nil {
			return err
		}

		if err := o.playRound(ctx, round, &prevAlive); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		alive, err := o.ledger.AliveCount(ctx)
		if err != nil {
			return ledgerErr("getAliveCount", err)
		}
		if alive <= 1 {
			o.log.Info("game over: one or fewer players alive", "round", round, "alive", alive)
			return nil
		}
		if round >= o.cfg.MaxRounds {
			o.log.Info("game over: round limit reached", "round", round)
			return nil
		}
		if err := o.do(ctx, func(s *state) { s.round++ }); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) playRound(ctx context.Context, round int, prevAlive *int) error {
	log := o.log.With("round", round)
	log.Info("round starting")

	if err := o.ledger.StartRound(ctx, o.cfg.CommitWindow, o.cfg.RevealWindow); err != nil {
		return ledgerErr("startRound", err)
	}

	var commitDeadline time.Time
	if err := o.update(ctx, func(s *state) error {
		if err := s.transition(PhaseCommit); err != nil {
			return err
		}
		s.roundOpen = true
		s.commitDeadline = time.Now().Add(o.cfg.CommitWindow)
		s.revealDeadline = time.Time{}
		commitDeadline = s.commitDeadline
		return nil
	}); err != nil {
		return err
	}

	players, err := o.livePlayers(ctx)
	if err != nil {
		return err
	}
	o.announce(ctx, notify.EventRoundStart, notify.RoundStart{
		Round:          round,
		CommitDeadline: toMs(commitDeadline),
		Players:        players,
	})
	if err := sleep(ctx, time.Until(commitDeadline)); err != nil {
		return err
	}

	var revealDeadline time.Time
	if err := o.update(ctx, func(s *state) error {
		if err := s.transition(PhaseReveal); err != nil {
			return err
		}
		s.revealDeadline = time.Now().Add(o.cfg.RevealWindow)
		revealDeadline = s.revealDeadline
		return nil
	}); err != nil {
		return err
	}
	o.announce(ctx, notify.EventRevealPhase, notify.RevealPhase{Round: round, RevealDeadline: toMs(revealDeadline)})
	if err := sleep(ctx, time.Until(revealDeadline)); err != nil {
		return err
	}
	if err := o.awaitRevealDeadline(ctx); err != nil {
		return err
	}

	results, err := o.ledger.ResolveRound(ctx)
	if err != nil {
		return ledgerErr("resolveRound", err)
	}
	if err := o.do(ctx, func(s *state) {
		s.roundOpen = false
		s.history = append(s.history, results)
	}); err != nil {
		return err
	}
	logResults(log, results)

	eliminated, err := o.eliminations(ctx, results, prevAlive)
	if err != nil {
		return err
	}
	if len(eliminated) > 0 {
		log.Info("players eliminated", "wallets", strings.Join(eliminated, ","))
	}

	players, err = o.livePlayers(ctx)
	if err != nil {
		return err
	}
	o.announce(ctx, notify.EventRoundResults, notify.RoundResults{
		Round:      round,
		Results:    results,
		Eliminated: eliminated,
		Players:    players,
	})

	if err := o.update(ctx, func(s *state) error { return s.transition(PhaseRules) }); err != nil {
		return err
	}
	rules, err := o.ledger.ActiveRules(ctx)
	if err != nil {
		return ledgerErr("getActiveRules", err)
	}
	rulesDeadline := time.Now().Add(o.cfg.RuleWindow)
	o.announce(ctx, notify.EventRulesPhase, notify.RulesPhase{
		Round:    round,
		Rules:    FormatRules(rules),
		Deadline: toMs(rulesDeadline),
	})
	if err := sleep(ctx, time.Until(rulesDeadline)); err != nil {
		return err
	}

	if err := o.ledger.AdvanceRound(ctx); err != nil {
		return ledgerErr("advanceRound", err)
	}
	log.Debug("round advanced")
	return nil
}

// update is do for ops that can fail.
func (o *Orchestrator) update(ctx context.Context, fn func(s *state) error) error {
	var opErr error
	if err := o.do(ctx, func(s *state) { opErr = fn(s) }); err != nil {
		return err
	}
	return opErr
}

// eliminations returns the wallets of the last round that are no longer
// alive. The lookup only happens when the alive count dropped.
func (o *Orchestrator) eliminations(ctx context.Context, results []ledger.CombatResult, prevAlive *int) ([]string, error) {
	alive, err := o.ledger.AliveCount(ctx)
	if err != nil {
		return nil, ledgerErr("getAliveCount", err)
	}
	if alive >= *prevAlive {
		return nil, nil
	}
	*prevAlive = alive

	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, r := range results {
		for _, wallet := range []string{r.PlayerA, r.PlayerB} {
			key := strings.ToLower(wallet)
			if wallet == "" || seen[key] {
				continue
			}
			seen[key] = true

			info, err := o.ledger.PlayerInfo(ctx, wallet)
			if err != nil {
				return nil, ledgerErr("getPlayerInfo", err)
			}
			if !info.Alive {
				out = append(out, wallet)
			}
		}
	}
	return out, nil
}

// awaitRevealDeadline polls the ledger clock until the ledger's own reveal
// deadline has passed. The local clock is not trusted for this.
func (o *Orchestrator) awaitRevealDeadline(ctx context.Context) error {
	deadline, err := o.ledger.RevealDeadline(ctx)
	if err != nil {
		return ledgerErr("revealDeadline", err)
	}

	for attempt := 1; attempt <= o.cfg.DeadlinePollAttempts; attempt++ {
		now, err := o.ledger.Now(ctx)
		if err != nil {
			return ledgerErr("now", err)
		}
		if now.After(deadline) {
			return nil
		}

		wait := min(o.cfg.DeadlinePollInterval, deadline.Sub(now)+time.Millisecond)
		o.log.Debug("ledger reveal deadline not reached", "attempt", attempt, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: deadline %s after %d attempts", ErrDeadlinePending, deadline.UTC().Format(time.RFC3339), o.cfg.DeadlinePollAttempts)
}

func logResults(log *slog.Logger, results []ledger.CombatResult) {
	for _, r := range results {
		winner := "DRAW"
		if r.Winner != "" {
			winner = r.Winner
		}
		log.Info("combat",
			"a", r.PlayerA, "actionA", r.ActionA.String(),
			"b", r.PlayerB, "actionB", r.ActionB.String(),
			"winner", winner, "points", r.PointsTransferred)
	}
}
