package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartGame starts the ledger game and launches the round loop in the
// background. Failures of the loop itself never reach the caller; they end
// the game instead.
func (o *Orchestrator) StartGame(ctx context.Context) error {
	if err := o.waitReady(ctx); err != nil {
		return err
	}

	if err := o.update(ctx, func(s *state) error {
		switch {
		case s.closing:
			return ErrStopped
		case s.busy():
			return ErrAlreadyRunning
		case s.phase != PhaseIdle:
			return fmt.Errorf("%w: phase is %s, reset required", ErrAlreadyRunning, s.phase)
		}
		s.starting = true
		return nil
	}); err != nil {
		return err
	}

	count, err := o.startOnLedger(ctx)
	if err != nil {
		_ = o.do(o.base, func(s *state) { s.starting = false })
		return err
	}

	var gameID string
	_ = o.do(o.base, func(s *state) {
		s.starting = false
		s.running = true
		s.round = 1
		s.gameID = uuid.NewString()
		s.startedAt = time.Now()
		gameID = s.gameID
		o.stopAutoStart(s)
	})
	o.log.Info("game started", "game", gameID, "players", count)

	o.bg.Add(1)
	go o.runGame(o.base, count)
	return nil
}

func (o *Orchestrator) startOnLedger(ctx context.Context) (int, error) {
	count, err := o.ledger.PlayerCount(ctx)
	if err != nil {
		return 0, ledgerErr("getPlayerCount", err)
	}
	if count < o.cfg.MinPlayers {
		return count, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPlayers, count, o.cfg.MinPlayers)
	}
	// The transaction must not be abandoned with the request.
	if err := o.ledger.StartGame(o.base); err != nil {
		return count, ledgerErr("startGame", err)
	}
	return count, nil
}

// Reset drives the ledger back to an empty lobby and clears local state. It
// is refused while a game is running.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.waitReady(ctx); err != nil {
		return err
	}
	if err := o.update(ctx, func(s *state) error {
		switch {
		case s.closing:
			return ErrStopped
		case s.busy():
			return ErrAlreadyRunning
		}
		s.resetting = true
		o.stopAutoStart(s)
		return nil
	}); err != nil {
		return err
	}
	defer func() {
		_ = o.do(o.base, func(s *state) { s.resetting = false })
	}()

	o.log.Warn("operator reset requested")
	if _, err := o.driveToIdle(o.base); err != nil {
		return err
	}
	o.resetLocal(o.base)
	return nil
}
