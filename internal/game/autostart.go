package game

import (
	"context"
	"errors"
	"time"
)

// checkAutoStart arms the auto-start timer when the lobby is full enough.
// It reads the ledger, so it must not run on the scheduling loop.
func (o *Orchestrator) checkAutoStart(ctx context.Context) {
	count, err := o.ledger.PlayerCount(ctx)
	if err != nil {
		o.log.Warn("auto-start check: read player count", "err", ledgerErr("getPlayerCount", err))
		return
	}
	_ = o.do(ctx, func(s *state) { o.armAutoStart(s, count) })
}

func (o *Orchestrator) armAutoStart(s *state, count int) {
	if s.closing || s.busy() || s.phase != PhaseIdle || s.autoStart != nil || count < o.cfg.MinPlayers {
		return
	}
	s.autoStartGen++
	gen := s.autoStartGen
	s.autoStart = time.AfterFunc(o.cfg.AutoStartDelay, func() {
		select {
		case o.autoStartC <- gen:
		case <-o.stopped:
		}
	})
	o.log.Info("auto-start scheduled", "in", o.cfg.AutoStartDelay, "players", count)
}

func (o *Orchestrator) stopAutoStart(s *state) {
	if s.autoStart != nil {
		s.autoStart.Stop()
		s.autoStart = nil
	}
}

// onAutoStartFired handles a fire of timer generation gen. Fires of a timer
// that was stopped or replaced are ignored.
func (o *Orchestrator) onAutoStartFired(s *state, gen uint64) {
	if s.autoStart == nil || gen != s.autoStartGen {
		o.log.Debug("stale auto-start fire ignored", "gen", gen)
		return
	}
	s.autoStart = nil
	if s.closing {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.autoStartGame(o.base)
	}()
}

// autoStartGame re-checks eligibility, which may have changed during the
// delay, and starts the game if it still holds.
func (o *Orchestrator) autoStartGame(ctx context.Context) {
	count, err := o.ledger.PlayerCount(ctx)
	if err != nil {
		o.log.Warn("auto-start: read player count", "err", ledgerErr("getPlayerCount", err))
		return
	}
	var busy bool
	if err := o.do(ctx, func(s *state) { busy = s.busy() || s.phase != PhaseIdle }); err != nil {
		return
	}
	if busy || count < o.cfg.MinPlayers {
		o.log.Debug("auto-start skipped", "players", count, "busy", busy)
		return
	}

	switch err := o.StartGame(ctx); {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrInsufficientPlayers):
		o.log.Debug("auto-start skipped", "err", err)
	default:
		o.log.Error("auto-start failed", "err", err)
	}
}
