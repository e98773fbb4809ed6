package game

import (
	"cmp"
	"context"
	"slices"
	"time"

	"example.com/arbiter/internal/notify"
	"example.com/arbiter/internal/store"
)

const totalBps = 10000

// computePayout gives the top standing everything except the platform fee.
// The shares always sum to 10000 bps; no standings means no payout at all.
func computePayout(standings []notify.Standing, feeAddress string, feeBps uint64) ([]string, []uint64) {
	if len(standings) == 0 {
		return nil, nil
	}
	winner := standings[0].Address
	if feeAddress == "" {
		return []string{winner}, []uint64{totalBps}
	}
	feeBps = min(feeBps, totalBps)
	return []string{winner, feeAddress}, []uint64{totalBps - feeBps, feeBps}
}

// standings lists the live players, best first.
func (o *Orchestrator) standings(ctx context.Context) ([]notify.Standing, error) {
	players, err := o.livePlayers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]notify.Standing, len(players))
	for i, p := range players {
		out[i] = notify.Standing{Address: p.Address, Points: p.Points}
	}
	slices.SortStableFunc(out, func(a, b notify.Standing) int {
		return cmp.Compare(b.Points, a.Points)
	})
	return out, nil
}

// settle ends the game on the ledger and returns the orchestrator to IDLE.
// It runs after every round loop, including aborted ones.
func (o *Orchestrator) settle(ctx context.Context) {
	var (
		gameID    string
		startedAt time.Time
		rounds    int
		roundOpen bool
	)
	_ = o.do(ctx, func(s *state) {
		s.phase = PhaseEnded
		s.running = false
		s.settling = true
		gameID, startedAt, rounds, roundOpen = s.gameID, s.startedAt, s.round, s.roundOpen
	})
	defer func() {
		_ = o.do(ctx, func(s *state) { s.settling = false })
	}()

	log := o.log.With("game", gameID)

	// A completed loop leaves the ledger advanced with no round open.
	if roundOpen {
		if err := o.closeRound(ctx); err != nil {
			log.Error("cannot close the open round; ledger needs a reset", "err", err)
			return
		}
	}

	standings, err := o.standings(ctx)
	if err != nil {
		log.Error("read final standings", "err", err)
		return
	}
	pool, err := o.ledger.PrizePool(ctx)
	if err != nil {
		log.Error("read prize pool", "err", err)
		return
	}

	winners, shares := computePayout(standings, o.cfg.PlatformFeeAddress, o.cfg.PlatformFeeBps)
	if len(winners) == 0 {
		log.Warn("no alive players to distribute prizes to")
	}
	if err := o.ledger.EndGame(ctx, winners, shares); err != nil {
		log.Error("end game on ledger", "err", ledgerErr("endGame", err))
		return
	}

	payouts := make([]notify.Share, len(winners))
	for i := range winners {
		payouts[i] = notify.Share{Address: winners[i], ShareBps: shares[i]}
	}
	for i, s := range standings {
		log.Info("final standing", "rank", i+1, "wallet", s.Address, "points", s.Points)
	}
	o.announce(ctx, notify.EventGameOver, notify.GameOver{Standings: standings, Payouts: payouts})

	o.archiveGame(ctx, store.GameRecord{
		ID:        gameID,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Rounds:    rounds,
		PrizePool: pool.String(),
		Standings: toStoreStandings(standings),
		Payouts:   toStorePayouts(payouts),
	})

	if err := o.ledger.NewGame(ctx); err != nil {
		log.Error("reset ledger for a new game", "err", ledgerErr("newGame", err))
		return
	}
	var epoch uint64
	_ = o.do(ctx, func(s *state) {
		s.clear()
		epoch = s.epoch
	})
	o.clearDirectory(ctx, epoch)
	log.Info("game settled; ledger back in lobby")
}

func (o *Orchestrator) archiveGame(ctx context.Context, rec store.GameRecord) {
	if o.archive == nil || rec.ID == "" {
		return
	}
	if err := o.archive.RecordGame(ctx, rec); err != nil {
		o.log.Warn("archive game", "game", rec.ID, "err", err)
	}
}

func toStoreStandings(in []notify.Standing) []store.Standing {
	out := make([]store.Standing, len(in))
	for i, s := range in {
		out[i] = store.Standing{Address: s.Address, Points: s.Points}
	}
	return out
}

func toStorePayouts(in []notify.Share) []store.Payout {
	out := make([]store.Payout, len(in))
	for i, s := range in {
		out[i] = store.Payout{Address: s.Address, ShareBps: s.ShareBps}
	}
	return out
}
