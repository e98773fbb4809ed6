package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"example.com/arbiter/internal/ledger"
	"example.com/arbiter/internal/notify"
	"example.com/arbiter/internal/verify"
)

// RegisterAgent adds or replaces the participant stored under reg.AgentID.
// A participant synthesized earlier from an on-chain registration of the same
// wallet is replaced, so its webhook becomes deliverable.
func (o *Orchestrator) RegisterAgent(ctx context.Context, reg Registration) (Participant, error) {
	if err := o.waitReady(ctx); err != nil {
		return Participant{}, err
	}

	reg.AgentID = strings.TrimSpace(reg.AgentID)
	reg.Wallet = strings.TrimSpace(reg.Wallet)
	reg.Handle = strings.TrimPrefix(strings.TrimSpace(reg.Handle), "@")
	reg.WebhookURL = strings.TrimSpace(reg.WebhookURL)

	if reg.AgentID == "" {
		return Participant{}, fmt.Errorf("%w: agentId is required", ErrInvalidRegistration)
	}
	if !common.IsHexAddress(reg.Wallet) {
		return Participant{}, fmt.Errorf("%w: %q", ErrInvalidWallet, reg.Wallet)
	}
	if reg.WebhookURL != "" {
		if err := ValidateWebhookTarget(reg.WebhookURL); err != nil {
			return Participant{}, err
		}
	}

	p := Participant{
		ID:           reg.AgentID,
		Wallet:       reg.Wallet,
		Handle:       reg.Handle,
		WebhookURL:   reg.WebhookURL,
		WebhookToken: reg.WebhookToken,
		RegisteredAt: time.Now().UTC(),
	}
	if reg.Handle != "" && o.verifier != nil {
		karma, err := o.verifyProfile(ctx, reg.Handle)
		if err != nil {
			return Participant{}, err
		}
		p.Karma = karma
	}

	var (
		replaced []string
		epoch    uint64
	)
	if err := o.do(ctx, func(s *state) {
		for id, old := range s.participants {
			if id != p.ID && old.Synthesized && ledger.SameAddress(old.Wallet, p.Wallet) {
				delete(s.participants, id)
				replaced = append(replaced, id)
			}
		}
		s.participants[p.ID] = p
		epoch = s.epoch
	}); err != nil {
		return Participant{}, err
	}
	o.persistParticipant(ctx, epoch, p, replaced)

	o.log.Info("agent registered", "agent", p.ID, "wallet", p.Wallet, "handle", p.Handle, "karma", p.Karma, "webhook", p.WebhookURL != "")
	o.announceAsync(notify.EventParticipantJoined, notify.ParticipantJoined{AgentID: p.ID, Wallet: p.Wallet, Handle: p.Handle})
	o.checkAutoStart(ctx)
	return p, nil
}

func (o *Orchestrator) verifyProfile(ctx context.Context, handle string) (int, error) {
	profile, err := o.verifier.Profile(ctx, handle)
	switch {
	case errors.Is(err, verify.ErrProfileNotFound):
		return 0, fmt.Errorf("%w: @%s does not exist", ErrUnverifiedProfile, handle)
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
	case !profile.IsClaimed:
		return 0, fmt.Errorf("%w: @%s is not claimed", ErrUnverifiedProfile, handle)
	}
	return profile.Karma, nil
}

// onLedgerRegistration handles a PlayerRegistered event on the loop.
func (o *Orchestrator) onLedgerRegistration(s *state, wallet string) {
	if s.busy() || s.phase != PhaseIdle {
		o.log.Info("stale registration event ignored", "wallet", wallet, "phase", s.phase)
		return
	}

	known := false
	for _, p := range s.participants {
		if ledger.SameAddress(p.Wallet, wallet) {
			known = true
			break
		}
	}
	var synthesized *Participant
	if !known {
		p := Participant{
			ID:           strings.ToLower(wallet),
			Wallet:       wallet,
			Synthesized:  true,
			RegisteredAt: time.Now().UTC(),
		}
		s.participants[p.ID] = p
		synthesized = &p
		o.log.Info("on-chain registration without api registration", "wallet", wallet)
	}

	epoch := s.epoch
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if synthesized != nil {
			o.persistParticipant(o.base, epoch, *synthesized, nil)
		}
		o.checkAutoStart(o.base)
	}()
}
