package game

import (
	"context"
	"sync"
)

// Directory mirrors the participant registry so that registrations made
// before a restart survive it.
type Directory interface {
	Save(ctx context.Context, p Participant) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]Participant, error)
	Clear(ctx context.Context) error
}

// persistParticipant writes p, dropping the replaced ids, unless the registry
// was cleared after p was admitted. epoch is state.epoch at admission.
func (o *Orchestrator) persistParticipant(ctx context.Context, epoch uint64, p Participant, replaced []string) {
	o.dirMu.Lock()
	defer o.dirMu.Unlock()

	if epoch < o.dirEpoch {
		o.log.Info("registry cleared before the registration was persisted", "agent", p.ID)
		return
	}
	for _, id := range replaced {
		if err := o.directory.Delete(ctx, id); err != nil {
			o.log.Warn("directory delete", "agent", id, "err", err)
		}
	}
	if err := o.directory.Save(ctx, p); err != nil {
		o.log.Warn("directory save", "agent", p.ID, "err", err)
	}
}

// clearDirectory empties the directory for the registry generation epoch.
func (o *Orchestrator) clearDirectory(ctx context.Context, epoch uint64) {
	o.dirMu.Lock()
	defer o.dirMu.Unlock()

	o.dirEpoch = max(o.dirEpoch, epoch)
	if err := o.directory.Clear(ctx); err != nil {
		o.log.Warn("clear participant directory", "err", err)
	}
}

type MemoryDirectory struct {
	mu sync.Mutex
	m  map[string]Participant
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		m: make(map[string]Participant),
	}
}

func (d *MemoryDirectory) Save(ctx context.Context, p Participant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[p.ID] = p
	return nil
}

func (d *MemoryDirectory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, id)
	return nil
}

func (d *MemoryDirectory) Load(ctx context.Context) ([]Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Participant, 0, len(d.m))
	for _, p := range d.m {
		out = append(out, p)
	}
	return out, nil
}

func (d *MemoryDirectory) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[string]Participant)
	return nil
}
