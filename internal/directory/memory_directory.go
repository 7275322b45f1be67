package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

type memoryEntry struct {
	profile   domain.Participant
	updatedAt time.Time
}

// MemoryDirectory is an in-process Directory for the memory store driver
// and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]memoryEntry
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]memoryEntry)}
}

func (d *MemoryDirectory) Lookup(_ context.Context, ids ...string) (map[string]domain.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]domain.Participant, len(ids))
	for _, id := range ids {
		if e, ok := d.profiles[id]; ok {
			out[id] = e.profile
		}
	}
	return out, nil
}

func (d *MemoryDirectory) Apply(_ context.Context, event *domain.ProfileEvent) error {
	if strings.TrimSpace(event.UserID) == "" {
		return domain.ErrParticipantNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.profiles[event.UserID]; ok && e.updatedAt.After(event.UpdatedAt) {
		return nil
	}
	if event.Deleted {
		delete(d.profiles, event.UserID)
		return nil
	}
	d.profiles[event.UserID] = memoryEntry{
		profile:   domain.Participant{ID: event.UserID, Username: event.Username, Picture: event.Picture},
		updatedAt: event.UpdatedAt,
	}
	return nil
}
