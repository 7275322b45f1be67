package directory

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// Directory resolves participant ids to public profiles. It is fed by
// profile events from the user service and never written by chat itself.
type Directory interface {
	// Lookup returns the known profiles among ids. Unknown ids are absent
	// from the result rather than an error.
	Lookup(ctx context.Context, ids ...string) (map[string]domain.Participant, error)
	// Apply stores event unless a newer event for the same user was
	// already applied.
	Apply(ctx context.Context, event *domain.ProfileEvent) error
}

// Resolve returns the profile of id, or a bare profile carrying only the id
// when the directory does not know the user.
func Resolve(profiles map[string]domain.Participant, id string) domain.Participant {
	if p, ok := profiles[id]; ok {
		return p
	}
	return domain.Participant{ID: id}
}
