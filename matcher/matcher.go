package matcher

import (
	"context"
	"fmt"

	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
)

var ErrNoVolunteers = errs.NewUnavailableError("no volunteers available")

type VolunteerFinder interface {
	AvailableVolunteers(ctx context.Context, in types.ListAvailableVolunteers) ([]types.Profile, error)
}

// Matcher picks the volunteers a requester's call is offered to.
// Order is whatever the finder returns; there is no ranking.
type Matcher struct {
	finder VolunteerFinder
}

func New(finder VolunteerFinder) *Matcher {
	return &Matcher{finder: finder}
}

func (m *Matcher) Match(ctx context.Context, requester types.Profile) ([]types.Profile, error) {
	if len(requester.Languages) == 0 {
		return nil, ErrNoVolunteers
	}

	found, err := m.finder.AvailableVolunteers(ctx, types.ListAvailableVolunteers{
		Languages:     requester.Languages,
		ExcludeUserID: requester.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("find available volunteers: %w", err)
	}

	seen := make(map[string]struct{}, len(found))
	out := make([]types.Profile, 0, len(found))
	for _, p := range found {
		if p.ID == requester.ID || p.Type != types.UserTypeVolunteer {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, ErrNoVolunteers
	}

	return out, nil
}
