// Package memstore implements the durable and shared call stores in
// memory. It backs tests and single-process development runs.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/firgia/soca/cursor"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
)

var (
	errUserNotFound = errs.NewNotFoundError("user not found")
	errCallNotFound = errs.NewNotFoundError("call not found")
)

type userCallKey struct {
	userID string
	callID string
}

// Durable mirrors the cockroach users and user_calls tables.
type Durable struct {
	mu        sync.Mutex
	profiles  map[string]types.Profile
	userCalls map[userCallKey]types.Call
}

func NewDurable() *Durable {
	return &Durable{
		profiles:  map[string]types.Profile{},
		userCalls: map[userCallKey]types.Call{},
	}
}

func (d *Durable) UpsertProfile(_ context.Context, in types.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.profiles[in.ID]; ok {
		in.TotalCalls = prev.TotalCalls
		in.CallYears = prev.CallYears
		in.CreatedAt = prev.CreatedAt
	} else {
		in.CreatedAt = time.Now().UTC()
	}
	in.Languages = slices.Clone(in.Languages)
	d.profiles[in.ID] = in
	return nil
}

func (d *Durable) Profile(_ context.Context, userID string) (types.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[userID]
	if !ok {
		return types.Profile{}, errUserNotFound
	}
	return p, nil
}

func (d *Durable) Profiles(_ context.Context, ids []string) ([]types.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []types.Profile
	for _, userID := range ids {
		if p, ok := d.profiles[userID]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b types.Profile) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (d *Durable) AvailableVolunteers(_ context.Context, in types.ListAvailableVolunteers) ([]types.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []types.Profile
	for _, p := range d.profiles {
		if p.Type != types.UserTypeVolunteer || !p.CanReceiveCalls || p.Disabled || p.ID == in.ExcludeUserID {
			continue
		}
		if !overlaps(p.Languages, in.Languages) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b types.Profile) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, s := range a {
		if slices.Contains(b, s) {
			return true
		}
	}
	return false
}

func (d *Durable) SetCallAvailability(_ context.Context, ids []string, available bool) ([]types.AvailabilityResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]types.AvailabilityResult, len(ids))
	for i, userID := range ids {
		out[i].UserID = userID
		p, ok := d.profiles[userID]
		if !ok {
			out[i].Err = errUserNotFound
			continue
		}
		p.CanReceiveCalls = available
		d.profiles[userID] = p
	}
	return out, nil
}

func (d *Durable) RecordCallCreated(_ context.Context, userID string, createdAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[userID]
	if !ok {
		return errUserNotFound
	}

	p.TotalCalls++
	year := strconv.Itoa(createdAt.UTC().Year())
	if !slices.Contains(p.CallYears, year) {
		p.CallYears = append(slices.Clone(p.CallYears), year)
	}
	d.profiles[userID] = p
	return nil
}

func (d *Durable) PutUserCall(_ context.Context, userID string, call types.Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := userCallKey{userID, call.ID}
	if prev, ok := d.userCalls[k]; ok && prev.State.Terminal() {
		return nil
	}

	d.userCalls[k] = cloneCall(call)
	return nil
}

func (d *Durable) UserCall(_ context.Context, userID, callID string) (types.Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	call, ok := d.userCalls[userCallKey{userID, callID}]
	if !ok {
		return types.Call{}, errCallNotFound
	}
	return cloneCall(call), nil
}

func (d *Durable) UpdateUserCall(_ context.Context, userID, callID string, patch types.CallPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := userCallKey{userID, callID}
	call, ok := d.userCalls[k]
	if !ok {
		return errCallNotFound
	}

	// Candidate lists only shrink.
	if patch.TargetVolunteerIDs != nil && len(*patch.TargetVolunteerIDs) >= len(call.TargetVolunteerIDs) {
		patch.TargetVolunteerIDs = nil
	}

	if patch.State != nil && call.State.Terminal() && !patch.State.Terminal() {
		patch.State = nil
	}

	call.Apply(patch)
	d.userCalls[k] = call
	return nil
}

func (d *Durable) CallHistory(_ context.Context, in types.ListCallHistory) (types.Page[types.CallHistoryItem], error) {
	var out types.Page[types.CallHistoryItem]

	var after *cursor.Cursor[time.Time]
	if in.After != nil {
		c, err := cursor.Decode[time.Time](*in.After)
		if err != nil {
			return out, err
		}
		after = &c
	}

	d.mu.Lock()
	var calls []types.Call
	for k, call := range d.userCalls {
		if k.userID == in.UserID() {
			calls = append(calls, call)
		}
	}
	profiles := make(map[string]types.Profile, len(d.profiles))
	for userID, p := range d.profiles {
		profiles[userID] = p
	}
	d.mu.Unlock()

	slices.SortFunc(calls, func(a, b types.Call) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	limit := int(in.Limit())
	for _, call := range calls {
		if after != nil && !olderThan(call, *after) {
			continue
		}

		if len(out.Items) == limit {
			out.PageInfo.HasNextPage = true
			break
		}

		item := types.CallHistoryItem{
			ID:        call.ID,
			State:     call.State,
			Role:      call.Role,
			CreatedAt: call.CreatedAt,
			EndedAt:   call.EndedAt,
		}
		if remoteID := call.RemoteUserID(in.UserID()); remoteID != nil {
			if p, ok := profiles[*remoteID]; ok {
				u := p.User
				item.RemoteUser = &u
			}
		}
		item.SetDuration()
		out.Items = append(out.Items, item)
	}

	out.PageInfo.EndCursor = types.CallHistory(out.Items).EndCursor()
	return out, nil
}

func olderThan(call types.Call, c cursor.Cursor[time.Time]) bool {
	if !call.CreatedAt.Equal(c.Value) {
		return call.CreatedAt.Before(c.Value)
	}
	return call.ID < c.ID
}

func (d *Durable) CallCreationTimes(_ context.Context, userID string, from, to time.Time) ([]time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []time.Time
	for k, call := range d.userCalls {
		if k.userID != userID {
			continue
		}
		if call.CreatedAt.Before(from) || !call.CreatedAt.Before(to) {
			continue
		}
		out = append(out, call.CreatedAt)
	}
	slices.SortFunc(out, func(a, b time.Time) int {
		return a.Compare(b)
	})
	return out, nil
}

// Shared mirrors the Redis call hashes.
type Shared struct {
	mu    sync.Mutex
	calls map[string]types.Call
}

func NewShared() *Shared {
	return &Shared{
		calls: map[string]types.Call{},
	}
}

func (s *Shared) CreateCall(_ context.Context, call types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[call.ID]; ok {
		return errs.NewAlreadyExistsError("id", "call already exists")
	}
	s.calls[call.ID] = cloneCall(call)
	return nil
}

func (s *Shared) Call(_ context.Context, callID string) (types.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return types.Call{}, errCallNotFound
	}
	return cloneCall(call), nil
}

func (s *Shared) UpdateCall(_ context.Context, callID string, patch types.CallPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return errCallNotFound
	}
	call.Apply(patch)
	s.calls[callID] = call
	return nil
}

func (s *Shared) CompareAndUpdateCall(_ context.Context, callID string, expected types.CallState, patch types.CallPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return false, errCallNotFound
	}
	if call.State != expected {
		return false, nil
	}
	call.Apply(patch)
	s.calls[callID] = call
	return true, nil
}

func (s *Shared) RemoveCandidate(_ context.Context, callID, volunteerID string, endedAt time.Time) (types.CandidateRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return types.CandidateRemoval{}, errCallNotFound
	}

	out := types.CandidateRemoval{
		State:              call.State,
		TargetVolunteerIDs: slices.Clone(call.TargetVolunteerIDs),
	}
	if call.State != types.CallStateWaiting || !call.IsTarget(volunteerID) {
		return out, nil
	}

	call.TargetVolunteerIDs = types.RemoveTarget(call.TargetVolunteerIDs, volunteerID)
	if len(call.TargetVolunteerIDs) == 0 {
		call.State = types.CallStateEndedWithUnanswered
		t := endedAt
		call.EndedAt = &t
	}
	s.calls[callID] = call

	out.Removed = true
	out.State = call.State
	out.TargetVolunteerIDs = slices.Clone(call.TargetVolunteerIDs)
	return out, nil
}

func cloneCall(c types.Call) types.Call {
	c.TargetVolunteerIDs = slices.Clone(c.TargetVolunteerIDs)
	if c.TargetVolunteerIDs == nil {
		c.TargetVolunteerIDs = []string{}
	}
	if c.Users.VolunteerID != nil {
		v := *c.Users.VolunteerID
		c.Users.VolunteerID = &v
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		c.EndedAt = &t
	}
	return c
}
