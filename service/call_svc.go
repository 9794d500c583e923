package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/id"
	"github.com/firgia/soca/metrics"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/store"
	"github.com/firgia/soca/types"
)

// A call moves waiting -> ongoing -> ended at most, so a handful of
// compare-and-set attempts always reaches a terminal state.
const maxEndAttempts = 3

// CreateCall offers a new call from the logged in blind user to every
// matching volunteer.
func (svc *Service) CreateCall(ctx context.Context) (out types.Call, err error) {
	defer func() { svc.observe(opCreate, err) }()

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	requester, err := svc.Profiles.Profile(ctx, uid)
	if err != nil {
		return out, err
	}

	if requester.Type != types.UserTypeBlind {
		return out, errOnlyBlindCreate
	}

	candidates, err := svc.Matcher.Match(ctx, requester)
	if err != nil {
		if errs.Is(err, errs.KindUnavailable) {
			metrics.NoVolunteersAvailable.Inc()
		}
		return out, err
	}

	targetIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		targetIDs = append(targetIDs, c.ID)
	}

	now := svc.now().UTC()
	call := types.Call{
		ID:                 id.Generate(),
		TargetVolunteerIDs: targetIDs,
		RTCChannelID:       id.Channel(),
		Users:              types.CallUsers{BlindID: uid},
		Role:               types.CallRoleCaller,
		State:              types.CallStateWaiting,
		CreatedAt:          now,
	}

	if err := svc.Calls.CreateBoth(ctx, call); err != nil {
		svc.background("abandon_call", func(ctx context.Context) error {
			return svc.abandon(ctx, call)
		})
		return out, err
	}

	metrics.CallsCreated.Inc()
	metrics.CallTransitions.WithLabelValues(string(call.State)).Inc()

	svc.sideEffects(ctx,
		task{name: "notify_incoming", fn: func(ctx context.Context) error {
			return svc.Notifier.NotifyIncoming(ctx, candidates, requester.User, call.ID)
		}},
		svc.publishTask(call, uid, now),
	)
	svc.background("record_call_created", func(ctx context.Context) error {
		return svc.Profiles.RecordCallCreated(ctx, uid, now)
	})

	return call, nil
}

// abandon ends whatever copy of a half created call made it to a store.
func (svc *Service) abandon(ctx context.Context, call types.Call) error {
	patch := types.CallPatch{
		State:   ptr.From(types.CallStateEndedWithCanceled),
		EndedAt: ptr.From(svc.now().UTC()),
	}

	var failed []error
	for _, scope := range []store.Scope{store.Requester(call.Users.BlindID), store.SharedScope()} {
		if err := svc.Calls.Write(ctx, call.ID, patch, scope); err != nil && !errs.IsNotFound(err) {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// AnswerCall assigns the logged in volunteer to a waiting call. When two
// volunteers answer at once only the first compare-and-set wins; the
// other gets permission denied.
func (svc *Service) AnswerCall(ctx context.Context, in types.AnswerCall) (out types.Call, err error) {
	defer func() { svc.observe(opAnswer, err) }()

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, err := svc.sharedCall(ctx, in.CallID, in.BlindID)
	if err != nil {
		return out, err
	}

	if err := authorize(call, uid, opAnswer); err != nil {
		return out, err
	}

	// re-read before commit
	call, err = svc.sharedCall(ctx, in.CallID, in.BlindID)
	if err != nil {
		return out, err
	}

	if err := authorize(call, uid, opAnswer); err != nil {
		if errors.Is(err, errCallNotWaiting) {
			metrics.AnswerConflicts.Inc()
		}
		return out, err
	}

	patch := types.CallPatch{
		State:       ptr.From(types.CallStateOngoing),
		VolunteerID: ptr.From(uid),
	}
	won, err := svc.Calls.CompareAndWrite(ctx, call.ID, types.CallStateWaiting, patch)
	if err != nil {
		return out, fmt.Errorf("commit answer: %w", err)
	}

	if !won {
		metrics.AnswerConflicts.Inc()
		return out, errCallNotWaiting
	}

	call.Apply(patch)
	metrics.CallTransitions.WithLabelValues(string(call.State)).Inc()

	svc.propagate(ctx,
		svc.writeTask(call.ID, patch, store.Requester(call.Users.BlindID)),
		svc.putTask(store.Responder(uid), call),
	)

	svc.sideEffects(ctx,
		svc.notifyMissedTask(call, types.RemoveTarget(call.TargetVolunteerIDs, uid)),
		svc.disableAvailabilityTask(call.ID, uid),
		svc.publishTask(call, uid, svc.now().UTC()),
	)
	svc.background("record_call_created", func(ctx context.Context) error {
		return svc.Profiles.RecordCallCreated(ctx, uid, call.CreatedAt)
	})

	out = call
	out.Role = types.CallRoleAnswerer
	return out, nil
}

// DeclineCall takes the logged in volunteer out of a waiting call. When
// the last candidate declines the call ends unanswered. The volunteer
// keeps its own copy ended as declined.
func (svc *Service) DeclineCall(ctx context.Context, in types.DeclineCall) (out types.Call, err error) {
	defer func() { svc.observe(opDecline, err) }()

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, err := svc.sharedCall(ctx, in.CallID, in.BlindID)
	if err != nil {
		return out, err
	}

	if err := authorize(call, uid, opDecline); err != nil {
		return out, err
	}

	now := svc.now().UTC()
	removal, err := svc.Calls.RemoveCandidate(ctx, call.ID, uid, now)
	if err != nil {
		return out, fmt.Errorf("remove candidate: %w", err)
	}

	call.State = removal.State
	call.TargetVolunteerIDs = removal.TargetVolunteerIDs

	if !removal.Removed {
		if err := authorize(call, uid, opDecline); err != nil {
			return out, err
		}
		return out, errNotTarget
	}

	requesterPatch := types.CallPatch{
		TargetVolunteerIDs: ptr.From(call.TargetVolunteerIDs),
	}
	if call.State == types.CallStateEndedWithUnanswered {
		call.EndedAt = ptr.From(now)
		requesterPatch.State = ptr.From(call.State)
		requesterPatch.EndedAt = ptr.From(now)
		metrics.CallTransitions.WithLabelValues(string(call.State)).Inc()
	}

	declined := call
	declined.Role = types.CallRoleAnswerer
	declined.State = types.CallStateEndedWithDeclined
	declined.EndedAt = ptr.From(now)

	svc.propagate(ctx,
		svc.writeTask(call.ID, requesterPatch, store.Requester(call.Users.BlindID)),
		svc.putTask(store.Responder(uid), declined),
	)

	svc.sideEffects(ctx, svc.publishTask(call, uid, now))
	svc.background("record_call_created", func(ctx context.Context) error {
		return svc.Profiles.RecordCallCreated(ctx, uid, call.CreatedAt)
	})

	return declined, nil
}

// EndCall ends a call. A waiting call can only be canceled by its
// caller; an ongoing one can be ended by either party. The response is
// the logged in user's own copy.
func (svc *Service) EndCall(ctx context.Context, in types.EndCall) (out types.Call, err error) {
	defer func() { svc.observe(opEnd, err) }()

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	var (
		call      types.Call
		from      types.CallState
		patch     types.CallPatch
		committed bool
	)
	for attempt := 0; attempt < maxEndAttempts && !committed; attempt++ {
		call, err = svc.sharedCall(ctx, in.CallID, "")
		if err != nil {
			return out, err
		}

		if err := authorize(call, uid, opEnd); err != nil {
			return out, err
		}

		from = call.State
		patch = types.CallPatch{
			State:   ptr.From(endState(from)),
			EndedAt: ptr.From(svc.now().UTC()),
		}
		committed, err = svc.Calls.CompareAndWrite(ctx, call.ID, from, patch)
		if err != nil {
			return out, fmt.Errorf("commit end: %w", err)
		}
	}

	if !committed {
		return out, fmt.Errorf("end call %s: state kept changing", in.CallID)
	}

	call.Apply(patch)
	metrics.CallTransitions.WithLabelValues(string(call.State)).Inc()

	writes := []task{svc.writeTask(call.ID, patch, store.Requester(call.Users.BlindID))}
	if call.Users.VolunteerID != nil {
		// the answer may not have stored the responder copy yet
		ended := call
		ended.State = types.CallStateEnded
		writes = append(writes, svc.putTask(store.Responder(*call.Users.VolunteerID), ended))
	}
	svc.propagate(ctx, writes...)

	tasks := []task{svc.publishTask(call, uid, *patch.EndedAt)}
	switch from {
	case types.CallStateWaiting:
		tasks = append(tasks, svc.notifyMissedTask(call, call.TargetVolunteerIDs))
	case types.CallStateOngoing:
		if call.Users.VolunteerID != nil {
			responderID := *call.Users.VolunteerID
			tasks = append(tasks, task{name: "enable_availability", fn: func(ctx context.Context) error {
				return svc.Availability.SetAvailability(ctx, []string{responderID}, true)
			}})
		}
	}
	svc.sideEffects(ctx, tasks...)

	out = call
	out.Role = types.CallRoleCaller
	if call.IsVolunteer(uid) {
		out.Role = types.CallRoleAnswerer
		out.State = types.CallStateEnded
	}
	return out, nil
}

// UpdateCallSettings patches the settings of an ongoing call. Giving no
// setting is a successful no-op.
func (svc *Service) UpdateCallSettings(ctx context.Context, in types.UpdateCallSettings) (out types.Updated[types.CallSettingsUpdate], err error) {
	defer func() { svc.observe(opUpdateSettings, err) }()

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	out.ID = in.CallID

	if in.IsNoop() {
		out.Message = "nothing to update"
		return out, nil
	}

	call, err := svc.sharedCall(ctx, in.CallID, "")
	if err != nil {
		return out, err
	}

	if err := authorize(call, uid, opUpdateSettings); err != nil {
		return out, err
	}

	patch := in.Patch()
	ok, err = svc.Calls.CompareAndWrite(ctx, call.ID, types.CallStateOngoing, patch)
	if err != nil {
		return out, fmt.Errorf("commit settings: %w", err)
	}

	if !ok {
		return out, errCallNotOngoing
	}

	call.Apply(patch)

	writes := []task{svc.writeTask(call.ID, patch, store.Requester(call.Users.BlindID))}
	if call.Users.VolunteerID != nil {
		writes = append(writes, svc.writeTask(call.ID, patch, store.Responder(*call.Users.VolunteerID)))
	}
	svc.propagate(ctx, writes...)

	svc.sideEffects(ctx, svc.publishTask(call, uid, svc.now().UTC()))

	out.Message = "call settings updated"
	out.DataUpdated = &types.CallSettingsUpdate{
		EnableFlashlight: in.EnableFlashlight,
		EnableFlip:       in.EnableFlip,
	}
	return out, nil
}

// Call returns the logged in user's own copy of a call.
func (svc *Service) Call(ctx context.Context, in types.RetrieveCall) (types.Call, error) {
	var out types.Call

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	// durable copies are keyed by owner only
	return svc.Calls.Read(ctx, in.CallID, store.Requester(uid))
}

// sharedCall reads the shared copy. When blindID is given it must match
// the caller of the call.
func (svc *Service) sharedCall(ctx context.Context, callID, blindID string) (types.Call, error) {
	call, err := svc.Calls.Read(ctx, callID, store.SharedScope())
	if err != nil {
		return call, err
	}

	if blindID != "" && call.Users.BlindID != blindID {
		return types.Call{}, errCallNotFound
	}

	return call, nil
}

// propagate writes the remaining copies of a committed transition before
// the other side effects run. The transition already happened, so a
// failing write is reported and never returned.
func (svc *Service) propagate(ctx context.Context, writes ...task) {
	svc.sideEffects(ctx, writes...)
}

func (svc *Service) writeTask(callID string, patch types.CallPatch, scope store.Scope) task {
	return task{name: "write_" + scope.Kind.String() + "_copy", fn: func(ctx context.Context) error {
		return svc.Calls.Write(ctx, callID, patch, scope)
	}}
}

func (svc *Service) putTask(scope store.Scope, call types.Call) task {
	return task{name: "put_" + scope.Kind.String() + "_copy", fn: func(ctx context.Context) error {
		return svc.Calls.Put(ctx, scope, call)
	}}
}

// disableAvailabilityTask takes the answering volunteer out of matching.
// An end committing meanwhile may already have put it back, so the call
// is read again afterwards and the volunteer made available if it ended.
func (svc *Service) disableAvailabilityTask(callID, volunteerID string) task {
	return task{name: "disable_availability", fn: func(ctx context.Context) error {
		if err := svc.Availability.SetAvailability(ctx, []string{volunteerID}, false); err != nil {
			return err
		}

		call, err := svc.Calls.Read(ctx, callID, store.SharedScope())
		if err != nil {
			return fmt.Errorf("read call after disabling availability: %w", err)
		}

		if call.State.Terminal() {
			return svc.Availability.SetAvailability(ctx, []string{volunteerID}, true)
		}
		return nil
	}}
}

func (svc *Service) notifyMissedTask(call types.Call, ids []string) task {
	return task{name: "notify_missed", fn: func(ctx context.Context) error {
		if len(ids) == 0 {
			return nil
		}

		caller, err := svc.Profiles.Profile(ctx, call.Users.BlindID)
		if err != nil {
			return fmt.Errorf("find caller: %w", err)
		}

		return svc.Notifier.NotifyMissed(ctx, ids, caller.User, call.ID)
	}}
}

func (svc *Service) publishTask(call types.Call, actorID string, at time.Time) task {
	ev := types.NewCallEvent(call, actorID, at)
	return task{name: "publish_event", fn: func(ctx context.Context) error {
		if svc.Events == nil {
			return nil
		}
		return svc.Events.PublishCall(ctx, ev)
	}}
}

func (svc *Service) observe(op operation, err error) {
	if err == nil {
		return
	}

	kind, ok := errs.KindOf(err)
	if !ok {
		kind = "internal"
	}
	metrics.CallRejections.WithLabelValues(string(op), string(kind)).Inc()
}
