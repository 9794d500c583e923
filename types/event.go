package types

import "time"

// CallEvent is published after every committed call transition.
type CallEvent struct {
	CallID             string       `msgpack:"call_id"`
	State              CallState    `msgpack:"state"`
	BlindID            string       `msgpack:"blind_id"`
	VolunteerID        *string      `msgpack:"volunteer_id"`
	TargetVolunteerIDs []string     `msgpack:"target_volunteer_ids"`
	Settings           CallSettings `msgpack:"settings"`
	ActorID            string       `msgpack:"actor_id"`
	OccurredAt         time.Time    `msgpack:"occurred_at"`
}

func NewCallEvent(call Call, actorID string, at time.Time) CallEvent {
	return CallEvent{
		CallID:             call.ID,
		State:              call.State,
		BlindID:            call.Users.BlindID,
		VolunteerID:        call.Users.VolunteerID,
		TargetVolunteerIDs: call.TargetVolunteerIDs,
		Settings:           call.Settings,
		ActorID:            actorID,
		OccurredAt:         at,
	}
}
