package types

import (
	"slices"
	"time"

	"github.com/firgia/soca/id"
	"github.com/firgia/soca/validator"
)

type CallState string

const (
	CallStateWaiting             CallState = "waiting"
	CallStateOngoing             CallState = "ongoing"
	CallStateEnded               CallState = "ended"
	CallStateEndedWithCanceled   CallState = "ended_with_canceled"
	CallStateEndedWithUnanswered CallState = "ended_with_unanswered"
	CallStateEndedWithDeclined   CallState = "ended_with_declined"
)

func (s CallState) Valid() bool {
	switch s {
	case CallStateWaiting,
		CallStateOngoing,
		CallStateEnded,
		CallStateEndedWithCanceled,
		CallStateEndedWithUnanswered,
		CallStateEndedWithDeclined:
		return true
	}
	return false
}

func (s CallState) Terminal() bool {
	return s.Valid() && s != CallStateWaiting && s != CallStateOngoing
}

type CallRole string

const (
	CallRoleCaller   CallRole = "caller"
	CallRoleAnswerer CallRole = "answerer"
)

type CallSettings struct {
	EnableFlashlight bool `json:"enable_flashlight" msgpack:"enable_flashlight"`
	EnableFlip       bool `json:"enable_flip" msgpack:"enable_flip"`
}

type CallUsers struct {
	BlindID     string  `json:"blind_id" msgpack:"blind_id"`
	VolunteerID *string `json:"volunteer_id" msgpack:"volunteer_id"`
}

// Call is one copy of a call record. Each party owns a durable copy and
// there is a single shared copy; Role tells them apart.
type Call struct {
	ID                 string       `json:"id"`
	TargetVolunteerIDs []string     `json:"target_volunteer_ids"`
	RTCChannelID       string       `json:"rtc_channel_id"`
	Settings           CallSettings `json:"settings"`
	Users              CallUsers    `json:"users"`
	Role               CallRole     `json:"role"`
	State              CallState    `json:"state"`
	CreatedAt          time.Time    `json:"created_at"`
	EndedAt            *time.Time   `json:"ended_at"`
}

func (c Call) IsTarget(userID string) bool {
	return slices.Contains(c.TargetVolunteerIDs, userID)
}

func (c Call) IsVolunteer(userID string) bool {
	return c.Users.VolunteerID != nil && *c.Users.VolunteerID == userID
}

func (c Call) IsParty(userID string) bool {
	return c.Users.BlindID == userID || c.IsVolunteer(userID)
}

// RemoteUserID is the id of the other party as seen by userID.
func (c Call) RemoteUserID(userID string) *string {
	if c.Users.BlindID == userID {
		return c.Users.VolunteerID
	}
	return &c.Users.BlindID
}

// Apply copies every present field of patch into c.
func (c *Call) Apply(patch CallPatch) {
	if patch.State != nil {
		c.State = *patch.State
	}
	if patch.VolunteerID != nil {
		v := *patch.VolunteerID
		c.Users.VolunteerID = &v
	}
	if patch.TargetVolunteerIDs != nil {
		c.TargetVolunteerIDs = slices.Clone(*patch.TargetVolunteerIDs)
	}
	if patch.EnableFlashlight != nil {
		c.Settings.EnableFlashlight = *patch.EnableFlashlight
	}
	if patch.EnableFlip != nil {
		c.Settings.EnableFlip = *patch.EnableFlip
	}
	if patch.EndedAt != nil {
		t := *patch.EndedAt
		c.EndedAt = &t
	}
}

// CallPatch is a partial update. Nil fields are left untouched.
type CallPatch struct {
	State              *CallState
	VolunteerID        *string
	TargetVolunteerIDs *[]string
	EnableFlashlight   *bool
	EnableFlip         *bool
	EndedAt            *time.Time
}

func (p CallPatch) IsZero() bool {
	return p.State == nil &&
		p.VolunteerID == nil &&
		p.TargetVolunteerIDs == nil &&
		p.EnableFlashlight == nil &&
		p.EnableFlip == nil &&
		p.EndedAt == nil
}

// RemoveTarget returns ids without userID, preserving order.
func RemoveTarget(ids []string, userID string) []string {
	out := make([]string, 0, len(ids))
	for _, target := range ids {
		if target != userID {
			out = append(out, target)
		}
	}
	return out
}

// CandidateRemoval is the outcome of atomically taking a volunteer out of
// a waiting call's candidate set.
type CandidateRemoval struct {
	Removed            bool
	State              CallState
	TargetVolunteerIDs []string
}

type AnswerCall struct {
	CallID  string `json:"-"`
	BlindID string `json:"blind_id"`
}

func (in *AnswerCall) Validate() error {
	return validateCallAndBlind(in.CallID, in.BlindID)
}

type DeclineCall struct {
	CallID  string `json:"-"`
	BlindID string `json:"blind_id"`
}

func (in *DeclineCall) Validate() error {
	return validateCallAndBlind(in.CallID, in.BlindID)
}

func validateCallAndBlind(callID, blindID string) error {
	v := validator.New()

	if callID == "" {
		v.AddError("call_id", "call_id is required")
	} else if !id.Valid(callID) {
		v.AddError("call_id", "call_id must be a valid ID")
	}

	v.Check(blindID != "", "blind_id", "blind_id is required")

	return v.AsError()
}

type EndCall struct {
	CallID string
}

func (in *EndCall) Validate() error {
	return validateCallID(in.CallID)
}

type RetrieveCall struct {
	CallID string
}

func (in *RetrieveCall) Validate() error {
	return validateCallID(in.CallID)
}

func validateCallID(callID string) error {
	v := validator.New()
	if callID == "" {
		v.AddError("call_id", "call_id is required")
	} else if !id.Valid(callID) {
		v.AddError("call_id", "call_id must be a valid ID")
	}
	return v.AsError()
}

type UpdateCallSettings struct {
	CallID           string `json:"-"`
	EnableFlashlight *bool  `json:"enable_flashlight"`
	EnableFlip       *bool  `json:"enable_flip"`
}

func (in *UpdateCallSettings) Validate() error {
	return validateCallID(in.CallID)
}

func (in UpdateCallSettings) IsNoop() bool {
	return in.EnableFlashlight == nil && in.EnableFlip == nil
}

func (in UpdateCallSettings) Patch() CallPatch {
	return CallPatch{
		EnableFlashlight: in.EnableFlashlight,
		EnableFlip:       in.EnableFlip,
	}
}

type CallSettingsUpdate struct {
	EnableFlashlight *bool `json:"enable_flashlight,omitempty"`
	EnableFlip       *bool `json:"enable_flip,omitempty"`
}
