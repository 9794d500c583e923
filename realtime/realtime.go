// Package realtime keeps the shared copy of every call in Redis. Each
// call is a hash under "calls:{id}" that all parties read for live
// signaling.
package realtime

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "calls:"

const (
	fieldID                 = "id"
	fieldBlindID            = "blind_id"
	fieldVolunteerID        = "volunteer_id"
	fieldTargetVolunteerIDs = "target_volunteer_ids"
	fieldRTCChannelID       = "rtc_channel_id"
	fieldRole               = "role"
	fieldState              = "state"
	fieldEnableFlashlight   = "enable_flashlight"
	fieldEnableFlip         = "enable_flip"
	fieldCreatedAt          = "created_at"
	fieldEndedAt            = "ended_at"
)

var (
	//go:embed scripts/create.lua
	createSrc    string
	createScript = redis.NewScript(createSrc)

	//go:embed scripts/update.lua
	updateSrc    string
	updateScript = redis.NewScript(updateSrc)

	//go:embed scripts/compare_and_update.lua
	compareAndUpdateSrc    string
	compareAndUpdateScript = redis.NewScript(compareAndUpdateSrc)

	//go:embed scripts/remove_candidate.lua
	removeCandidateSrc    string
	removeCandidateScript = redis.NewScript(removeCandidateSrc)
)

var errCallNotFound = errs.NewNotFoundError("call not found")

type Store struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func key(callID string) string {
	return keyPrefix + callID
}

func (s *Store) CreateCall(ctx context.Context, call types.Call) error {
	created, err := createScript.Run(ctx, s.rdb, []string{key(call.ID)}, encodeCall(call)...).Int()
	if err != nil {
		return fmt.Errorf("redis create call: %w", err)
	}

	if created == 0 {
		return errs.NewAlreadyExistsError("id", "call already exists")
	}

	return nil
}

func (s *Store) Call(ctx context.Context, callID string) (types.Call, error) {
	m, err := s.rdb.HGetAll(ctx, key(callID)).Result()
	if err != nil {
		return types.Call{}, fmt.Errorf("redis get call: %w", err)
	}

	if len(m) == 0 {
		return types.Call{}, errCallNotFound
	}

	call, err := decodeCall(m)
	if err != nil {
		return types.Call{}, fmt.Errorf("decode call %s: %w", callID, err)
	}

	return call, nil
}

// UpdateCall writes only the fields present in patch.
func (s *Store) UpdateCall(ctx context.Context, callID string, patch types.CallPatch) error {
	if patch.IsZero() {
		return nil
	}

	updated, err := updateScript.Run(ctx, s.rdb, []string{key(callID)}, encodePatch(patch)...).Int()
	if err != nil {
		return fmt.Errorf("redis update call: %w", err)
	}

	if updated == 0 {
		return errCallNotFound
	}

	return nil
}

// CompareAndUpdateCall applies patch only while the call is still in the
// expected state. It reports whether the patch was applied.
func (s *Store) CompareAndUpdateCall(ctx context.Context, callID string, expected types.CallState, patch types.CallPatch) (bool, error) {
	args := append([]any{string(expected)}, encodePatch(patch)...)

	res, err := compareAndUpdateScript.Run(ctx, s.rdb, []string{key(callID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare and update call: %w", err)
	}

	switch res {
	case -1:
		return false, errCallNotFound
	case 0:
		return false, nil
	}

	return true, nil
}

// RemoveCandidate atomically takes volunteerID out of the candidate set
// of a waiting call. Removing the last candidate ends the call as
// unanswered at endedAt.
func (s *Store) RemoveCandidate(ctx context.Context, callID, volunteerID string, endedAt time.Time) (types.CandidateRemoval, error) {
	var out types.CandidateRemoval

	res, err := removeCandidateScript.Run(ctx, s.rdb, []string{key(callID)},
		volunteerID,
		formatTime(endedAt),
		string(types.CallStateWaiting),
		string(types.CallStateEndedWithUnanswered),
	).Slice()
	if err != nil {
		return out, fmt.Errorf("redis remove candidate: %w", err)
	}

	if len(res) != 3 {
		return out, fmt.Errorf("redis remove candidate: unexpected reply %v", res)
	}

	code, _ := res[0].(int64)
	if code == -1 {
		return out, errCallNotFound
	}

	state, _ := res[1].(string)
	rawTargets, _ := res[2].(string)

	out.Removed = code == 1
	out.State = types.CallState(state)
	out.TargetVolunteerIDs, err = decodeTargets(rawTargets)
	if err != nil {
		return out, fmt.Errorf("decode candidates of call %s: %w", callID, err)
	}

	return out, nil
}

func encodeCall(c types.Call) []any {
	targets := c.TargetVolunteerIDs
	if targets == nil {
		targets = []string{}
	}

	return []any{
		fieldID, c.ID,
		fieldBlindID, c.Users.BlindID,
		fieldVolunteerID, derefString(c.Users.VolunteerID),
		fieldTargetVolunteerIDs, encodeTargets(targets),
		fieldRTCChannelID, c.RTCChannelID,
		fieldRole, string(c.Role),
		fieldState, string(c.State),
		fieldEnableFlashlight, strconv.FormatBool(c.Settings.EnableFlashlight),
		fieldEnableFlip, strconv.FormatBool(c.Settings.EnableFlip),
		fieldCreatedAt, formatTime(c.CreatedAt),
		fieldEndedAt, formatOptionalTime(c.EndedAt),
	}
}

func encodePatch(p types.CallPatch) []any {
	var out []any
	if p.State != nil {
		out = append(out, fieldState, string(*p.State))
	}
	if p.VolunteerID != nil {
		out = append(out, fieldVolunteerID, *p.VolunteerID)
	}
	if p.TargetVolunteerIDs != nil {
		out = append(out, fieldTargetVolunteerIDs, encodeTargets(*p.TargetVolunteerIDs))
	}
	if p.EnableFlashlight != nil {
		out = append(out, fieldEnableFlashlight, strconv.FormatBool(*p.EnableFlashlight))
	}
	if p.EnableFlip != nil {
		out = append(out, fieldEnableFlip, strconv.FormatBool(*p.EnableFlip))
	}
	if p.EndedAt != nil {
		out = append(out, fieldEndedAt, formatTime(*p.EndedAt))
	}
	return out
}

func decodeCall(m map[string]string) (types.Call, error) {
	var (
		out types.Call
		err error
	)

	out.ID = m[fieldID]
	if out.ID == "" {
		return out, errors.New("missing id")
	}

	out.Users.BlindID = m[fieldBlindID]
	if v := m[fieldVolunteerID]; v != "" {
		out.Users.VolunteerID = &v
	}

	if out.TargetVolunteerIDs, err = decodeTargets(m[fieldTargetVolunteerIDs]); err != nil {
		return out, err
	}

	out.RTCChannelID = m[fieldRTCChannelID]
	out.Role = types.CallRole(m[fieldRole])
	out.State = types.CallState(m[fieldState])
	out.Settings.EnableFlashlight = m[fieldEnableFlashlight] == "true"
	out.Settings.EnableFlip = m[fieldEnableFlip] == "true"

	if out.CreatedAt, err = time.Parse(time.RFC3339Nano, m[fieldCreatedAt]); err != nil {
		return out, fmt.Errorf("parse created_at: %w", err)
	}

	if v := m[fieldEndedAt]; v != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return out, fmt.Errorf("parse ended_at: %w", err)
		}
		out.EndedAt = &endedAt
	}

	return out, nil
}

func encodeTargets(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeTargets(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		// An empty Lua table encodes as an object.
		if s == "{}" {
			return []string{}, nil
		}
		return nil, fmt.Errorf("parse target_volunteer_ids: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
