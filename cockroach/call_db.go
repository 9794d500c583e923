package cockroach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firgia/soca/cursor"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
	"github.com/jackc/pgx/v5"
)

var userCallColumns = [...]string{
	"user_calls.call_id",
	"user_calls.blind_id",
	"user_calls.volunteer_id",
	"user_calls.target_volunteer_ids",
	"user_calls.rtc_channel_id",
	"user_calls.role",
	"user_calls.state",
	"user_calls.enable_flashlight",
	"user_calls.enable_flip",
	"user_calls.created_at",
	"user_calls.ended_at",
}

var userCallColumnsStr = strings.Join(userCallColumns[:], ", ")

type userCallRow struct {
	CallID             string          `db:"call_id"`
	BlindID            string          `db:"blind_id"`
	VolunteerID        *string         `db:"volunteer_id"`
	TargetVolunteerIDs []string        `db:"target_volunteer_ids"`
	RTCChannelID       string          `db:"rtc_channel_id"`
	Role               types.CallRole  `db:"role"`
	State              types.CallState `db:"state"`
	EnableFlashlight   bool            `db:"enable_flashlight"`
	EnableFlip         bool            `db:"enable_flip"`
	CreatedAt          time.Time       `db:"created_at"`
	EndedAt            *time.Time      `db:"ended_at"`
}

func (r userCallRow) call() types.Call {
	targets := r.TargetVolunteerIDs
	if targets == nil {
		targets = []string{}
	}
	return types.Call{
		ID:                 r.CallID,
		TargetVolunteerIDs: targets,
		RTCChannelID:       r.RTCChannelID,
		Settings: types.CallSettings{
			EnableFlashlight: r.EnableFlashlight,
			EnableFlip:       r.EnableFlip,
		},
		Users: types.CallUsers{
			BlindID:     r.BlindID,
			VolunteerID: r.VolunteerID,
		},
		Role:      r.Role,
		State:     r.State,
		CreatedAt: r.CreatedAt,
		EndedAt:   r.EndedAt,
	}
}

// PutUserCall stores the full copy of call owned by userID, replacing any
// previous copy that has not ended yet.
func (c *Cockroach) PutUserCall(ctx context.Context, userID string, call types.Call) error {
	const q = `
		INSERT INTO user_calls (
			user_id, call_id, blind_id, volunteer_id, target_volunteer_ids,
			rtc_channel_id, role, state, enable_flashlight, enable_flip,
			created_at, ended_at, updated_at
		)
		VALUES (
			@user_id, @call_id, @blind_id, @volunteer_id, @target_volunteer_ids,
			@rtc_channel_id, @role, @state, @enable_flashlight, @enable_flip,
			@created_at, @ended_at, now()
		)
		ON CONFLICT (user_id, call_id) DO UPDATE SET
			blind_id = excluded.blind_id,
			volunteer_id = excluded.volunteer_id,
			target_volunteer_ids = excluded.target_volunteer_ids,
			rtc_channel_id = excluded.rtc_channel_id,
			role = excluded.role,
			state = excluded.state,
			enable_flashlight = excluded.enable_flashlight,
			enable_flip = excluded.enable_flip,
			created_at = excluded.created_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
		WHERE user_calls.state NOT LIKE 'ended%'
	`

	targets := call.TargetVolunteerIDs
	if targets == nil {
		targets = []string{}
	}

	_, err := c.pool.Exec(ctx, q, pgx.StrictNamedArgs{
		"user_id":              userID,
		"call_id":              call.ID,
		"blind_id":             call.Users.BlindID,
		"volunteer_id":         call.Users.VolunteerID,
		"target_volunteer_ids": targets,
		"rtc_channel_id":       call.RTCChannelID,
		"role":                 call.Role,
		"state":                call.State,
		"enable_flashlight":    call.Settings.EnableFlashlight,
		"enable_flip":          call.Settings.EnableFlip,
		"created_at":           call.CreatedAt,
		"ended_at":             call.EndedAt,
	})
	if err != nil {
		return fmt.Errorf("sql upsert user call: %w", err)
	}

	return nil
}

func (c *Cockroach) UserCall(ctx context.Context, userID, callID string) (types.Call, error) {
	var out types.Call

	query := `
		SELECT ` + userCallColumnsStr + `
		FROM user_calls
		WHERE user_calls.user_id = @user_id AND user_calls.call_id = @call_id
	`

	rows, err := c.pool.Query(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
		"call_id": callID,
	})
	if err != nil {
		return out, fmt.Errorf("sql select user call: %w", err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[userCallRow])
	if isNotFound(err) {
		return out, errs.NewNotFoundError("call not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql collect selected user call: %w", err)
	}

	return row.call(), nil
}

// UpdateUserCall applies patch to the copy of the call owned by userID.
// The candidate list is only ever replaced by a shorter one and an ended
// state is never replaced by a live one, so writes landing out of order
// can not undo each other.
func (c *Cockroach) UpdateUserCall(ctx context.Context, userID, callID string, patch types.CallPatch) error {
	if patch.IsZero() {
		return nil
	}

	args := pgx.StrictNamedArgs{
		"user_id": userID,
		"call_id": callID,
	}
	sets := []string{"updated_at = now()"}

	if patch.State != nil {
		// ended copies stay ended
		sets = append(sets, `state = CASE
			WHEN user_calls.state LIKE 'ended%' AND @state::VARCHAR NOT LIKE 'ended%' THEN user_calls.state
			ELSE @state::VARCHAR
		END`)
		args["state"] = *patch.State
	}

	if patch.VolunteerID != nil {
		sets = append(sets, "volunteer_id = @volunteer_id")
		args["volunteer_id"] = *patch.VolunteerID
	}

	if patch.TargetVolunteerIDs != nil {
		sets = append(sets, `target_volunteer_ids = CASE
			WHEN cardinality(@target_volunteer_ids::VARCHAR[]) < cardinality(target_volunteer_ids) THEN @target_volunteer_ids::VARCHAR[]
			ELSE target_volunteer_ids
		END`)
		targets := *patch.TargetVolunteerIDs
		if targets == nil {
			targets = []string{}
		}
		args["target_volunteer_ids"] = targets
	}

	if patch.EnableFlashlight != nil {
		sets = append(sets, "enable_flashlight = @enable_flashlight")
		args["enable_flashlight"] = *patch.EnableFlashlight
	}

	if patch.EnableFlip != nil {
		sets = append(sets, "enable_flip = @enable_flip")
		args["enable_flip"] = *patch.EnableFlip
	}

	if patch.EndedAt != nil {
		sets = append(sets, "ended_at = @ended_at")
		args["ended_at"] = *patch.EndedAt
	}

	query := `
		UPDATE user_calls SET ` + strings.Join(sets, ", ") + `
		WHERE user_id = @user_id AND call_id = @call_id
	`

	tag, err := c.pool.Exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("sql update user call: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errs.NewNotFoundError("call not found")
	}

	return nil
}

type callHistoryRow struct {
	userCallRow
	RemoteUser *types.User `db:"remote_user"`
}

// CallHistory lists the calls owned by the user, newest first.
func (c *Cockroach) CallHistory(ctx context.Context, in types.ListCallHistory) (types.Page[types.CallHistoryItem], error) {
	var out types.Page[types.CallHistoryItem]

	filters := []string{"user_calls.user_id = @user_id"}
	args := pgx.StrictNamedArgs{
		"user_id": in.UserID(),
		"limit":   in.Limit() + 1,
	}

	if in.After != nil {
		after, err := cursor.Decode[time.Time](*in.After)
		if err != nil {
			return out, err
		}

		filters = append(filters, "(user_calls.created_at, user_calls.call_id) < (@after_created_at, @after_call_id)")
		args["after_created_at"] = after.Value
		args["after_call_id"] = after.ID
	}

	query := `
		SELECT
			` + userCallColumnsStr + `,
			CASE WHEN remote.id IS NULL THEN NULL ELSE json_build_object(
				'id', remote.id,
				'name', remote.name,
				'avatar_url', remote.avatar_url,
				'type', remote.type,
				'gender', remote.gender,
				'date_of_birth', remote.date_of_birth
			) END AS remote_user
		FROM user_calls
		LEFT JOIN users AS remote ON remote.id = CASE
			WHEN user_calls.blind_id = user_calls.user_id THEN user_calls.volunteer_id
			ELSE user_calls.blind_id
		END
		` + where(filters) + `
		ORDER BY user_calls.created_at DESC, user_calls.call_id DESC
		LIMIT @limit
	`

	rows, err := c.pool.Query(ctx, query, args)
	if err != nil {
		return out, fmt.Errorf("sql select call history: %w", err)
	}

	history, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[callHistoryRow])
	if err != nil {
		return out, fmt.Errorf("sql collect call history: %w", err)
	}

	limit := int(in.Limit())
	out.PageInfo.HasNextPage = len(history) > limit
	if out.PageInfo.HasNextPage {
		history = history[:limit]
	}

	out.Items = make([]types.CallHistoryItem, 0, len(history))
	for _, row := range history {
		item := types.CallHistoryItem{
			ID:         row.CallID,
			State:      row.State,
			Role:       row.Role,
			CreatedAt:  row.CreatedAt,
			EndedAt:    row.EndedAt,
			RemoteUser: row.RemoteUser,
		}
		item.SetDuration()
		out.Items = append(out.Items, item)
	}

	out.PageInfo.EndCursor = types.CallHistory(out.Items).EndCursor()

	return out, nil
}

// CallCreationTimes returns created_at of every call owned by the user
// within [from, to).
func (c *Cockroach) CallCreationTimes(ctx context.Context, userID string, from, to time.Time) ([]time.Time, error) {
	const q = `
		SELECT created_at FROM user_calls
		WHERE user_id = @user_id AND created_at >= @from AND created_at < @to
		ORDER BY created_at
	`

	rows, err := c.pool.Query(ctx, q, pgx.StrictNamedArgs{
		"user_id": userID,
		"from":    from,
		"to":      to,
	})
	if err != nil {
		return nil, fmt.Errorf("sql select call creation times: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("sql collect call creation times: %w", err)
	}

	return out, nil
}
