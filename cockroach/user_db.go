package cockroach

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
	"github.com/jackc/pgx/v5"
)

var profileColumns = [...]string{
	"users.id",
	"users.name",
	"users.avatar_url",
	"users.type",
	"users.gender",
	"users.date_of_birth",
	"users.languages",
	"users.disabled",
	"users.can_receive_calls",
	"users.device_platform",
	"users.device_player_id",
	"users.device_voip_player_id",
	"users.device_web_push",
	"users.total_calls",
	"users.call_years",
	"users.created_at",
}

var profileColumnsStr = strings.Join(profileColumns[:], ", ")

// UpsertProfile writes the profile fields owned by the account service.
// Call bookkeeping columns are left untouched on conflict.
func (c *Cockroach) UpsertProfile(ctx context.Context, in types.Profile) error {
	const q = `
		INSERT INTO users (
			id, name, avatar_url, type, gender, date_of_birth, languages,
			disabled, can_receive_calls, device_platform, device_player_id,
			device_voip_player_id, device_web_push
		)
		VALUES (
			@user_id, @name, @avatar_url, @type, @gender, @date_of_birth, @languages,
			@disabled, @can_receive_calls, @device_platform, @device_player_id,
			@device_voip_player_id, @device_web_push
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			type = EXCLUDED.type,
			gender = EXCLUDED.gender,
			date_of_birth = EXCLUDED.date_of_birth,
			languages = EXCLUDED.languages,
			disabled = EXCLUDED.disabled,
			can_receive_calls = EXCLUDED.can_receive_calls,
			device_platform = EXCLUDED.device_platform,
			device_player_id = EXCLUDED.device_player_id,
			device_voip_player_id = EXCLUDED.device_voip_player_id,
			device_web_push = EXCLUDED.device_web_push,
			updated_at = now()
	`

	languages := in.Languages
	if languages == nil {
		languages = []string{}
	}

	_, err := c.pool.Exec(ctx, q, pgx.StrictNamedArgs{
		"user_id":               in.ID,
		"name":                  in.Name,
		"avatar_url":            in.AvatarURL,
		"type":                  in.Type,
		"gender":                in.Gender,
		"date_of_birth":         in.DateOfBirth,
		"languages":             languages,
		"disabled":              in.Disabled,
		"can_receive_calls":     in.CanReceiveCalls,
		"device_platform":       in.Platform,
		"device_player_id":      in.PlayerID,
		"device_voip_player_id": in.VoIPPlayerID,
		"device_web_push":       in.WebPush,
	})
	if err != nil {
		return fmt.Errorf("sql upsert profile: %w", err)
	}

	return nil
}

func (c *Cockroach) Profile(ctx context.Context, userID string) (types.Profile, error) {
	var out types.Profile

	query := `SELECT ` + profileColumnsStr + ` FROM users WHERE users.id = @user_id`

	rows, err := c.pool.Query(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
	})
	if err != nil {
		return out, fmt.Errorf("sql select profile: %w", err)
	}

	out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Profile])
	if isNotFound(err) {
		return out, errs.NewNotFoundError("user not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql collect selected profile: %w", err)
	}

	return out, nil
}

// Profiles returns the profiles found for ids. Missing ids are skipped.
func (c *Cockroach) Profiles(ctx context.Context, ids []string) ([]types.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + profileColumnsStr + ` FROM users WHERE users.id = ANY(@user_ids) ORDER BY users.id`

	rows, err := c.pool.Query(ctx, query, pgx.StrictNamedArgs{
		"user_ids": ids,
	})
	if err != nil {
		return nil, fmt.Errorf("sql select profiles: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Profile])
	if err != nil {
		return nil, fmt.Errorf("sql collect selected profiles: %w", err)
	}

	return out, nil
}

func (c *Cockroach) AvailableVolunteers(ctx context.Context, in types.ListAvailableVolunteers) ([]types.Profile, error) {
	filters := []string{
		"users.type = 'volunteer'",
		"users.can_receive_calls",
		"NOT users.disabled",
		"users.languages && @languages",
	}
	args := pgx.StrictNamedArgs{
		"languages": in.Languages,
	}

	if in.ExcludeUserID != "" {
		filters = append(filters, "users.id <> @exclude_user_id")
		args["exclude_user_id"] = in.ExcludeUserID
	}

	query := `SELECT ` + profileColumnsStr + ` FROM users` + where(filters) + `ORDER BY users.created_at, users.id`

	rows, err := c.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("sql select available volunteers: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Profile])
	if err != nil {
		return nil, fmt.Errorf("sql collect available volunteers: %w", err)
	}

	return out, nil
}

// SetCallAvailability flips can_receive_calls for every id in a single
// batch. Each id gets its own result so callers can report partial
// failures.
func (c *Cockroach) SetCallAvailability(ctx context.Context, ids []string, available bool) ([]types.AvailabilityResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const q = `
		UPDATE users SET can_receive_calls = @available, updated_at = now()
		WHERE id = @user_id
	`

	batch := &pgx.Batch{}
	for _, userID := range ids {
		batch.Queue(q, pgx.StrictNamedArgs{
			"available": available,
			"user_id":   userID,
		})
	}

	br := c.pool.SendBatch(ctx, batch)

	out := make([]types.AvailabilityResult, len(ids))
	for i, userID := range ids {
		out[i].UserID = userID

		tag, err := br.Exec()
		if err != nil {
			out[i].Err = fmt.Errorf("sql update call availability: %w", err)
			continue
		}

		if tag.RowsAffected() == 0 {
			out[i].Err = errs.NewNotFoundError("user not found")
		}
	}

	if err := br.Close(); err != nil {
		return out, fmt.Errorf("sql close availability batch: %w", err)
	}

	return out, nil
}

// RecordCallCreated keeps the history counters of a user in sync with a
// newly created durable call copy.
func (c *Cockroach) RecordCallCreated(ctx context.Context, userID string, createdAt time.Time) error {
	const q = `
		UPDATE users SET
			total_calls = total_calls + 1,
			call_years = CASE
				WHEN @year::VARCHAR = ANY(call_years) THEN call_years
				ELSE array_append(call_years, @year::VARCHAR)
			END,
			updated_at = now()
		WHERE id = @user_id
	`

	tag, err := c.pool.Exec(ctx, q, pgx.StrictNamedArgs{
		"user_id": userID,
		"year":    strconv.Itoa(createdAt.UTC().Year()),
	})
	if err != nil {
		return fmt.Errorf("sql update call history counters: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errs.NewNotFoundError("user not found")
	}

	return nil
}
